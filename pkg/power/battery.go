package power

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const DefaultCapacityPath = "/sys/class/power_supply/BAT0/capacity"

var ErrInvalidReading = errors.New("invalid battery reading")

// Battery reports the remaining charge in percent.
type Battery interface {
	Percentage(ctx context.Context) (int, error)
}

// SysfsBattery reads the capacity attribute of a Linux power supply.
type SysfsBattery struct {
	Fs   afero.Fs
	Path string
}

func NewSysfsBattery(path string) *SysfsBattery {
	if path == "" {
		path = DefaultCapacityPath
	}
	return &SysfsBattery{
		Fs:   afero.NewOsFs(),
		Path: path,
	}
}

func (b *SysfsBattery) Percentage(ctx context.Context) (int, error) {
	data, err := afero.ReadFile(b.Fs, b.Path)
	if err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	if pct < 0 || pct > 100 {
		return 0, fmt.Errorf("%w: %d%% out of range", ErrInvalidReading, pct)
	}
	return pct, nil
}
