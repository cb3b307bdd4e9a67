// Package indicator drives the status LED of the node.
package indicator

import (
	"context"
	"os"
	"time"

	"github.com/spf13/afero"
)

type Indicator interface {
	Set(on bool) error
}

// Nop is used when the LED is disabled
type Nop struct{}

func (Nop) Set(bool) error { return nil }

// SysfsLED writes the brightness attribute of a Linux LED class device,
// e.g. /sys/class/leds/led0/brightness.
type SysfsLED struct {
	Fs   afero.Fs
	Path string
}

func NewSysfsLED(path string) *SysfsLED {
	return &SysfsLED{
		Fs:   afero.NewOsFs(),
		Path: path,
	}
}

func (l *SysfsLED) Set(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	f, err := l.Fs.OpenFile(l.Path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Blink toggles ind n times and leaves it off.
func Blink(ctx context.Context, ind Indicator, n int, interval time.Duration) error {
	for i := 0; i < n; i++ {
		if err := ind.Set(true); err != nil {
			return err
		}
		werr := wait(ctx, interval)
		if err := ind.Set(false); err != nil {
			return err
		}
		if werr != nil {
			return nil
		}
		if i < n-1 && wait(ctx, interval) != nil {
			return nil
		}
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
