package reading

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/niktheblak/ruuvitag-common/pkg/sensor"
	"github.com/spf13/afero"

	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

var ErrNoChannels = errors.New("no readable channels")

// IIO reads an environment sensor (BME280, SHT3x, ...) exposed through the
// Linux industrial I/O subsystem.
type IIO struct {
	Fs  afero.Fs
	Dir string
	now func() time.Time
}

func NewIIO(dir string) *IIO {
	return &IIO{
		Fs:  afero.NewOsFs(),
		Dir: dir,
	}
}

// channel scale converts the processed IIO value to the published unit
type channel struct {
	file  string
	scale float64
	set   func(d *sensor.Fields, v float64)
}

var channels = []channel{
	// milli degrees Celsius
	{"in_temp_input", 0.001, func(d *sensor.Fields, v float64) { d.Temperature = &v }},
	// milli percent
	{"in_humidityrelative_input", 0.001, func(d *sensor.Fields, v float64) { d.Humidity = &v }},
	// kPa to hPa
	{"in_pressure_input", 10, func(d *sensor.Fields, v float64) { d.Pressure = &v }},
}

// Fields reads every channel the device provides.
func (s *IIO) Fields(ctx context.Context) (sensor.Fields, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	d := sensor.Fields{Timestamp: now()}
	found := 0
	for _, c := range channels {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		data, err := afero.ReadFile(s.Fs, path.Join(s.Dir, c.file))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return d, err
		}
		raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			return d, fmt.Errorf("%s: %w", c.file, err)
		}
		c.set(&d, raw*c.scale)
		found++
	}
	if found == 0 {
		return d, fmt.Errorf("%w in %s", ErrNoChannels, s.Dir)
	}
	return d, nil
}

func (s *IIO) Read(ctx context.Context) ([]telemetry.Field, error) {
	d, err := s.Fields(ctx)
	if err != nil {
		return nil, err
	}
	return FromSensorFields(d), nil
}
