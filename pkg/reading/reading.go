// Package reading collects the values the node publishes each wake cycle.
package reading

import (
	"context"
	"errors"

	"github.com/niktheblak/ruuvitag-common/pkg/sensor"

	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

// Reader returns the fields of one measurement.
type Reader interface {
	Read(ctx context.Context) ([]telemetry.Field, error)
}

// Multi reads every reader in order. Fields of successful readers are
// returned together with the joined errors of the failed ones.
type Multi []Reader

func (m Multi) Read(ctx context.Context) ([]telemetry.Field, error) {
	var (
		fields []telemetry.Field
		errs   []error
	)
	for _, r := range m {
		fs, err := r.Read(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fields = append(fields, fs...)
	}
	return fields, errors.Join(errs...)
}

// FromSensorFields converts the populated values of an environment sensor
// reading into fields, in a fixed order.
func FromSensorFields(d sensor.Fields) []telemetry.Field {
	var fields []telemetry.Field
	add := func(key string, v *float64) {
		if v != nil {
			fields = append(fields, telemetry.Field{Key: key, Value: *v})
		}
	}
	add("temperature", d.Temperature)
	add("humidity", d.Humidity)
	add("pressure", d.Pressure)
	add("dew_point", d.DewPoint)
	add("battery_voltage", d.BatteryVoltage)
	return fields
}
