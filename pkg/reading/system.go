package reading

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

// System reports the health of the board itself: load average, memory use
// and uptime.
type System struct{}

func (System) Read(ctx context.Context) ([]telemetry.Field, error) {
	var (
		fields []telemetry.Field
		errs   []error
	)
	if avg, err := load.AvgWithContext(ctx); err == nil {
		fields = append(fields, telemetry.Field{Key: "load1", Value: avg.Load1})
	} else {
		errs = append(errs, err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fields = append(fields, telemetry.Field{Key: "mem_used_percent", Value: vm.UsedPercent})
	} else {
		errs = append(errs, err)
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		fields = append(fields, telemetry.Field{Key: "uptime", Value: float64(up)})
	} else {
		errs = append(errs, err)
	}
	if len(fields) == 0 {
		return nil, errors.Join(errs...)
	}
	return fields, nil
}
