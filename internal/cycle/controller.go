// Package cycle runs the wake cycle of the node: battery check, network
// bring-up, firmware update, measurement, publish and suspend.
package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/niktheblak/sensor-node/pkg/indicator"
	"github.com/niktheblak/sensor-node/pkg/network"
	"github.com/niktheblak/sensor-node/pkg/ota"
	"github.com/niktheblak/sensor-node/pkg/power"
	"github.com/niktheblak/sensor-node/pkg/reading"
	"github.com/niktheblak/sensor-node/pkg/suspend"
	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

// ErrRestarted is returned by Loop when a cycle handed over to a new image.
var ErrRestarted = errors.New("restarted into new firmware")

type Connector interface {
	Connect(ctx context.Context) *network.Session
}

type Updater interface {
	CheckAndApply(ctx context.Context) ota.Result
}

// SessionHook is notified while a network session is up. SessionDown is
// called before the session is released.
type SessionHook interface {
	SessionUp(ctx context.Context, s *network.Session)
	SessionDown()
}

type Config struct {
	Policy          power.Policy
	LED             bool
	Measurement     string
	Tags            []telemetry.Tag
	SensorTimeout   time.Duration
	EmergencyBlinks int
	BlinkInterval   time.Duration

	Battery   power.Battery
	Network   Connector
	Updater   Updater
	Sensors   reading.Reader
	Publisher telemetry.Publisher
	Sleeper   suspend.Sleeper
	Indicator indicator.Indicator
	Hooks     []SessionHook
	Logger    *slog.Logger
}

// Report describes one finished cycle. Component results are nil when the
// cycle never reached the component.
type Report struct {
	Outcome   Outcome
	Path      []State
	Power     power.State
	Network   *network.Session
	Update    *ota.Result
	Batch     telemetry.Batch
	SensorErr error
	Publish   *telemetry.Result
}

type Controller struct {
	cfg    Config
	logger *slog.Logger
	lit    bool
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Indicator == nil {
		cfg.Indicator = indicator.Nop{}
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = suspend.Delay{}
	}
	if cfg.SensorTimeout <= 0 {
		cfg.SensorTimeout = 5 * time.Second
	}
	if cfg.EmergencyBlinks <= 0 {
		cfg.EmergencyBlinks = 3
	}
	if cfg.BlinkInterval <= 0 {
		cfg.BlinkInterval = 200 * time.Millisecond
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// RunCycle runs one wake cycle to its terminal state. It never fails: every
// component error degrades the cycle and is recorded in the report.
func (c *Controller) RunCycle(ctx context.Context) Report {
	var r Report
	for s := Init; ; {
		r.Path = append(r.Path, s)
		next, done := c.step(ctx, s, &r)
		if done {
			return r
		}
		s = next
	}
}

func (c *Controller) step(ctx context.Context, s State, r *Report) (State, bool) {
	switch s {
	case Init:
		return BatteryCheck, false
	case BatteryCheck:
		r.Power = c.cfg.Policy.Evaluate(c.batteryPercentage(ctx))
		if r.Power.Emergency {
			return EmergencyExit, false
		}
		c.setIndicator(ctx, true)
		return NetworkUp, false
	case EmergencyExit:
		r.Outcome = EmergencySlept
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Battery below threshold, entering emergency sleep", slog.Int("battery", r.Power.BatteryPercentage), slog.Int("threshold", c.cfg.Policy.Threshold))
		if c.cfg.LED {
			if err := indicator.Blink(ctx, c.cfg.Indicator, c.cfg.EmergencyBlinks, c.cfg.BlinkInterval); err != nil {
				c.logger.LogAttrs(ctx, slog.LevelDebug, "Indicator failed", slog.Any("error", err))
			}
		}
		return Suspended, false
	case NetworkUp:
		r.Network = c.cfg.Network.Connect(ctx)
		if !r.Network.Connected() {
			return SleepDecision, false
		}
		for _, h := range c.cfg.Hooks {
			h.SessionUp(ctx, r.Network)
		}
		return UpdateCheck, false
	case UpdateCheck:
		res := c.cfg.Updater.CheckAndApply(ctx)
		r.Update = &res
		if res.Outcome == ota.Applied {
			r.Outcome = Restarted
			c.logger.LogAttrs(ctx, slog.LevelInfo, "Firmware applied, restarting", slog.Int("version", res.Version.Available))
			c.release(ctx, r)
			c.switchOff(ctx)
			return Suspended, true
		}
		return Measure, false
	case Measure:
		r.Batch, r.SensorErr = c.measure(ctx, r.Power)
		return Publish, false
	case Publish:
		res := c.publish(ctx, r)
		r.Publish = &res
		return SleepDecision, false
	case SleepDecision:
		c.release(ctx, r)
		c.logger.LogAttrs(ctx, slog.LevelInfo, "Sleeping", slog.Duration("duration", r.Power.SleepDuration), slog.Int("battery", r.Power.BatteryPercentage))
		return Suspended, false
	case Suspended:
		c.switchOff(ctx)
		if err := c.cfg.Sleeper.Suspend(ctx, r.Power.SleepDuration); err != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "Suspend interrupted", slog.Any("error", err))
		}
		return Suspended, true
	default:
		return Suspended, true
	}
}

// batteryPercentage treats an unreadable gauge as a full battery so a broken
// sensor cannot keep the node in emergency sleep forever.
func (c *Controller) batteryPercentage(ctx context.Context) int {
	pct, err := c.cfg.Battery.Percentage(ctx)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to read battery", slog.Any("error", err))
		return 100
	}
	return pct
}

func (c *Controller) measure(ctx context.Context, ps power.State) (telemetry.Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SensorTimeout)
	defer cancel()
	b := telemetry.Batch{Measurement: c.cfg.Measurement}
	fields, err := c.cfg.Sensors.Read(ctx)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Sensor read failed", slog.Any("error", err))
	}
	for _, f := range fields {
		b.AddField(f.Key, f.Value)
	}
	if len(b.Fields) > 0 {
		b.AddField("battery", float64(ps.BatteryPercentage))
	}
	return b.WithTags(c.cfg.Tags), err
}

func (c *Controller) publish(ctx context.Context, r *Report) telemetry.Result {
	if len(r.Batch.Fields) == 0 {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "Nothing to publish")
		return telemetry.Result{Outcome: telemetry.Skipped}
	}
	res := c.cfg.Publisher.Publish(ctx, r.Batch)
	if res.Outcome != telemetry.Accepted {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Publish failed", slog.String("outcome", res.Outcome.String()), slog.Int("status", res.StatusCode), slog.Any("error", res.Err))
	} else {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "Published", slog.Int("fields", len(r.Batch.Fields)))
	}
	return res
}

// release tears down the hooks and the network session in reverse order of
// acquisition.
func (c *Controller) release(ctx context.Context, r *Report) {
	if r.Network.Connected() {
		for i := len(c.cfg.Hooks) - 1; i >= 0; i-- {
			c.cfg.Hooks[i].SessionDown()
		}
	}
	if r.Network != nil {
		if err := r.Network.Close(); err != nil {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "Failed to release network", slog.Any("error", err))
		}
	}
}

func (c *Controller) setIndicator(ctx context.Context, on bool) {
	if !c.cfg.LED {
		return
	}
	c.lit = on
	if err := c.cfg.Indicator.Set(on); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "Indicator failed", slog.Any("error", err))
	}
}

// switchOff turns the indicator off if the cycle lit it. Blink leaves it off
// on its own.
func (c *Controller) switchOff(ctx context.Context) {
	if c.lit {
		c.setIndicator(ctx, false)
	}
}

// Loop runs cycles back to back, maxCycles times or forever when maxCycles
// is zero. It returns the number of cycles run.
func (c *Controller) Loop(ctx context.Context, maxCycles int) (int, error) {
	n := 0
	for maxCycles <= 0 || n < maxCycles {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		n++
		start := time.Now()
		r := c.RunCycle(ctx)
		c.logger.LogAttrs(ctx, slog.LevelInfo, "Wake cycle finished", slog.Int("cycle", n), slog.String("outcome", r.Outcome.String()), slog.Duration("elapsed", time.Since(start)))
		if r.Outcome == Restarted {
			return n, ErrRestarted
		}
	}
	return n, nil
}
