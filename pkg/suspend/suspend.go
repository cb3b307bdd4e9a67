// Package suspend puts the node to sleep between wake cycles.
package suspend

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/niktheblak/sensor-node/internal/shell"
)

// Sleeper returns only after d has elapsed (or ctx is done). Nothing held in
// memory is assumed to survive the call.
type Sleeper interface {
	Suspend(ctx context.Context, d time.Duration) error
}

// Delay keeps the process running and waits; used in test mode so cycles
// repeat without a hardware wake event.
type Delay struct{}

func (Delay) Suspend(ctx context.Context, d time.Duration) error {
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

// RTCWake suspends the board with rtcwake(8) and an RTC alarm. The call
// returns after the board has resumed.
type RTCWake struct {
	// Mode is the rtcwake suspend mode, e.g. mem, standby or disk
	Mode string
	// Device is the RTC device; empty selects rtcwake's default
	Device string
	Run    shell.Runner
}

func NewRTCWake(mode string) *RTCWake {
	if mode == "" {
		mode = "mem"
	}
	return &RTCWake{
		Mode: mode,
		Run:  shell.Exec,
	}
}

func (s *RTCWake) Suspend(ctx context.Context, d time.Duration) error {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	args := []string{"-m", s.Mode, "-s", strconv.FormatInt(secs, 10)}
	if s.Device != "" {
		args = append(args, "-d", s.Device)
	}
	_, err := s.Run(ctx, "rtcwake", args...)
	return err
}
