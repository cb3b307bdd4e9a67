// Package power decides how long the node sleeps after a wake cycle.
package power

import "time"

// State is evaluated fresh every wake cycle and never persisted.
type State struct {
	BatteryPercentage int
	Emergency         bool
	SleepDuration     time.Duration
}

// Policy holds the sleep tunables of the node.
type Policy struct {
	// Threshold is the battery percentage below which the node stops normal
	// operation and only sleeps.
	Threshold              int
	SleepDuration          time.Duration
	EmergencySleepDuration time.Duration
	// TestMode replaces every sleep with TestDelay
	TestMode  bool
	TestDelay time.Duration
}

func (p Policy) Evaluate(batteryPercentage int) State {
	s := State{
		BatteryPercentage: clamp(batteryPercentage),
		Emergency:         batteryPercentage < p.Threshold,
	}
	switch {
	case p.TestMode:
		s.SleepDuration = p.TestDelay
	case s.Emergency:
		s.SleepDuration = p.EmergencySleepDuration
	default:
		s.SleepDuration = p.SleepDuration
	}
	return s
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
