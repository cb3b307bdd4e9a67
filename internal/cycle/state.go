package cycle

type State int

const (
	Init State = iota
	BatteryCheck
	EmergencyExit
	NetworkUp
	UpdateCheck
	Measure
	Publish
	SleepDecision
	Suspended
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case BatteryCheck:
		return "battery_check"
	case EmergencyExit:
		return "emergency_exit"
	case NetworkUp:
		return "network_up"
	case UpdateCheck:
		return "update_check"
	case Measure:
		return "measure"
	case Publish:
		return "publish"
	case SleepDecision:
		return "sleep_decision"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	Completed Outcome = iota
	EmergencySlept
	Restarted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case EmergencySlept:
		return "emergency_slept"
	case Restarted:
		return "restarted"
	default:
		return "unknown"
	}
}
