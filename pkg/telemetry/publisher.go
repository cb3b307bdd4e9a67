package telemetry

import (
	"context"
	"errors"
	"net"
)

type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	TimedOut
	NetworkError
	// Skipped means there was nothing to submit
	Skipped
	// Invalid means the batch could not be serialized
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	case NetworkError:
		return "network_error"
	case Skipped:
		return "skipped"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result of one Publish call. StatusCode is set for HTTP rejections.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Publisher submits one batch to the time-series backend, best-effort.
// Implementations never retry and never block beyond their configured timeout.
type Publisher interface {
	Publish(ctx context.Context, b Batch) Result
}

func timedOut(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
