//go:build !unix

package ota

import (
	"context"
	"errors"
)

type ExecRestarter struct {
	Slots *Slots
	Exec  func(argv0 string, argv []string, envv []string) error
}

func (r ExecRestarter) Restart(ctx context.Context) error {
	return errors.New("restart is not supported on this platform")
}

// Dispatch is a no-op; the running binary stays in charge.
func (r ExecRestarter) Dispatch(ctx context.Context, self string) error {
	return nil
}
