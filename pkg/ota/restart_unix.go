//go:build unix

package ota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ExecRestarter replaces the running process with the active slot image,
// keeping the original arguments and environment.
type ExecRestarter struct {
	Slots *Slots
	// Exec defaults to syscall.Exec
	Exec func(argv0 string, argv []string, envv []string) error
}

func (r ExecRestarter) Restart(ctx context.Context) error {
	rec, ok, err := r.Slots.Boot()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoImage
	}
	return r.exec(r.Slots.ImagePath(rec.Active))
}

// Dispatch starts the active slot image when self is not it, which is the
// case after a reboot or a crash of the new image. It only returns when
// there is nothing to start or the start failed. An image that cannot be
// started is deactivated so the running binary reports its own version and
// installs the update again.
func (r ExecRestarter) Dispatch(ctx context.Context, self string) error {
	path, ok, err := r.Slots.Pending(self)
	if errors.Is(err, ErrNoImage) {
		return errors.Join(err, r.Slots.Reset())
	}
	if err != nil || !ok {
		return err
	}
	if err := r.exec(path); err != nil {
		return errors.Join(fmt.Errorf("starting %s: %w", path, err), r.Slots.Reset())
	}
	return nil
}

func (r ExecRestarter) exec(path string) error {
	if err := r.Slots.fs.Chmod(path, 0o755); err != nil {
		return err
	}
	exec := r.Exec
	if exec == nil {
		exec = syscall.Exec
	}
	return exec(path, os.Args, os.Environ())
}
