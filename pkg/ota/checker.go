// Package ota checks a firmware origin for a newer image and installs it
// into an A/B slot store.
package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidVersion = errors.New("invalid version")

// maxVersionSize bounds the version document; it holds a single integer.
const maxVersionSize = 64

type Outcome int

const (
	UpToDate Outcome = iota
	Applied
	FetchFailed
	Disabled
)

func (o Outcome) String() string {
	switch o {
	case UpToDate:
		return "up_to_date"
	case Applied:
		return "applied"
	case FetchFailed:
		return "fetch_failed"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

type Version struct {
	Current      int
	Available    int
	HasAvailable bool
}

func (v Version) Newer() bool {
	return v.HasAvailable && v.Available > v.Current
}

type Result struct {
	Outcome Outcome
	Version Version
	Err     error
}

// Restarter hands control over to the freshly activated image.
type Restarter interface {
	Restart(ctx context.Context) error
}

type Config struct {
	Enabled bool
	// URL is the origin base and must end with a slash.
	URL             string
	CurrentVersion  int
	Token           string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

type Checker struct {
	cfg       Config
	slots     *Slots
	restarter Restarter
	client    *http.Client
	logger    *slog.Logger
}

func NewChecker(cfg Config, slots *Slots, restarter Restarter) *Checker {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	return &Checker{
		cfg:       cfg,
		slots:     slots,
		restarter: restarter,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

// CurrentVersion prefers the version recorded by the last install over the
// configured one.
func (c *Checker) CurrentVersion() (int, error) {
	return c.slots.Version(c.cfg.CurrentVersion)
}

// CheckAndApply is idempotent: once an image is applied the next call
// reports UpToDate against the same origin.
func (c *Checker) CheckAndApply(ctx context.Context) Result {
	if !c.cfg.Enabled {
		return Result{Outcome: Disabled}
	}
	prev, installed, err := c.slots.Boot()
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to read boot record", slog.Any("error", err))
	}
	v := Version{Current: c.cfg.CurrentVersion}
	if installed {
		v.Current = prev.Version
	}
	available, err := c.fetchVersion(ctx)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to fetch available version", slog.Any("error", err))
		return Result{Outcome: FetchFailed, Version: v, Err: err}
	}
	v.Available = available
	v.HasAvailable = true
	if !v.Newer() {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "Firmware is up to date", slog.Int("current", v.Current), slog.Int("available", v.Available))
		return Result{Outcome: UpToDate, Version: v}
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "Installing firmware", slog.Int("current", v.Current), slog.Int("available", v.Available))
	rec, err := c.install(ctx, available)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Firmware install failed", slog.Any("error", err))
		return Result{Outcome: FetchFailed, Version: v, Err: err}
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "Firmware installed", slog.String("slot", string(rec.Active)), slog.Int("version", rec.Version), slog.String("md5", rec.Checksum))
	if err := c.restarter.Restart(ctx); err != nil {
		// the running image stays in charge, so it must stay the active one
		c.logger.LogAttrs(ctx, slog.LevelError, "Restart failed, deactivating image", slog.Int("version", rec.Version), slog.Any("error", err))
		if rerr := c.slots.Restore(prev, installed); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return Result{Outcome: FetchFailed, Version: v, Err: err}
	}
	return Result{Outcome: Applied, Version: v}
}

func (c *Checker) fetchVersion(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := c.get(ctx, "version.txt")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionSize))
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return v, nil
}

func (c *Checker) install(ctx context.Context, version int) (BootRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()
	resp, err := c.get(ctx, "image.bin")
	if err != nil {
		return BootRecord{}, err
	}
	defer resp.Body.Close()
	return c.slots.Install(resp.Body, resp.ContentLength, resp.Header.Get("x-MD5"), version)
}

func (c *Checker) get(ctx context.Context, name string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+name, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", name, resp.Status)
	}
	return resp, nil
}
