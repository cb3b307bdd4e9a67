// Package network brings up the node's connectivity for one wake cycle.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

var ErrInvalidSubnet = errors.New("invalid subnet mask")

type Outcome int

const (
	Connected Outcome = iota
	TimedOut
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Connected:
		return "connected"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Credentials struct {
	SSID     string
	Password string
}

// Static is a fixed IPv4 configuration. DNS resolvers are used in order.
type Static struct {
	Address      netip.Addr
	Gateway      netip.Addr
	Subnet       netip.Addr
	PrimaryDNS   netip.Addr
	SecondaryDNS netip.Addr
}

// Prefix combines the address and subnet mask, e.g. 192.168.1.15/24.
func (s Static) Prefix() (netip.Prefix, error) {
	if !s.Subnet.Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidSubnet, s.Subnet)
	}
	ones, bits := net.IPMask(s.Subnet.AsSlice()).Size()
	if bits == 0 {
		return netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidSubnet, s.Subnet)
	}
	return netip.PrefixFrom(s.Address, ones), nil
}

// DNS returns the valid resolvers in priority order.
func (s Static) DNS() []netip.Addr {
	var out []netip.Addr
	for _, a := range []netip.Addr{s.PrimaryDNS, s.SecondaryDNS} {
		if a.IsValid() {
			out = append(out, a)
		}
	}
	return out
}

// Link is the platform network driver. Up associates with the access point,
// applies the addressing (static when non-nil, else DHCP) and returns the
// effective address. Down releases the link.
type Link interface {
	Up(ctx context.Context, cred Credentials, static *Static) (netip.Addr, error)
	Down() error
}

// Session is owned by a single wake cycle.
type Session struct {
	Outcome Outcome
	Address netip.Addr
	Err     error
	link    Link
}

func (s *Session) Connected() bool {
	return s != nil && s.Outcome == Connected
}

// Close tears the link down. Sessions that never connected have nothing to
// release.
func (s *Session) Close() error {
	if !s.Connected() || s.link == nil {
		return nil
	}
	link := s.link
	s.link = nil
	return link.Down()
}

type Config struct {
	Credentials Credentials
	Static      *Static
	Timeout     time.Duration
	// WaitForConnectivity retries failed attempts until Timeout expires
	WaitForConnectivity bool
	RetryInterval       time.Duration
	Logger              *slog.Logger
}

type Connector struct {
	link   Link
	cfg    Config
	logger *slog.Logger
	// abandoned is closed once a timed out attempt has returned and been
	// released
	abandoned chan struct{}
}

func NewConnector(link Link, cfg Config) *Connector {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &Connector{
		link:   link,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

type upResult struct {
	addr netip.Addr
	err  error
}

// Connect never blocks beyond the configured timeout, even when the link
// ignores cancellation. An abandoned attempt is torn down with Link.Down, and
// again when it returns with the link up. Connect does not start a new
// attempt before the abandoned one has returned.
func (c *Connector) Connect(ctx context.Context) *Session {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if c.abandoned != nil {
		select {
		case <-c.abandoned:
			c.abandoned = nil
		case <-ctx.Done():
			c.logger.LogAttrs(ctx, slog.LevelWarn, "Previous connection attempt still running")
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return c.timedOut(ctx, ctx.Err())
			}
			return &Session{Outcome: Failed, Err: ctx.Err()}
		}
	}
	mode := "dhcp"
	if c.cfg.Static != nil {
		mode = "static"
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "Connecting", slog.String("ssid", c.cfg.Credentials.SSID), slog.String("addressing", mode), slog.Duration("timeout", c.cfg.Timeout))
	start := time.Now()
	ch := make(chan upResult, 1)
	go func() {
		addr, err := c.attempt(ctx)
		ch <- upResult{addr: addr, err: err}
	}()
	select {
	case r := <-ch:
		if r.err == nil {
			c.logger.LogAttrs(ctx, slog.LevelInfo, "Connected", slog.String("address", r.addr.String()), slog.Duration("elapsed", time.Since(start)))
			return &Session{Outcome: Connected, Address: r.addr, link: c.link}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.timedOut(ctx, r.err)
		}
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Connection failed", slog.Any("error", r.err))
		return &Session{Outcome: Failed, Err: r.err}
	case <-ctx.Done():
		if err := c.link.Down(); err != nil {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "Failed to release link", slog.Any("error", err))
		}
		c.abandoned = make(chan struct{})
		go c.reap(ch, c.abandoned)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.timedOut(ctx, ctx.Err())
		}
		return &Session{Outcome: Failed, Err: ctx.Err()}
	}
}

// reap waits for an abandoned attempt and releases the link if the attempt
// brought it up after all.
func (c *Connector) reap(ch <-chan upResult, done chan<- struct{}) {
	defer close(done)
	r := <-ch
	if r.err != nil {
		return
	}
	c.logger.LogAttrs(context.Background(), slog.LevelInfo, "Releasing link of abandoned attempt", slog.String("address", r.addr.String()))
	if err := c.link.Down(); err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Failed to release link", slog.Any("error", err))
	}
}

func (c *Connector) timedOut(ctx context.Context, err error) *Session {
	c.logger.LogAttrs(ctx, slog.LevelWarn, "Connection timed out", slog.Duration("timeout", c.cfg.Timeout))
	return &Session{Outcome: TimedOut, Err: err}
}

func (c *Connector) attempt(ctx context.Context) (netip.Addr, error) {
	for n := 1; ; n++ {
		addr, err := c.link.Up(ctx, c.cfg.Credentials, c.cfg.Static)
		if err == nil {
			return addr, nil
		}
		if !c.cfg.WaitForConnectivity {
			return netip.Addr{}, err
		}
		c.logger.LogAttrs(ctx, slog.LevelDebug, "Connection attempt failed", slog.Int("attempt", n), slog.Any("error", err))
		t := time.NewTimer(c.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return netip.Addr{}, err
		case <-t.C:
		}
	}
}
