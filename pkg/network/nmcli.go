package network

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/niktheblak/sensor-node/internal/shell"
)

// NMCLI drives NetworkManager through nmcli. Each Up recreates a dedicated
// connection profile so settings never drift from the configuration.
type NMCLI struct {
	Interface  string
	Connection string
	Run        shell.Runner
}

func NewNMCLI(iface string) *NMCLI {
	if iface == "" {
		iface = "wlan0"
	}
	return &NMCLI{
		Interface:  iface,
		Connection: "sensor-node",
		Run:        shell.Exec,
	}
}

func (n *NMCLI) Up(ctx context.Context, cred Credentials, static *Static) (netip.Addr, error) {
	// a missing profile is not an error here
	_, _ = n.Run(ctx, "nmcli", "connection", "delete", n.Connection)
	args := []string{
		"connection", "add",
		"type", "wifi",
		"ifname", n.Interface,
		"con-name", n.Connection,
		"ssid", cred.SSID,
		"connection.autoconnect", "no",
	}
	if cred.Password != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", cred.Password)
	}
	if static != nil {
		prefix, err := static.Prefix()
		if err != nil {
			return netip.Addr{}, err
		}
		args = append(args,
			"ipv4.method", "manual",
			"ipv4.addresses", prefix.String(),
			"ipv4.gateway", static.Gateway.String(),
		)
		if dns := static.DNS(); len(dns) > 0 {
			servers := make([]string, len(dns))
			for i, a := range dns {
				servers[i] = a.String()
			}
			args = append(args, "ipv4.dns", strings.Join(servers, ","), "ipv4.ignore-auto-dns", "yes")
		}
	} else {
		args = append(args, "ipv4.method", "auto")
	}
	if _, err := n.Run(ctx, "nmcli", args...); err != nil {
		return netip.Addr{}, fmt.Errorf("creating connection: %w", err)
	}
	if _, err := n.Run(ctx, "nmcli", "connection", "up", n.Connection); err != nil {
		return netip.Addr{}, fmt.Errorf("activating connection: %w", err)
	}
	out, err := n.Run(ctx, "nmcli", "-g", "IP4.ADDRESS", "device", "show", n.Interface)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("reading address: %w", err)
	}
	return parseAddress(string(out))
}

func (n *NMCLI) Down() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := n.Run(ctx, "nmcli", "connection", "down", n.Connection)
	return err
}

// parseAddress takes the first address of nmcli's IP4.ADDRESS output, which
// lists prefixes separated by " | " or newlines.
func parseAddress(out string) (netip.Addr, error) {
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Split(line, "|") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			p, err := netip.ParsePrefix(field)
			if err != nil {
				return netip.Addr{}, fmt.Errorf("invalid address %q: %w", field, err)
			}
			return p.Addr(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no address assigned")
}
