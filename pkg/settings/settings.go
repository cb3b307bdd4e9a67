// Package settings holds the node configuration as an immutable value that is
// validated once at startup.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/niktheblak/sensor-node/pkg/network"
	"github.com/niktheblak/sensor-node/pkg/power"
	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

var ErrInvalidSettings = errors.New("invalid settings")

const (
	BackendInfluxDB = "influxdb"
	BackendPostgres = "postgres"
)

type Sleep struct {
	Duration             time.Duration
	EmergencyDuration    time.Duration
	MinBatteryPercentage int
	TestMode             bool
	TestDelay            time.Duration
}

type Network struct {
	SSID                string
	Password            string
	Interface           string
	Static              *network.Static
	Timeout             time.Duration
	WaitForConnectivity bool
}

type OTA struct {
	Enabled         bool
	Version         int
	URL             string
	Token           string
	Dir             string
	Timeout         time.Duration
	DownloadTimeout time.Duration
}

type Postgres struct {
	ConnString string
	Table      string
	Columns    map[string]string
}

type Telemetry struct {
	Backend      string
	APIRoot      string
	Organization string
	Bucket       string
	Token        string
	Measurement  string
	Tags         []telemetry.Tag
	Timeout      time.Duration
	Postgres     Postgres
}

type Platform struct {
	BatteryPath   string
	LEDPath       string
	SensorDir     string
	SuspendMode   string
	SensorTimeout time.Duration
	SystemStats   bool
}

// Diagnostics configures the optional MQTT log mirror. An empty broker
// disables it.
type Diagnostics struct {
	MQTTBroker string
	MQTTTopic  string
	ClientID   string
}

// Settings is read once and never mutated afterwards.
type Settings struct {
	LED         bool
	Sleep       Sleep
	Network     Network
	OTA         OTA
	Telemetry   Telemetry
	Platform    Platform
	Diagnostics Diagnostics
}

// Default returns the factory configuration. Credentials and endpoints have
// no defaults.
func Default() Settings {
	return Settings{
		LED: true,
		Sleep: Sleep{
			Duration:             300 * time.Second,
			EmergencyDuration:    24 * time.Hour,
			MinBatteryPercentage: 20,
			TestDelay:            10 * time.Second,
		},
		Network: Network{
			Interface: "wlan0",
			Timeout:   10 * time.Second,
		},
		OTA: OTA{
			Dir:             "/var/lib/sensor-node",
			Timeout:         10 * time.Second,
			DownloadTimeout: 2 * time.Minute,
		},
		Telemetry: Telemetry{
			Backend:     BackendInfluxDB,
			Measurement: "station",
			Timeout:     2 * time.Second,
		},
		Platform: Platform{
			BatteryPath:   power.DefaultCapacityPath,
			LEDPath:       "/sys/class/leds/led0/brightness",
			SensorDir:     "/sys/bus/iio/devices/iio:device0",
			SuspendMode:   "mem",
			SensorTimeout: 5 * time.Second,
		},
	}
}

// Validate reports every violated constraint at once.
func (s Settings) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidSettings}, args...)...))
	}
	sleeps := []struct {
		name string
		d    time.Duration
	}{
		{"sleep.duration", s.Sleep.Duration},
		{"sleep.emergency_duration", s.Sleep.EmergencyDuration},
		{"sleep.test_delay", s.Sleep.TestDelay},
	}
	for _, d := range sleeps {
		if d.d < 0 {
			invalid("%s must not be negative", d.name)
		}
	}
	// a zero timeout fails every attempt before it starts
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"network.timeout", s.Network.Timeout},
		{"ota.timeout", s.OTA.Timeout},
		{"ota.download_timeout", s.OTA.DownloadTimeout},
		{"telemetry.timeout", s.Telemetry.Timeout},
		{"platform.sensor_timeout", s.Platform.SensorTimeout},
	}
	for _, d := range timeouts {
		if d.d <= 0 {
			invalid("%s must be positive", d.name)
		}
	}
	if p := s.Sleep.MinBatteryPercentage; p < 0 || p > 100 {
		invalid("sleep.min_battery_percentage %d is outside [0, 100]", p)
	}
	if s.Network.SSID == "" {
		invalid("network.ssid is required")
	}
	if st := s.Network.Static; st != nil {
		if !st.Address.Is4() || !st.Gateway.Is4() {
			invalid("network.static requires IPv4 address and gateway")
		}
		if _, err := st.Prefix(); err != nil {
			invalid("network.static.subnet: %v", err)
		}
	}
	if s.OTA.Enabled {
		if s.OTA.URL == "" {
			invalid("ota.url is required when OTA is enabled")
		} else if !strings.HasSuffix(s.OTA.URL, "/") {
			invalid("ota.url %q must end with a slash", s.OTA.URL)
		}
		if s.OTA.Dir == "" {
			invalid("ota.dir is required when OTA is enabled")
		}
	}
	if s.OTA.Version < 0 {
		invalid("ota.version must not be negative")
	}
	if s.Telemetry.Measurement == "" {
		invalid("telemetry.measurement is required")
	}
	switch s.Telemetry.Backend {
	case BackendInfluxDB:
		if s.Telemetry.APIRoot == "" {
			invalid("telemetry.api_root is required")
		}
		if s.Telemetry.Organization == "" {
			invalid("telemetry.organization is required")
		}
		if s.Telemetry.Bucket == "" {
			invalid("telemetry.bucket is required")
		}
	case BackendPostgres:
		if s.Telemetry.Postgres.ConnString == "" {
			invalid("postgres.conn_string is required")
		}
		if s.Telemetry.Postgres.Table == "" {
			invalid("postgres.table is required")
		}
	default:
		invalid("unknown telemetry.backend %q", s.Telemetry.Backend)
	}
	return errors.Join(errs...)
}
