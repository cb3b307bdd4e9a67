package cmd

import (
	"fmt"
	"net/netip"

	"github.com/niktheblak/ruuvitag-common/pkg/sensor"
	"github.com/spf13/viper"

	"github.com/niktheblak/sensor-node/pkg/network"
	"github.com/niktheblak/sensor-node/pkg/settings"
	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

func init() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	d := settings.Default()
	v.SetDefault("led", d.LED)
	v.SetDefault("sleep.duration", d.Sleep.Duration)
	v.SetDefault("sleep.emergency_duration", d.Sleep.EmergencyDuration)
	v.SetDefault("sleep.min_battery_percentage", d.Sleep.MinBatteryPercentage)
	v.SetDefault("sleep.test_delay", d.Sleep.TestDelay)
	v.SetDefault("network.interface", d.Network.Interface)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("ota.dir", d.OTA.Dir)
	v.SetDefault("ota.timeout", d.OTA.Timeout)
	v.SetDefault("ota.download_timeout", d.OTA.DownloadTimeout)
	v.SetDefault("telemetry.backend", d.Telemetry.Backend)
	v.SetDefault("telemetry.measurement", d.Telemetry.Measurement)
	v.SetDefault("telemetry.timeout", d.Telemetry.Timeout)
	v.SetDefault("postgres.columns", sensor.DefaultColumnMap)
	v.SetDefault("platform.battery_path", d.Platform.BatteryPath)
	v.SetDefault("platform.led_path", d.Platform.LEDPath)
	v.SetDefault("platform.sensor_dir", d.Platform.SensorDir)
	v.SetDefault("platform.suspend_mode", d.Platform.SuspendMode)
	v.SetDefault("platform.sensor_timeout", d.Platform.SensorTimeout)
	v.SetDefault("diagnostics.mqtt_topic", "logs/sensor-node")
	v.SetDefault("diagnostics.client_id", "sensor-node")
}

// loadSettings freezes the current viper state into a validated Settings
// value.
func loadSettings(v *viper.Viper) (settings.Settings, error) {
	static, err := loadStatic(v)
	if err != nil {
		return settings.Settings{}, err
	}
	tags, err := telemetry.ParseTags(v.GetString("telemetry.tags"))
	if err != nil {
		return settings.Settings{}, fmt.Errorf("%w: telemetry.tags: %w", settings.ErrInvalidSettings, err)
	}
	s := settings.Settings{
		LED: v.GetBool("led"),
		Sleep: settings.Sleep{
			Duration:             v.GetDuration("sleep.duration"),
			EmergencyDuration:    v.GetDuration("sleep.emergency_duration"),
			MinBatteryPercentage: v.GetInt("sleep.min_battery_percentage"),
			TestMode:             v.GetBool("sleep.test_mode"),
			TestDelay:            v.GetDuration("sleep.test_delay"),
		},
		Network: settings.Network{
			SSID:                v.GetString("network.ssid"),
			Password:            v.GetString("network.password"),
			Interface:           v.GetString("network.interface"),
			Static:              static,
			Timeout:             v.GetDuration("network.timeout"),
			WaitForConnectivity: v.GetBool("network.wait_for_connectivity"),
		},
		OTA: settings.OTA{
			Enabled:         v.GetBool("ota.enabled"),
			Version:         v.GetInt("ota.version"),
			URL:             v.GetString("ota.url"),
			Token:           v.GetString("ota.token"),
			Dir:             v.GetString("ota.dir"),
			Timeout:         v.GetDuration("ota.timeout"),
			DownloadTimeout: v.GetDuration("ota.download_timeout"),
		},
		Telemetry: settings.Telemetry{
			Backend:      v.GetString("telemetry.backend"),
			APIRoot:      v.GetString("telemetry.api_root"),
			Organization: v.GetString("telemetry.organization"),
			Bucket:       v.GetString("telemetry.bucket"),
			Token:        v.GetString("telemetry.token"),
			Measurement:  v.GetString("telemetry.measurement"),
			Tags:         tags,
			Timeout:      v.GetDuration("telemetry.timeout"),
			Postgres: settings.Postgres{
				ConnString: v.GetString("postgres.conn_string"),
				Table:      v.GetString("postgres.table"),
				Columns:    v.GetStringMapString("postgres.columns"),
			},
		},
		Platform: settings.Platform{
			BatteryPath:   v.GetString("platform.battery_path"),
			LEDPath:       v.GetString("platform.led_path"),
			SensorDir:     v.GetString("platform.sensor_dir"),
			SuspendMode:   v.GetString("platform.suspend_mode"),
			SensorTimeout: v.GetDuration("platform.sensor_timeout"),
			SystemStats:   v.GetBool("platform.system_stats"),
		},
		Diagnostics: settings.Diagnostics{
			MQTTBroker: v.GetString("diagnostics.mqtt_broker"),
			MQTTTopic:  v.GetString("diagnostics.mqtt_topic"),
			ClientID:   v.GetString("diagnostics.client_id"),
		},
	}
	if err := s.Validate(); err != nil {
		return settings.Settings{}, err
	}
	return s, nil
}

// loadStatic returns nil unless network.static.address is set.
func loadStatic(v *viper.Viper) (*network.Static, error) {
	if v.GetString("network.static.address") == "" {
		return nil, nil
	}
	var (
		s   network.Static
		err error
	)
	fields := []struct {
		key string
		dst *netip.Addr
		opt bool
	}{
		{"network.static.address", &s.Address, false},
		{"network.static.gateway", &s.Gateway, false},
		{"network.static.subnet", &s.Subnet, false},
		{"network.static.primary_dns", &s.PrimaryDNS, true},
		{"network.static.secondary_dns", &s.SecondaryDNS, true},
	}
	for _, f := range fields {
		raw := v.GetString(f.key)
		if raw == "" && f.opt {
			continue
		}
		if *f.dst, err = netip.ParseAddr(raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", settings.ErrInvalidSettings, f.key, err)
		}
	}
	return &s, nil
}
