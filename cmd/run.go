package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/niktheblak/sensor-node/internal/cycle"
	"github.com/niktheblak/sensor-node/internal/mqttlog"
	"github.com/niktheblak/sensor-node/pkg/indicator"
	"github.com/niktheblak/sensor-node/pkg/network"
	"github.com/niktheblak/sensor-node/pkg/ota"
	"github.com/niktheblak/sensor-node/pkg/power"
	"github.com/niktheblak/sensor-node/pkg/reading"
	"github.com/niktheblak/sensor-node/pkg/settings"
	"github.com/niktheblak/sensor-node/pkg/suspend"
	"github.com/niktheblak/sensor-node/pkg/telemetry"
)

var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Run wake cycles until restarted or interrupted",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(viper.GetViper())
		if err != nil {
			return err
		}
		log := logger
		var hooks []cycle.SessionHook
		if s.Diagnostics.MQTTBroker != "" {
			client := mqttlog.NewClient(s.Diagnostics.MQTTBroker, s.Diagnostics.ClientID)
			log, err = newLogger(io.MultiWriter(os.Stderr, mqttlog.NewWriter(client, s.Diagnostics.MQTTTopic)))
			if err != nil {
				return err
			}
			// the sink reports its own failures to stderr only
			hooks = append(hooks, mqttlog.NewSink(client, mqttlog.Config{Logger: logger}))
		}
		publisher, closePublisher, err := newPublisher(s, log)
		if err != nil {
			return err
		}
		defer closePublisher()
		slots := ota.NewSlots(afero.NewOsFs(), s.OTA.Dir)
		restarter := ota.ExecRestarter{Slots: slots}
		if self, err := os.Executable(); err != nil {
			log.LogAttrs(cmd.Context(), slog.LevelWarn, "Failed to resolve executable", slog.Any("error", err))
		} else if err := restarter.Dispatch(cmd.Context(), self); err != nil {
			log.LogAttrs(cmd.Context(), slog.LevelError, "Failed to start activated image", slog.Any("error", err))
		}
		firmware, err := slots.Version(s.OTA.Version)
		if err != nil {
			log.LogAttrs(cmd.Context(), slog.LevelWarn, "Failed to read boot record", slog.Any("error", err))
			firmware = s.OTA.Version
		}
		var sleeper suspend.Sleeper = suspend.NewRTCWake(s.Platform.SuspendMode)
		if s.Sleep.TestMode {
			log.LogAttrs(cmd.Context(), slog.LevelWarn, "Test mode enabled, suspend replaced by delay", slog.Duration("delay", s.Sleep.TestDelay))
			sleeper = suspend.Delay{}
		}
		var ind indicator.Indicator = indicator.Nop{}
		if s.LED {
			ind = indicator.NewSysfsLED(s.Platform.LEDPath)
		}
		sensors := reading.Multi{reading.NewIIO(s.Platform.SensorDir)}
		if s.Platform.SystemStats {
			sensors = append(sensors, reading.System{})
		}
		controller := cycle.New(cycle.Config{
			Policy: power.Policy{
				Threshold:              s.Sleep.MinBatteryPercentage,
				SleepDuration:          s.Sleep.Duration,
				EmergencySleepDuration: s.Sleep.EmergencyDuration,
				TestMode:               s.Sleep.TestMode,
				TestDelay:              s.Sleep.TestDelay,
			},
			LED:           s.LED,
			Measurement:   s.Telemetry.Measurement,
			Tags:          s.Telemetry.Tags,
			SensorTimeout: s.Platform.SensorTimeout,
			Battery:       power.NewSysfsBattery(s.Platform.BatteryPath),
			Network: network.NewConnector(network.NewNMCLI(s.Network.Interface), network.Config{
				Credentials:         network.Credentials{SSID: s.Network.SSID, Password: s.Network.Password},
				Static:              s.Network.Static,
				Timeout:             s.Network.Timeout,
				WaitForConnectivity: s.Network.WaitForConnectivity,
				Logger:              log,
			}),
			Updater: ota.NewChecker(ota.Config{
				Enabled:         s.OTA.Enabled,
				URL:             s.OTA.URL,
				CurrentVersion:  s.OTA.Version,
				Token:           s.OTA.Token,
				Timeout:         s.OTA.Timeout,
				DownloadTimeout: s.OTA.DownloadTimeout,
				Logger:          log,
			}, slots, restarter),
			Sensors:   sensors,
			Publisher: publisher,
			Sleeper:   sleeper,
			Indicator: ind,
			Hooks:     hooks,
			Logger:    log,
		})
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		log.LogAttrs(ctx, slog.LevelInfo, "Starting wake cycles",
			slog.String("version", binVersion),
			slog.Int("firmware", firmware),
			slog.String("ssid", s.Network.SSID),
			slog.String("backend", s.Telemetry.Backend),
			slog.String("tags", telemetry.FormatTags(s.Telemetry.Tags)),
			slog.Int("cycles", viper.GetInt("cycles")),
		)
		n, err := controller.Loop(ctx, viper.GetInt("cycles"))
		switch {
		case errors.Is(err, cycle.ErrRestarted):
			// exit non-zero so the supervisor starts us again and Dispatch
			// hands over to the activated image
			log.LogAttrs(ctx, slog.LevelInfo, "Exiting for restart", slog.Int("cycles", n))
			return err
		case errors.Is(err, context.Canceled):
			log.LogAttrs(context.Background(), slog.LevelInfo, "Interrupted", slog.Int("cycles", n))
			return nil
		default:
			return err
		}
	},
}

func newPublisher(s settings.Settings, log *slog.Logger) (telemetry.Publisher, func(), error) {
	switch s.Telemetry.Backend {
	case settings.BackendPostgres:
		p, err := telemetry.NewPostgres(telemetry.PostgresConfig{
			ConnString: s.Telemetry.Postgres.ConnString,
			Table:      s.Telemetry.Postgres.Table,
			Columns:    s.Telemetry.Postgres.Columns,
			Timeout:    s.Telemetry.Timeout,
			Logger:     log,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	default:
		p := telemetry.NewInflux(telemetry.InfluxConfig{
			APIRoot:      s.Telemetry.APIRoot,
			Organization: s.Telemetry.Organization,
			Bucket:       s.Telemetry.Bucket,
			Token:        s.Telemetry.Token,
			Timeout:      s.Telemetry.Timeout,
			Logger:       log,
		})
		return p, func() {
			if err := p.Close(); err != nil {
				log.LogAttrs(context.Background(), slog.LevelDebug, "Failed to close InfluxDB client", slog.Any("error", err))
			}
		}, nil
	}
}

func init() {
	runCmd.Flags().Int("cycles", 0, "number of wake cycles to run, 0 runs forever")
	runCmd.Flags().Bool("sleep.test_mode", false, "replace suspend with a short delay")
	cobra.CheckErr(viper.BindPFlags(runCmd.Flags()))

	rootCmd.AddCommand(runCmd)
}
