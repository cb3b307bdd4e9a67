package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/niktheblak/web-common/pkg/auth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/niktheblak/sensor-node/internal/server"
)

var otaServerCmd = &cobra.Command{
	Use:          "ota-server",
	Short:        "Serve firmware releases to nodes",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			dir         = viper.GetString("ota_server.dir")
			port        = viper.GetInt("ota_server.port")
			accessToken = viper.GetStringSlice("ota_server.token")
		)
		if dir == "" {
			return fmt.Errorf("release directory is required")
		}
		var authenticator auth.Authenticator
		if len(accessToken) > 0 {
			logger.Info("Using authentication", "tokens", len(accessToken))
			authenticator = auth.Static(accessToken...)
		} else {
			logger.Info("Not using authentication")
			authenticator = auth.AlwaysAllow()
		}
		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.NewDir(dir, authenticator, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		go func() {
			logger.LogAttrs(ctx, slog.LevelInfo, "Starting OTA server", slog.Int("port", port), slog.String("dir", dir))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "err", err)
				cancel()
			}
		}()
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			logger.Info("Shutting down OTA server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down HTTP server", "err", err)
			}
		}()
		wg.Wait()
		return nil
	},
}

func init() {
	otaServerCmd.Flags().String("dir", "", "directory holding version.txt and image.bin")
	otaServerCmd.Flags().Int("port", 8080, "server port")
	otaServerCmd.Flags().StringSlice("token", nil, "allowed access tokens")
	for _, name := range []string{"dir", "port", "token"} {
		cobra.CheckErr(viper.BindPFlag("ota_server."+name, otaServerCmd.Flags().Lookup(name)))
	}

	rootCmd.AddCommand(otaServerCmd)
}
