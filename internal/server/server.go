// Package server is a development OTA origin. It serves the version
// descriptor and firmware image that nodes poll for updates.
package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/niktheblak/web-common/pkg/auth"
	"github.com/spf13/afero"

	"github.com/niktheblak/sensor-node/pkg/middleware"
)

const (
	VersionFile = "version.txt"
	ImageFile   = "image.bin"
)

type Config struct {
	// Fs is rooted at the release directory.
	Fs            afero.Fs
	Authenticator auth.Authenticator
	Logger        *slog.Logger
}

type Server struct {
	fs     afero.Fs
	router *httprouter.Router
	logger *slog.Logger
}

func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.AlwaysAllow()
	}
	s := &Server{
		fs:     cfg.Fs,
		router: httprouter.New(),
		logger: cfg.Logger,
	}
	s.routes()
	return middleware.Authenticator(s.router, cfg.Authenticator, cfg.Logger)
}

// NewDir serves releases from a directory of the OS filesystem.
func NewDir(dir string, authenticator auth.Authenticator, logger *slog.Logger) http.Handler {
	return New(Config{
		Fs:            afero.NewBasePathFs(afero.NewOsFs(), dir),
		Authenticator: authenticator,
		Logger:        logger,
	})
}
