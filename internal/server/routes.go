package server

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/spf13/afero"
)

func (s *Server) routes() {
	s.router.GET("/"+VersionFile, s.version)
	s.router.HEAD("/"+VersionFile, s.version)
	s.router.GET("/"+ImageFile, s.image)
	s.router.HEAD("/"+ImageFile, s.image)
}

func (s *Server) version(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data, err := afero.ReadFile(s.fs, VersionFile)
	if err != nil {
		s.fileError(w, r, VersionFile, err)
		return
	}
	v := strings.TrimSpace(string(data))
	if _, err := strconv.Atoi(v); err != nil {
		s.logger.LogAttrs(r.Context(), slog.LevelError, "Invalid version descriptor", slog.String("version", v))
		http.Error(w, "Invalid version descriptor", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	_, _ = io.WriteString(w, v)
}

func (s *Server) image(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	f, err := s.fs.Open(ImageFile)
	if err != nil {
		s.fileError(w, r, ImageFile, err)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		s.fileError(w, r, ImageFile, err)
		return
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		s.fileError(w, r, ImageFile, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.fileError(w, r, ImageFile, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("x-MD5", hex.EncodeToString(h.Sum(nil)))
	s.logger.LogAttrs(r.Context(), slog.LevelInfo, "Serving image", slog.String("remote", r.RemoteAddr), slog.Int64("size", fi.Size()))
	http.ServeContent(w, r, ImageFile, fi.ModTime(), f)
}

func (s *Server) fileError(w http.ResponseWriter, r *http.Request, name string, err error) {
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "No release published", http.StatusNotFound)
		return
	}
	s.logger.LogAttrs(r.Context(), slog.LevelError, "Error while reading release", slog.String("file", name), slog.Any("error", err))
	http.Error(w, "Error while reading release", http.StatusInternalServerError)
}
