// Package middleware contains HTTP middleware of the development OTA origin.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/niktheblak/web-common/pkg/auth"
)

// Authenticator admits requests whose bearer token is accepted by
// authenticator. A missing token is answered with 401, a rejected one with 403.
func Authenticator(handler http.Handler, authenticator auth.Authenticator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if err := authenticator.Authenticate(r.Context(), token); err != nil {
			if logger != nil {
				logger.LogAttrs(r.Context(), slog.LevelDebug, "Request denied", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr), slog.Any("error", err))
			}
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ota"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
