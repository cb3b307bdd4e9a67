package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/niktheblak/web-common/pkg/auth"
	"github.com/stretchr/testify/assert"
)

const testToken = "ota_token_2dc9a"

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "8")
	})
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + testToken, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"valid token", "Bearer " + testToken, http.StatusOK},
		{"lower case scheme", "bearer " + testToken, http.StatusOK},
		{"invalid token", "Bearer other_token_7a3b1", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := Authenticator(handler, auth.Static(testToken), nil)
			req := httptest.NewRequest(http.MethodGet, "/version.txt", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			a.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Result().StatusCode)
		})
	}
	t.Run("always allow", func(t *testing.T) {
		t.Parallel()

		a := Authenticator(handler, auth.AlwaysAllow(), nil)
		w := httptest.NewRecorder()
		a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version.txt", nil))
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Equal(t, "8", w.Body.String())
	})
}
