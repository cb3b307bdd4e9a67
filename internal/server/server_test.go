package server

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/niktheblak/web-common/pkg/auth"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niktheblak/sensor-node/pkg/ota"
)

const testAccessToken = "a65cd12f9bba453"

var testImage = []byte("\x7fELF sensor-node 8")

func release(t *testing.T, version string, image []byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if version != "" {
		require.NoError(t, afero.WriteFile(fs, VersionFile, []byte(version), 0o644))
	}
	if image != nil {
		require.NoError(t, afero.WriteFile(fs, ImageFile, image, 0o644))
	}
	return fs
}

func get(srv http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestServe(t *testing.T) {
	t.Parallel()

	srv := New(Config{Fs: release(t, "8\n", testImage), Authenticator: auth.Static(testAccessToken)})
	t.Run("version", func(t *testing.T) {
		t.Parallel()

		w := get(srv, "/version.txt", testAccessToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "8", w.Body.String())
		assert.Equal(t, "no-store, max-age=0", w.Header().Get("Cache-Control"))
	})
	t.Run("image", func(t *testing.T) {
		t.Parallel()

		sum := md5.Sum(testImage)
		w := get(srv, "/image.bin", testAccessToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testImage, w.Body.Bytes())
		assert.Equal(t, hex.EncodeToString(sum[:]), w.Header().Get("x-MD5"))
		assert.Equal(t, strconv.Itoa(len(testImage)), w.Header().Get("Content-Length"))
	})
	t.Run("without token", func(t *testing.T) {
		t.Parallel()

		w := get(srv, "/image.bin", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("other files", func(t *testing.T) {
		t.Parallel()

		w := get(srv, "/boot.yaml", testAccessToken)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServe_NoRelease(t *testing.T) {
	t.Parallel()

	srv := New(Config{Fs: release(t, "", nil)})
	assert.Equal(t, http.StatusNotFound, get(srv, "/version.txt", "").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/image.bin", "").Code)
}

func TestServe_InvalidVersion(t *testing.T) {
	t.Parallel()

	srv := New(Config{Fs: release(t, "eight", testImage)})
	assert.Equal(t, http.StatusInternalServerError, get(srv, "/version.txt", "").Code)
}

func TestServe_UpdateNode(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(New(Config{Fs: release(t, "8", testImage), Authenticator: auth.Static(testAccessToken)}))
	defer ts.Close()
	slots := ota.NewSlots(afero.NewMemMapFs(), "/var/lib/sensor-node")
	restarter := new(nopRestarter)
	checker := ota.NewChecker(ota.Config{
		Enabled:        true,
		URL:            ts.URL + "/",
		CurrentVersion: 7,
		Token:          testAccessToken,
		Timeout:        2 * time.Second,
	}, slots, restarter)

	res := checker.CheckAndApply(context.Background())
	require.Equal(t, ota.Applied, res.Outcome, res.Err)
	assert.Equal(t, 1, restarter.calls)
	rec, ok, err := slots.Boot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8, rec.Version)

	res = checker.CheckAndApply(context.Background())
	assert.Equal(t, ota.UpToDate, res.Outcome)
}

type nopRestarter struct {
	calls int
}

func (r *nopRestarter) Restart(ctx context.Context) error {
	r.calls++
	return nil
}
