package ota

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlots_Install(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	ts := time.Date(2024, time.May, 3, 6, 0, 0, 0, time.UTC)
	s := NewSlots(fs, "/data")
	s.now = func() time.Time { return ts }

	rec, ok, err := s.Boot()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, SlotA, rec.Active)

	rec, err = s.Install(bytes.NewReader(testImage), int64(len(testImage)), "", 8)
	require.NoError(t, err)
	assert.Equal(t, BootRecord{Active: SlotB, Version: 8, Checksum: md5Hex(testImage), InstalledAt: ts}, rec)

	next := []byte("firmware v9")
	rec, err = s.Install(bytes.NewReader(next), -1, md5Hex(next), 9)
	require.NoError(t, err)
	assert.Equal(t, SlotA, rec.Active)

	got, ok, err := s.Boot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
	exists, err := afero.Exists(fs, s.ImagePath(SlotB)+".part")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSlots_Install_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		size     int64
		checksum string
		err      error
	}{
		{"empty", nil, 0, "", ErrEmptyImage},
		{"short", testImage, int64(len(testImage)) + 1, "", ErrTruncated},
		{"checksum", testImage, -1, md5Hex([]byte("x")), ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			s := NewSlots(fs, "/data")
			_, err := s.Install(bytes.NewReader(tt.data), tt.size, tt.checksum, 8)
			assert.ErrorIs(t, err, tt.err)
			_, ok, err := s.Boot()
			require.NoError(t, err)
			assert.False(t, ok)
			exists, err := afero.Exists(fs, s.ImagePath(SlotB)+".part")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestSlots_Boot_Invalid(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/boot.yaml", []byte("active: c\nversion: 3\n"), 0o644))
	_, _, err := NewSlots(fs, "/data").Boot()
	assert.Error(t, err)
}

func TestSlots_Version(t *testing.T) {
	t.Parallel()

	s := NewSlots(afero.NewMemMapFs(), "/data")
	v, err := s.Version(7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = s.Install(bytes.NewReader(testImage), -1, "", 8)
	require.NoError(t, err)
	v, err = s.Version(7)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestSlots_Restore(t *testing.T) {
	t.Parallel()

	s := NewSlots(afero.NewMemMapFs(), "/data")
	prev, ok, err := s.Boot()
	require.NoError(t, err)
	_, err = s.Install(bytes.NewReader(testImage), -1, "", 8)
	require.NoError(t, err)
	require.NoError(t, s.Restore(prev, ok))
	_, ok, err = s.Boot()
	require.NoError(t, err)
	assert.False(t, ok)
	// nothing left to remove
	require.NoError(t, s.Reset())

	first, err := s.Install(bytes.NewReader(testImage), -1, "", 8)
	require.NoError(t, err)
	_, err = s.Install(bytes.NewReader(testImage), -1, "", 9)
	require.NoError(t, err)
	require.NoError(t, s.Restore(first, true))
	got, ok, err := s.Boot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, got)
}
