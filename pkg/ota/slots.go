package ota

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var (
	ErrTruncated  = errors.New("image truncated")
	ErrChecksum   = errors.New("image checksum mismatch")
	ErrEmptyImage = errors.New("empty image")
	ErrNoImage    = errors.New("active slot has no image")
)

const bootRecordFile = "boot.yaml"

type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// BootRecord names the slot the node boots from. It is only ever replaced
// wholesale, never edited in place.
type BootRecord struct {
	Active      Slot      `yaml:"active"`
	Version     int       `yaml:"version"`
	Checksum    string    `yaml:"checksum,omitempty"`
	InstalledAt time.Time `yaml:"installed_at,omitempty"`
}

// Slots is an A/B image store. Installs always target the inactive slot so a
// failed write never touches the image currently in use.
type Slots struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

func NewSlots(fs afero.Fs, dir string) *Slots {
	return &Slots{
		fs:  fs,
		dir: dir,
		now: time.Now,
	}
}

// Boot returns the current boot record. ok is false when nothing has been
// installed yet.
func (s *Slots) Boot() (rec BootRecord, ok bool, err error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, bootRecordFile))
	if errors.Is(err, os.ErrNotExist) {
		return BootRecord{Active: SlotA}, false, nil
	}
	if err != nil {
		return BootRecord{}, false, err
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return BootRecord{}, false, fmt.Errorf("invalid boot record: %w", err)
	}
	if rec.Active != SlotA && rec.Active != SlotB {
		return BootRecord{}, false, fmt.Errorf("invalid boot record: unknown slot %q", rec.Active)
	}
	return rec, true, nil
}

func (s *Slots) ImagePath(slot Slot) string {
	return filepath.Join(s.dir, "slot-"+string(slot), "image.bin")
}

// Version returns the version of the active image, or configured when no
// image has been installed.
func (s *Slots) Version(configured int) (int, error) {
	rec, ok, err := s.Boot()
	if err != nil {
		return 0, err
	}
	if !ok {
		return configured, nil
	}
	return rec.Version, nil
}

// Pending returns the active slot image when a boot record exists and self,
// the running executable, is not that image.
func (s *Slots) Pending(self string) (string, bool, error) {
	rec, ok, err := s.Boot()
	if err != nil || !ok {
		return "", false, err
	}
	path := s.ImagePath(rec.Active)
	if filepath.Clean(self) == path {
		return "", false, nil
	}
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, fmt.Errorf("%w: %s", ErrNoImage, path)
	}
	return path, true, nil
}

// Restore puts back a boot record read before an install. ok false removes
// the record so the factory image is active again.
func (s *Slots) Restore(rec BootRecord, ok bool) error {
	if ok {
		return s.writeBoot(rec)
	}
	return s.Reset()
}

// Reset removes the boot record.
func (s *Slots) Reset() error {
	err := s.fs.Remove(filepath.Join(s.dir, bootRecordFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Install streams an image into the inactive slot and activates it. size is
// the expected length (negative when unknown) and checksum the expected hex
// MD5 digest (empty when unknown). On any error the boot record is left as it
// was.
func (s *Slots) Install(r io.Reader, size int64, checksum string, version int) (BootRecord, error) {
	current, _, err := s.Boot()
	if err != nil {
		return BootRecord{}, err
	}
	target := current.Active.Other()
	path := s.ImagePath(target)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return BootRecord{}, err
	}
	part := path + ".part"
	f, err := s.fs.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return BootRecord{}, err
	}
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		// an interrupted stream is a truncated image
		err = fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = verify(n, size, hex.EncodeToString(h.Sum(nil)), checksum)
	}
	if err != nil {
		_ = s.fs.Remove(part)
		return BootRecord{}, err
	}
	if err := s.fs.Rename(part, path); err != nil {
		return BootRecord{}, err
	}
	rec := BootRecord{
		Active:      target,
		Version:     version,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		InstalledAt: s.now().UTC(),
	}
	if err := s.writeBoot(rec); err != nil {
		return BootRecord{}, err
	}
	return rec, nil
}

func verify(n, size int64, sum, want string) error {
	if n == 0 {
		return ErrEmptyImage
	}
	if size >= 0 && n != size {
		return fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, size)
	}
	if want != "" && !strings.EqualFold(sum, want) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksum, sum, want)
	}
	return nil
}

func (s *Slots) writeBoot(rec BootRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, bootRecordFile)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, path)
}
