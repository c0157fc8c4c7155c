package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"simcal/internal/clock"
)

// ClockFile stores the clock state as a small YAML document that is
// replaced atomically on every save.
type ClockFile struct {
	path string
}

var _ clock.StateStore = (*ClockFile)(nil)

func NewClockFile(path string) *ClockFile {
	return &ClockFile{path: path}
}

func (f *ClockFile) Path() string { return f.path }

func (f *ClockFile) Load() (clock.State, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return clock.State{}, false, nil
		}
		return clock.State{}, false, fmt.Errorf("store: read clock state: %w", err)
	}
	var st clock.State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return clock.State{}, false, fmt.Errorf("store: decode clock state: %w", err)
	}
	return st, true, nil
}

func (f *ClockFile) Save(st clock.State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode clock state: %w", err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store: write clock state: %w", err)
	}
	return nil
}
