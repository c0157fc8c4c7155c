// Package store persists notes and clock state on local disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/peterbourgon/diskv/v3"

	appLog "simcal/internal/log"
	"simcal/internal/notes"
)

const noteExt = ".json"

var ErrBadKey = errors.New("store: invalid note id")

// Notes keeps one JSON document per note in a flat diskv directory.
type Notes struct {
	d *diskv.Diskv
}

var _ notes.Store = (*Notes)(nil)

// OpenNotes opens (or lazily creates) a note store under dir. Writes go
// through a sibling temp directory so a crash never leaves half a file.
func OpenNotes(dir string) *Notes {
	return &Notes{d: diskv.New(diskv.Options{
		BasePath:          dir,
		TempDir:           dir + ".tmp",
		AdvancedTransform: noteKeyToPath,
		InverseTransform:  notePathToKey,
		CacheSizeMax:      1024 * 1024,
		PathPerm:          0o700,
		FilePerm:          0o600,
	})}
}

func noteKeyToPath(key string) *diskv.PathKey {
	return &diskv.PathKey{Path: []string{}, FileName: key + noteExt}
}

// notePathToKey maps foreign files to the empty key, which Load skips.
func notePathToKey(pk *diskv.PathKey) string {
	if !strings.HasSuffix(pk.FileName, noteExt) {
		return ""
	}
	return strings.TrimSuffix(pk.FileName, noteExt)
}

func checkKey(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadKey, id)
	}
	return nil
}

// Load reads every stored note. Unreadable documents are logged and
// skipped.
func (s *Notes) Load() ([]notes.Note, error) {
	if _, err := os.Stat(s.d.BasePath); errors.Is(err, fs.ErrNotExist) {
		return []notes.Note{}, nil
	}
	out := make([]notes.Note, 0)
	for key := range s.d.Keys(nil) {
		if key == "" {
			continue
		}
		data, err := s.d.Read(key)
		if err != nil {
			appLog.Error("store: failed to read note", err, "key", key)
			continue
		}
		var n notes.Note
		if err := json.Unmarshal(data, &n); err != nil {
			appLog.Error("store: failed to decode note", err, "key", key)
			continue
		}
		if n.ID == "" {
			n.ID = key
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Notes) Save(n notes.Note) error {
	if err := checkKey(n.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode note %s: %w", n.ID, err)
	}
	if err := s.d.Write(n.ID, data); err != nil {
		return fmt.Errorf("store: write note %s: %w", n.ID, err)
	}
	return nil
}

// Delete removes a note. Deleting a note that is not stored is not an
// error.
func (s *Notes) Delete(id string) error {
	if err := checkKey(id); err != nil {
		return err
	}
	if err := s.d.Erase(id); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete note %s: %w", id, err)
	}
	return nil
}
