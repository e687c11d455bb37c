package state

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

// Key is the document key the registry state is stored under.
const Key = "ex-ftp-state"

// Document is a state file. Keys other than Key are carried over untouched
// from the input document to the output document.
type Document struct {
	entries map[string]json.RawMessage
}

func NewDocument() *Document {
	return &Document{entries: make(map[string]json.RawMessage)}
}

// LoadDocument reads the document at path. A missing or empty file yields an
// empty document.
func LoadDocument(afs afero.Fs, path string) (*Document, error) {
	b, err := afero.ReadFile(afs, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewDocument(), nil
	case err != nil:
		return nil, fmt.Errorf("could not read state file '%s': %w", path, err)
	}
	d := NewDocument()
	if len(b) == 0 {
		return d, nil
	}
	if err = json.Unmarshal(b, &d.entries); err != nil {
		return nil, fmt.Errorf("could not decode state file '%s': %w", path, err)
	}
	if d.entries == nil {
		d.entries = make(map[string]json.RawMessage)
	}
	return d, nil
}

// Registry decodes the registry state, or returns an empty registry when the
// document has none.
func (d *Document) Registry() (*Registry, error) {
	raw, ok := d.entries[Key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return NewRegistry(State{}), nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("could not decode '%s' state: %w", Key, err)
	}
	return NewRegistry(s), nil
}

func (d *Document) SetRegistry(r *Registry) error {
	raw, err := json.Marshal(r.State())
	if err != nil {
		return fmt.Errorf("could not encode '%s' state: %w", Key, err)
	}
	d.entries[Key] = raw
	return nil
}

// Save writes the document to path, replacing any previous file atomically.
func (d *Document) Save(afs afero.Fs, path string) error {
	b, err := json.MarshalIndent(d.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode state document: %w", err)
	}
	if err = afs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create state directory for '%s': %w", path, err)
	}
	tmp := path + ".tmp"
	if err = afero.WriteFile(afs, tmp, b, 0644); err != nil {
		return fmt.Errorf("could not write state file '%s': %w", tmp, err)
	}
	if err = afs.Rename(tmp, path); err != nil {
		_ = afs.Remove(tmp)
		return fmt.Errorf("could not move state file into place '%s': %w", path, err)
	}
	return nil
}

// Persist stores r in the document read from inputPath and writes the result
// to outputPath.
func Persist(afs afero.Fs, inputPath, outputPath string, r *Registry) error {
	d, err := LoadDocument(afs, inputPath)
	if err != nil {
		return err
	}
	if err = d.SetRegistry(r); err != nil {
		return err
	}
	return d.Save(afs, outputPath)
}
