// Package local writes downloaded files into the output directory and
// watches local files for changes.
package local

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/torfstack/ftpsync/internal/logging"
)

const partSuffix = ".part"

// File is a file written to the output directory.
type File struct {
	Path        string
	Size        int64
	ContentHash []byte
}

func (f *File) Checksum() string {
	return hex.EncodeToString(f.ContentHash)
}

// Output writes files into the output filesystem. Files are written next to
// their destination first and renamed into place once complete, so a broken
// transfer never leaves a truncated file under the final name.
type Output struct {
	fs afero.Fs
}

func NewOutput(fs afero.Fs) *Output {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Output{fs: fs}
}

// Create writes content to path. When verify is set it is called with the
// written file before it is moved into place; an error discards the file.
func (o *Output) Create(path string, content io.Reader, verify func(*File) error) (*File, error) {
	if err := o.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create directory for '%s': %w", path, err)
	}

	part := path + partSuffix
	file, err := o.fs.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open file for writing: %w", err)
	}
	sha := sha256.New()
	_, err = io.Copy(io.MultiWriter(file, sha), content)
	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("could not close file '%s': %w", part, closeErr)
	}
	if err != nil {
		o.discard(part)
		return nil, fmt.Errorf("could not copy content to file: %w", err)
	}

	info, err := o.fs.Stat(part)
	if err != nil {
		o.discard(part)
		return nil, fmt.Errorf("could not stat '%s': %w", part, err)
	}
	f := &File{
		Path:        path,
		Size:        info.Size(),
		ContentHash: sha.Sum(nil),
	}
	if verify != nil {
		if err = verify(f); err != nil {
			o.discard(part)
			return nil, err
		}
	}

	if err = o.fs.Rename(part, path); err != nil {
		o.discard(part)
		return nil, fmt.Errorf("could not move '%s' into place: %w", path, err)
	}
	return f, nil
}

func (o *Output) discard(path string) {
	if err := o.fs.Remove(path); err != nil {
		logging.Debugf("Could not remove partial file '%s': %s", path, err)
	}
}
