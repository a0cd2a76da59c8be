package judge

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MediaStore stores public media files (statement images) under a root
// directory and maps them to public URLs. The filesystem is abstracted so
// tests can run on an in-memory one.
type MediaStore struct {
	fs      afero.Fs
	root    string
	baseURL string
}

// NewMediaStore creates a media store rooted at root, served under baseURL.
func NewMediaStore(fs afero.Fs, root, baseURL string) *MediaStore {
	return &MediaStore{fs: fs, root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Save writes src to the given store-relative path, creating parent
// directories as needed.
func (m *MediaStore) Save(name string, src io.Reader) error {
	full := m.Path(name)
	if err := m.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("could not create media directory for %s: %w", name, err)
	}
	dst, err := m.fs.Create(full)
	if err != nil {
		return fmt.Errorf("could not create media file %s: %w", name, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("could not write media file %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the store-relative path exists.
func (m *MediaStore) Exists(name string) (bool, error) {
	return afero.Exists(m.fs, m.Path(name))
}

// ListDir lists the entry names directly under the store-relative path.
// A missing directory lists as empty.
func (m *MediaStore) ListDir(name string) ([]string, error) {
	infos, err := afero.ReadDir(m.fs, m.Path(name))
	if err != nil {
		if exists, statErr := afero.DirExists(m.fs, m.Path(name)); statErr == nil && !exists {
			return nil, nil
		}
		return nil, fmt.Errorf("could not list media directory %s: %w", name, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Path returns the filesystem path of a store-relative name.
func (m *MediaStore) Path(name string) string {
	return filepath.Join(m.root, filepath.FromSlash(name))
}

// RemoveAll deletes the store-relative path and everything under it.
func (m *MediaStore) RemoveAll(name string) error {
	return m.fs.RemoveAll(m.Path(name))
}

// URL returns the public URL of a store-relative name.
func (m *MediaStore) URL(name string) string {
	return m.baseURL + "/" + path.Clean(name)
}
