package client

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// SaveSession writes the serialized session to path, creating parent
// directories. The file is readable by the owner only.
func SaveSession(fs afero.Fs, path string, s *Session) error {
	data, err := s.Serialize()
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, []byte(data), 0600)
}

// LoadSession reads a session saved by SaveSession.
func LoadSession(fs afero.Fs, path string, opts ...SessionOption) (*Session, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return Deserialize(string(data), opts...)
}

// DeleteSession removes a saved session. A missing file is not an error.
func DeleteSession(fs afero.Fs, path string) error {
	err := fs.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
