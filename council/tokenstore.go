package council

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type sessionFile struct {
	AccessToken string    `yaml:"access_token"`
	SavedAt     time.Time `yaml:"saved_at"`
}

// FileTokenStore keeps the token in a small YAML file readable only by
// the owner.
type FileTokenStore struct {
	Path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	var f sessionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return f.AccessToken, nil
}

func (s *FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(sessionFile{AccessToken: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileTokenStore) Clear() error {
	err := os.Remove(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryTokenStore is a TokenStore that lives only as long as the process.
type MemoryTokenStore struct {
	token string
}

func (s *MemoryTokenStore) Load() (string, error) { return s.token, nil }

func (s *MemoryTokenStore) Save(token string) error {
	s.token = token
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.token = ""
	return nil
}
