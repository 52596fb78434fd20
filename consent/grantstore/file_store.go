// Package grantstore persists consent decisions to a YAML file.
package grantstore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/falconeta/wificonnect/consent"
)

type fileStoreConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func defaultFileStoreConfig() fileStoreConfig {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return fileStoreConfig{
		path:     filepath.Join(dir, "wificonnect", "grants.yaml"),
		dirPerm:  0o755,
		filePerm: 0o600,
	}
}

// Option configures a FileStore.
type Option func(*fileStoreConfig)

// WithPath sets the path to the grants file.
func WithPath(path string) Option {
	return func(c *fileStoreConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFilePermissions sets the mode of the grants file. Default is 0o600.
func WithFilePermissions(perm os.FileMode) Option {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// grantFile is the on-disk layout.
type grantFile struct {
	Version int                               `yaml:"version"`
	Grants  map[consent.Consent]consent.State `yaml:"grants"`
}

const fileVersion = 1

// FileStore implements consent.Store on a YAML file.
type FileStore struct {
	config fileStoreConfig
}

// New creates a FileStore.
func New(opts ...Option) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Load reads recorded decisions. A missing file is an empty ledger.
func (s *FileStore) Load() (map[consent.Consent]consent.State, error) {
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		return map[consent.Consent]consent.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read grant store: %w", err)
	}

	var f grantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse grant store: %w", err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("grant store version %d is newer than supported %d", f.Version, fileVersion)
	}
	if f.Grants == nil {
		f.Grants = map[consent.Consent]consent.State{}
	}
	return f.Grants, nil
}

// Save writes decisions, creating the parent directory if needed.
func (s *FileStore) Save(grants map[consent.Consent]consent.State) error {
	data, err := yaml.Marshal(grantFile{Version: fileVersion, Grants: grants})
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.config.path), s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create grant store directory: %w", err)
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := s.config.path + ".tmp"
	if err := os.WriteFile(tmp, data, s.config.filePerm); err != nil {
		return fmt.Errorf("failed to write grant store: %w", err)
	}
	if err := os.Rename(tmp, s.config.path); err != nil {
		return fmt.Errorf("failed to write grant store: %w", err)
	}
	return nil
}

// Path returns the location of the grants file.
func (s *FileStore) Path() string {
	return s.config.path
}
