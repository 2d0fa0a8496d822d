// Package fileloader loads SDK configuration from a YAML file.
package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ricoh-sdca/dapi/internal/config"
)

// FileLoader loads configuration from a file on disk.
type FileLoader struct{ path string }

// NewFileLoader creates a loader for the given path.
func NewFileLoader(path string) *FileLoader { return &FileLoader{path: path} }

// Load reads and parses the configuration file. Fields absent from the
// document keep their defaults.
func (l *FileLoader) Load(_ context.Context) (*config.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", l.path, err)
	}
	return cfg, nil
}
