package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileStore reads ArchiveConfig from an operator-edited YAML file.
// The file is re-read on every Load so edits apply to the next job run.
//
//	inactivity_threshold: 30m
//	hot:
//	  max_age: 24h
//	cold:
//	  target_count: 100
//	  retention: 90d
type FileStore struct {
	path string
}

// NewFileStore creates a config store backed by the YAML file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load parses the file and overlays it on the defaults
func (s *FileStore) Load(ctx context.Context) (ArchiveConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ArchiveConfig{}, fmt.Errorf("failed to read archive config file: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ArchiveConfig{}, fmt.Errorf("failed to parse archive config file: %w", err)
	}

	values := make(map[string]string)
	flatten("", doc, values)
	return FromValues(values)
}

// flatten turns nested YAML mappings into dotted keys
func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// StaticStore always returns the same config. Useful for tests and one-off runs.
type StaticStore struct {
	Config ArchiveConfig
}

// Load returns the static config after validating it
func (s StaticStore) Load(ctx context.Context) (ArchiveConfig, error) {
	if err := s.Config.Validate(); err != nil {
		return ArchiveConfig{}, err
	}
	return s.Config, nil
}
