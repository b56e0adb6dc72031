// Package registry discovers model files for the local inference backend.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"streamd/pkg/types"
)

// LoadDir scans a directory for *.gguf files and builds a registry from
// filenames. ID is the full filename (including extension); Path is the
// absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{ID: name, Name: name, Path: filepath.Join(abs, name)})
	}
	return models, nil
}

// Resolve maps a configured model id to its on-disk path. An empty id picks
// the sole registry entry when exactly one model is present.
func Resolve(models []types.Model, id string) (types.Model, error) {
	if id == "" {
		if len(models) == 1 {
			return models[0], nil
		}
		return types.Model{}, fmt.Errorf("model id required when %d models are available", len(models))
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("model not found: %s", id)
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
