package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes and validates one Profile. source names the origin in errors.
func Parse(data []byte, source string) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", source, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy %s: %w", source, err)
	}
	return &p, nil
}

// LoadFromFile reads a single Profile from a YAML file.
func LoadFromFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Parse(data, path)
}

// LoadFromDirectory reads every .yaml/.yml file in dir in name order.
// A missing directory yields no profiles and no error. Two files defining
// the same profile name are rejected.
func LoadFromDirectory(dir string) ([]Profile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && isYAML(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)

	profiles := make([]Profile, 0, len(files))
	origin := make(map[string]string, len(files))
	for _, path := range files {
		p, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := origin[p.Name]; dup {
			return nil, fmt.Errorf("policy %q defined in both %s and %s", p.Name, prev, path)
		}
		origin[p.Name] = path
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
