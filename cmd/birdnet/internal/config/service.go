package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// serviceExts are the file extensions recognized as service configs, in
// lookup order.
var serviceExts = []string{".yaml", ".yml"}

// ServicePath returns the YAML file path for a service within a context,
// e.g. ".../contexts/field/birdnet.yaml".
func (c *Config) ServicePath(context, service string) string {
	return serviceFile(c.ContextDir(context), service)
}

// serviceFile returns the existing config file for service in dir, falling
// back to the .yaml name when none exists yet.
func serviceFile(dir, service string) string {
	for _, ext := range serviceExts {
		p := filepath.Join(dir, service+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, service+serviceExts[0])
}

// LoadService decodes the service config file in contextDir into a T.
// Unknown keys are rejected.
func LoadService[T any](contextDir, service string) (*T, error) {
	path := serviceFile(contextDir, service)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("service config %q not found in context (expected: %s)", service, path)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	v := new(T)
	if err := yaml.UnmarshalWithOptions(data, v, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// SaveService writes v as the service config in contextDir. The file is
// replaced atomically.
func SaveService[T any](contextDir, service string, v *T) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s config: %w", service, err)
	}
	if err := os.MkdirAll(contextDir, 0755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}

	path := serviceFile(contextDir, service)
	tmp, err := os.CreateTemp(contextDir, "."+service+"-*.yaml")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ListServices returns the sorted service names configured in contextDir.
func ListServices(contextDir string) ([]string, error) {
	entries, err := os.ReadDir(contextDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	var services []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ext := filepath.Ext(name)
		if slices.Contains(serviceExts, ext) {
			services = append(services, strings.TrimSuffix(name, ext))
		}
	}
	slices.Sort(services)
	return slices.Compact(services), nil
}
