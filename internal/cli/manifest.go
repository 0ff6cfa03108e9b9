package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes how to materialize a dataset database from JSONL
// sources.
type Manifest struct {
	Codec     string           `yaml:"codec"`
	BatchSize int              `yaml:"batch_size"`
	Sources   []ManifestSource `yaml:"sources"`
}

// ManifestSource is one JSONL file to ingest. Instances read from it get
// example ids of the form "<prefix>_<n>" with n counting from zero.
type ManifestSource struct {
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

// LoadManifest reads and validates a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if len(m.Sources) == 0 {
		return nil, fmt.Errorf("manifest has no sources")
	}
	seen := make(map[string]struct{}, len(m.Sources))
	for i, src := range m.Sources {
		if src.Path == "" {
			return nil, fmt.Errorf("source %d: path is required", i)
		}
		if src.Prefix == "" {
			return nil, fmt.Errorf("source %d: prefix is required", i)
		}
		if _, dup := seen[src.Prefix]; dup {
			return nil, fmt.Errorf("source %d: duplicate prefix %q", i, src.Prefix)
		}
		seen[src.Prefix] = struct{}{}
	}

	return &m, nil
}
