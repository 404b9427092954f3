package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/syncplay/go/clients"
	"gopkg.in/yaml.v3"
)

// Reference is one entry of the ranked time reference list
type Reference struct {
	Name    string                `yaml:"name"`
	Kind    clients.ReferenceKind `yaml:"kind"`
	URL     string                `yaml:"url"`
	Timeout time.Duration         `yaml:"timeout"`
}

// References is the file format of the reference list. Order is rank.
type References struct {
	References []Reference `yaml:"references"`
}

// LoadReferences reads the ranked reference list. A missing file yields an
// empty list, which makes the coordinator run on its local clock.
func LoadReferences(path string) ([]Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read references file: %w", err)
	}
	return ParseReferences(data)
}

// ParseReferences decodes and validates a reference list
func ParseReferences(data []byte) ([]Reference, error) {
	var file References
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse references: %w", err)
	}

	kinds := clients.GetReferenceKinds()
	seen := make(map[string]bool, len(file.References))
	for i, ref := range file.References {
		if ref.Name == "" {
			return nil, fmt.Errorf("reference %d has no name", i)
		}
		if seen[ref.Name] {
			return nil, fmt.Errorf("duplicate reference name %q", ref.Name)
		}
		seen[ref.Name] = true

		if err := clients.ValidateReferenceKind(ref.Kind); err != nil {
			return nil, fmt.Errorf("reference %q: %w", ref.Name, err)
		}
		if kinds[ref.Kind].NeedsURL && ref.URL == "" {
			return nil, fmt.Errorf("reference %q of kind %s needs a url", ref.Name, ref.Kind)
		}
	}
	return file.References, nil
}
