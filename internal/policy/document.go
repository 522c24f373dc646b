package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDocument reads and parses a YAML policy document from path, per
// spec.md §4.3 "a local document" source.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy document %q: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document %q: %w", path, err)
	}
	if doc.DefaultPolicy == "" {
		doc.DefaultPolicy = "deny"
	}
	return &doc, nil
}
