package models

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var embeddedManifest []byte

// ErrUnknownVariant is returned when a tier name is not present in the manifest.
var ErrUnknownVariant = errors.New("models: unknown variant")

// Manifest lists the model tiers known to the server, ordered from the
// smallest to the largest.
type Manifest struct {
	Variants []Variant `yaml:"tiers"`
}

// Variant describes a single model tier and the artefacts available for it.
type Variant struct {
	Name        string          `yaml:"name"`
	DisplayName string          `yaml:"display_name"`
	RemoteModel string          `yaml:"remote_model,omitempty"`
	Files       map[string]File `yaml:"files"`
}

// File is one downloadable model artefact for a given precision.
type File struct {
	Filename  string `yaml:"filename"`
	URL       string `yaml:"url,omitempty"`
	SHA256    string `yaml:"sha256,omitempty"`
	SizeBytes int64  `yaml:"size_bytes,omitempty"`
}

// DefaultManifest returns the manifest compiled into the binary.
func DefaultManifest() (Manifest, error) {
	return LoadManifest(strings.NewReader(string(embeddedManifest)))
}

// LoadManifest parses a YAML manifest and validates its entries.
func LoadManifest(r io.Reader) (Manifest, error) {
	var manifest Manifest
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("models: decode manifest: %w", err)
	}
	if len(manifest.Variants) == 0 {
		return Manifest{}, errors.New("models: manifest is empty")
	}
	seen := make(map[string]struct{}, len(manifest.Variants))
	for i, v := range manifest.Variants {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return Manifest{}, fmt.Errorf("models: tier %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return Manifest{}, fmt.Errorf("models: duplicate tier %q", name)
		}
		seen[name] = struct{}{}
		manifest.Variants[i].Name = name
	}
	return manifest, nil
}

// Encode writes the manifest back as YAML.
func (m Manifest) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("models: encode manifest: %w", err)
	}
	return enc.Close()
}

// Catalog returns the tier names in manifest order.
func (m Manifest) Catalog() []string {
	names := make([]string, 0, len(m.Variants))
	for _, v := range m.Variants {
		names = append(names, v.Name)
	}
	return names
}

// Lookup returns the variant with the given name.
func (m Manifest) Lookup(name string) (Variant, error) {
	for _, v := range m.Variants {
		if v.Name == name {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w %q", ErrUnknownVariant, name)
}

// File returns the artefact for the requested precision.
func (v Variant) File(precision string) (File, error) {
	f, ok := v.Files[precision]
	if !ok || strings.TrimSpace(f.Filename) == "" {
		return File{}, fmt.Errorf("models: variant %q has no %s artefact", v.Name, precision)
	}
	return f, nil
}
