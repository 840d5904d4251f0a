package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a titles file. YAML is a superset of JSON,
// so the same decoder reads both. Keys a document leaves out keep their
// defaults: a settings block starts from DefaultSettings and a title with
// no enabled key is tracked.
//
//	settings:
//	  enabled: true
//	  sensitivity: 0.4
//	titles:
//	  - name: Inception
//	    enabled: true
//	    keywords: [Cobb, totem]
type File struct {
	Settings *Settings      `yaml:"settings,omitempty"`
	Titles   []TrackedTitle `yaml:"titles"`
}

// LoadFile reads a titles file. Missing settings fall back to DefaultSettings.
func LoadFile(path string) ([]TrackedTitle, Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses a titles document from r.
func Decode(r io.Reader) ([]TrackedTitle, Settings, error) {
	var f File
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, Settings{}, fmt.Errorf("registry: decode: %w", err)
	}
	settings := DefaultSettings()
	if f.Settings != nil {
		settings = *f.Settings
	}
	titles, err := Normalize(f.Titles)
	if err != nil {
		return nil, Settings{}, err
	}
	return titles, settings, nil
}

// UnmarshalYAML decodes a settings block over DefaultSettings.
func (s *Settings) UnmarshalYAML(n *yaml.Node) error {
	type plain Settings
	p := plain(DefaultSettings())
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = Settings(p)
	return nil
}

// UnmarshalYAML decodes a title entry; a missing enabled key means enabled.
func (t *TrackedTitle) UnmarshalYAML(n *yaml.Node) error {
	type plain TrackedTitle
	p := plain{Enabled: true}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*t = TrackedTitle(p)
	return nil
}

// Encode writes titles and settings in the File format.
func Encode(w io.Writer, titles []TrackedTitle, settings Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Settings: &settings, Titles: titles}); err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	return enc.Close()
}
