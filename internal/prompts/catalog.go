// Package prompts holds the instruction sets sent to the generation service.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog is the parsed prompt catalog.
type Catalog struct {
	Personas   map[string]string `yaml:"personas"`
	Platforms  map[string]string `yaml:"platforms"`
	Extraction struct {
		Link     string `yaml:"link"`
		Document string `yaml:"document"`
	} `yaml:"extraction"`
	Summary    string `yaml:"summary"`
	Chunks     string `yaml:"chunks"`
	Stage      string `yaml:"stage"`
	Suggestion string `yaml:"suggestion"`
	Opener     string `yaml:"opener"`
	Reengage   string `yaml:"reengage"`
	Learning   string `yaml:"learning"`
}

// Parse decodes a catalog and checks that every instruction is present.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	for _, p := range []domain.Persona{domain.PersonaSetter, domain.PersonaCloser} {
		if strings.TrimSpace(c.Personas[string(p)]) == "" {
			return nil, fmt.Errorf("prompt catalog: missing persona %q", p)
		}
	}
	for name, v := range map[string]string{
		"extraction.link":     c.Extraction.Link,
		"extraction.document": c.Extraction.Document,
		"summary":             c.Summary,
		"chunks":              c.Chunks,
		"stage":               c.Stage,
		"suggestion":          c.Suggestion,
		"opener":              c.Opener,
		"reengage":            c.Reengage,
		"learning":            c.Learning,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("prompt catalog: missing %s", name)
		}
	}
	return &c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(catalogYAML)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultCatalog
}

// Persona returns the instruction set for the persona, falling back to the setter.
func (c *Catalog) Persona(p domain.Persona) string {
	if v, ok := c.Personas[string(p)]; ok {
		return v
	}
	return c.Personas[string(domain.PersonaSetter)]
}

// Platform returns extraction guidance for a link's platform.
func (c *Catalog) Platform(p domain.Platform) string {
	switch {
	case p.IsShortForm():
		return c.Platforms["short_form"]
	case p == domain.PlatformWeb:
		return c.Platforms["web"]
	default:
		return c.Platforms["long_form"]
	}
}
