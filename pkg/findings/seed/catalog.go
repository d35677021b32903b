// Package seed loads the read-only baseline catalog of findings: default
// dimension values and default narrative text per language.
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/priority"
)

// Definition is a static catalog entry.
type Definition struct {
	FindingID      string                       `yaml:"finding_id" json:"finding_id"`
	Title          string                       `yaml:"title" json:"title"`
	Category       string                       `yaml:"category,omitempty" json:"category,omitempty"`
	Tags           []string                     `yaml:"tags,omitempty" json:"tags,omitempty"`
	LegacyPriority *priority.Priority           `yaml:"legacy_priority,omitempty" json:"legacy_priority,omitempty"`
	Dimensions     findings.Dimensions          `yaml:"dimensions,omitempty" json:"dimensions"`
	Messages       map[string]findings.Messages `yaml:"messages,omitempty" json:"messages,omitempty"`
}

// Catalog is the seed provider consumed by the resolution engine.
type Catalog interface {
	// Get returns the definition for id. The second value is false when the
	// catalog does not know the finding.
	Get(id string) (*Definition, bool)
	// IDs returns every finding id in ascending order.
	IDs() []string
	// DefaultLang is the language used when a finding has no seed text in
	// the requested language.
	DefaultLang() string
}

// StaticCatalog is an immutable in-memory Catalog.
type StaticCatalog struct {
	defaultLang string
	byID        map[string]*Definition
	ids         []string
}

type catalogFile struct {
	DefaultLang string       `yaml:"default_lang"`
	Findings    []Definition `yaml:"findings"`
}

// NewStaticCatalog builds a catalog from definitions. Duplicate or invalid
// entries are rejected.
func NewStaticCatalog(defaultLang string, defs []Definition) (*StaticCatalog, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	c := &StaticCatalog{
		defaultLang: findings.NormalizeLang(defaultLang),
		byID:        make(map[string]*Definition, len(defs)),
	}
	for i := range defs {
		def := defs[i]
		if err := validateDefinition(def, i); err != nil {
			return nil, err
		}
		if _, dup := c.byID[def.FindingID]; dup {
			return nil, fmt.Errorf("entry %d: duplicate finding_id %q", i, def.FindingID)
		}
		if len(def.Messages) > 0 {
			normalized := make(map[string]findings.Messages, len(def.Messages))
			for lang, msg := range def.Messages {
				normalized[findings.NormalizeLang(lang)] = msg
			}
			def.Messages = normalized
		}
		c.byID[def.FindingID] = &def
		c.ids = append(c.ids, def.FindingID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Parse decodes a seed catalog document. Unknown fields are an error.
func Parse(data []byte, defaultLang string) (*StaticCatalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed catalog YAML: %w", err)
	}
	if file.DefaultLang != "" {
		defaultLang = file.DefaultLang
	}
	return NewStaticCatalog(defaultLang, file.Findings)
}

// Load reads and parses a seed catalog file.
func Load(path, defaultLang string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed catalog %s: %w", path, err)
	}
	return Parse(data, defaultLang)
}

// Get implements Catalog.
func (c *StaticCatalog) Get(id string) (*Definition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// IDs implements Catalog.
func (c *StaticCatalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// DefaultLang implements Catalog.
func (c *StaticCatalog) DefaultLang() string { return c.defaultLang }

// Len returns the number of definitions.
func (c *StaticCatalog) Len() int { return len(c.ids) }

// SeedMessages returns the seed narrative for lang, falling back to the
// default language. The second value is false when neither exists.
func SeedMessages(c Catalog, def *Definition, lang string) (findings.Messages, bool) {
	if def == nil {
		return findings.Messages{}, false
	}
	if msg, ok := def.Messages[findings.NormalizeLang(lang)]; ok {
		return msg, true
	}
	msg, ok := def.Messages[c.DefaultLang()]
	return msg, ok
}

func validateDefinition(def Definition, index int) error {
	if def.FindingID == "" {
		return fmt.Errorf("entry %d: field 'finding_id' is required", index)
	}
	if err := def.Dimensions.Validate(); err != nil {
		return fmt.Errorf("entry %d (%s): %w", index, def.FindingID, err)
	}
	if def.LegacyPriority != nil && !def.LegacyPriority.Valid() {
		return fmt.Errorf("entry %d (%s): unknown legacy_priority %q", index, def.FindingID, *def.LegacyPriority)
	}
	for lang, msg := range def.Messages {
		if findings.NormalizeLang(lang) == "" {
			return fmt.Errorf("entry %d (%s): blank message language", index, def.FindingID)
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("entry %d (%s/%s): %w", index, def.FindingID, lang, err)
		}
	}
	return nil
}
