package resolve

import (
	"fmt"
	"strings"

	"github.com/inspectio/finding-overrides/pkg/findings"
)

// Mode selects which ledger rows are visible to resolution.
type Mode int

const (
	// Production sees published overrides only.
	Production Mode = iota
	// PreviewDraft lets an active draft take precedence over the published row.
	PreviewDraft
)

func (m Mode) String() string {
	switch m {
	case Production:
		return "production"
	case PreviewDraft:
		return "preview"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a query value onto a Mode. The empty string is Production.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod":
		return Production, nil
	case "preview", "preview_draft", "draft":
		return PreviewDraft, nil
	}
	return Production, findings.NewValidationError("mode", "unknown resolution mode %q", s)
}

// Source reports where an effective value came from.
type Source string

const (
	SourceSeed     Source = "seed"
	SourceOverride Source = "override"
)

// Outcome is the result of resolving one family for one finding: either the
// Seed baseline or a whole Override record. There are no other variants.
type Outcome[V findings.Dimensions | findings.Messages] interface {
	Source() Source
	Values() V
	outcome()
}

// Seed is the baseline value of a finding.
type Seed[V findings.Dimensions | findings.Messages] struct {
	Record V
}

func (Seed[V]) Source() Source { return SourceSeed }

func (s Seed[V]) Values() V { return s.Record }

func (Seed[V]) outcome() {}

// Override is the full record of the winning ledger row. Fields the operator
// left unset stay unset; they are never filled from the seed.
type Override[V findings.Dimensions | findings.Messages] struct {
	Version int
	Status  findings.Status
	Label   string
	Record  V
}

func (Override[V]) Source() Source { return SourceOverride }

func (o Override[V]) Values() V { return o.Record }

func (Override[V]) outcome() {}

// EffectiveDimensions is the resolved dimension view of one finding.
type EffectiveDimensions struct {
	FindingID       string                       `json:"finding_id" yaml:"finding_id"`
	Dimensions      findings.Dimensions          `json:"dimensions" yaml:"dimensions"`
	Source          Source                       `json:"dimensions_source" yaml:"dimensions_source"`
	OverrideVersion *int                         `json:"override_version" yaml:"override_version"`
	OverrideStatus  findings.Status              `json:"override_status,omitempty" yaml:"override_status,omitempty"`
	Outcome         Outcome[findings.Dimensions] `json:"-" yaml:"-"`
}

// EffectiveMessages is the resolved narrative of one finding in one language.
type EffectiveMessages struct {
	FindingID       string                     `json:"finding_id" yaml:"finding_id"`
	Lang            string                     `json:"lang" yaml:"lang"`
	Messages        findings.Messages          `json:"messages" yaml:"messages"`
	Source          Source                     `json:"messages_source" yaml:"messages_source"`
	OverrideVersion *int                       `json:"override_version" yaml:"override_version"`
	OverrideStatus  findings.Status            `json:"override_status,omitempty" yaml:"override_status,omitempty"`
	Outcome         Outcome[findings.Messages] `json:"-" yaml:"-"`
}

func newEffectiveDimensions(id string, o Outcome[findings.Dimensions]) EffectiveDimensions {
	eff := EffectiveDimensions{FindingID: id, Dimensions: o.Values(), Source: o.Source(), Outcome: o}
	if ov, ok := o.(Override[findings.Dimensions]); ok {
		v := ov.Version
		eff.OverrideVersion = &v
		eff.OverrideStatus = ov.Status
	}
	return eff
}

func newEffectiveMessages(id, lang string, o Outcome[findings.Messages]) EffectiveMessages {
	eff := EffectiveMessages{FindingID: id, Lang: lang, Messages: o.Values(), Source: o.Source(), Outcome: o}
	if ov, ok := o.(Override[findings.Messages]); ok {
		v := ov.Version
		eff.OverrideVersion = &v
		eff.OverrideStatus = ov.Status
	}
	return eff
}
