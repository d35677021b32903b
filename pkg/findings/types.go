// Package findings holds the domain types shared by the seed catalog, the
// override ledger and the resolution engine.
package findings

import (
	"strings"

	"github.com/inspectio/finding-overrides/pkg/priority"
)

// EntityType names an override family.
type EntityType string

const (
	EntityDimensions EntityType = "dimensions"
	EntityMessages   EntityType = "messages"
)

// Valid reports whether e is a known family.
func (e EntityType) Valid() bool {
	return e == EntityDimensions || e == EntityMessages
}

// Status is the lifecycle status of an override row.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Key identifies one override sequence. Lang is empty for dimensions.
type Key struct {
	FindingID string `json:"finding_id"`
	Lang      string `json:"lang,omitempty"`
}

// DimensionsKey returns the key of a finding's dimension overrides.
func DimensionsKey(findingID string) Key { return Key{FindingID: findingID} }

// MessagesKey returns the key of a finding's message overrides in lang.
func MessagesKey(findingID, lang string) Key {
	return Key{FindingID: findingID, Lang: NormalizeLang(lang)}
}

// NormalizeLang lower-cases and trims a language tag.
func NormalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// String renders the key for logs.
func (k Key) String() string {
	if k.Lang == "" {
		return k.FindingID
	}
	return k.FindingID + "/" + k.Lang
}

// SafetyClass classifies the life-safety impact of a finding.
type SafetyClass string

const (
	SafetyCritical SafetyClass = "CRITICAL"
	SafetyHigh     SafetyClass = "HIGH"
	SafetyModerate SafetyClass = "MODERATE"
	SafetyLow      SafetyClass = "LOW"
)

// EscalationClass says who has to look at a finding next.
type EscalationClass string

const (
	EscalationEmergency     EscalationClass = "EMERGENCY_SERVICES"
	EscalationSpecialist    EscalationClass = "SPECIALIST"
	EscalationLicensedTrade EscalationClass = "LICENSED_TRADE"
	EscalationRoutine       EscalationClass = "ROUTINE"
)

// UrgencyClass is the time horizon for acting on a finding.
type UrgencyClass string

const (
	UrgencyNow        UrgencyClass = "NOW"
	UrgencyShortTerm  UrgencyClass = "SHORT_TERM"
	UrgencyMediumTerm UrgencyClass = "MEDIUM_TERM"
	UrgencyLongTerm   UrgencyClass = "LONG_TERM"
)

// LiabilityClass is the liability exposure if a finding is left unaddressed.
type LiabilityClass string

const (
	LiabilityHigh   LiabilityClass = "HIGH"
	LiabilityMedium LiabilityClass = "MEDIUM"
	LiabilityLow    LiabilityClass = "LOW"
	LiabilityNone   LiabilityClass = "NONE"
)

// Dimensions is the full set of nine structured attributes of a finding.
// A nil field is "unspecified". Fields are serialised without omitempty so an
// override that leaves a field unset renders as an explicit null.
type Dimensions struct {
	SafetyClass     *SafetyClass       `json:"safety_class" yaml:"safety_class,omitempty" gorm:"column:safety_class"`
	EscalationClass *EscalationClass   `json:"escalation_class" yaml:"escalation_class,omitempty" gorm:"column:escalation_class"`
	Severity        *int               `json:"severity" yaml:"severity,omitempty" gorm:"column:severity"`
	Likelihood      *int               `json:"likelihood" yaml:"likelihood,omitempty" gorm:"column:likelihood"`
	BudgetLow       *int               `json:"budget_low" yaml:"budget_low,omitempty" gorm:"column:budget_low"`
	BudgetHigh      *int               `json:"budget_high" yaml:"budget_high,omitempty" gorm:"column:budget_high"`
	Priority        *priority.Priority `json:"priority" yaml:"priority,omitempty" gorm:"column:priority"`
	UrgencyClass    *UrgencyClass      `json:"urgency_class" yaml:"urgency_class,omitempty" gorm:"column:urgency_class"`
	LiabilityClass  *LiabilityClass    `json:"liability_class" yaml:"liability_class,omitempty" gorm:"column:liability_class"`
}

// Validate checks enum membership and numeric ranges.
func (d Dimensions) Validate() error {
	if d.SafetyClass != nil && !oneOf(*d.SafetyClass, SafetyCritical, SafetyHigh, SafetyModerate, SafetyLow) {
		return invalid("safety_class", "unknown value %q", *d.SafetyClass)
	}
	if d.EscalationClass != nil && !oneOf(*d.EscalationClass, EscalationEmergency, EscalationSpecialist, EscalationLicensedTrade, EscalationRoutine) {
		return invalid("escalation_class", "unknown value %q", *d.EscalationClass)
	}
	if d.Severity != nil && (*d.Severity < 1 || *d.Severity > 5) {
		return invalid("severity", "must be between 1 and 5, got %d", *d.Severity)
	}
	if d.Likelihood != nil && (*d.Likelihood < 1 || *d.Likelihood > 5) {
		return invalid("likelihood", "must be between 1 and 5, got %d", *d.Likelihood)
	}
	if d.BudgetLow != nil && *d.BudgetLow < 0 {
		return invalid("budget_low", "must not be negative")
	}
	if d.BudgetHigh != nil && *d.BudgetHigh < 0 {
		return invalid("budget_high", "must not be negative")
	}
	if d.BudgetLow != nil && d.BudgetHigh != nil && *d.BudgetHigh < *d.BudgetLow {
		return invalid("budget_high", "must be >= budget_low (%d < %d)", *d.BudgetHigh, *d.BudgetLow)
	}
	if d.Priority != nil && !d.Priority.Valid() {
		return invalid("priority", "unknown value %q", *d.Priority)
	}
	if d.UrgencyClass != nil && !oneOf(*d.UrgencyClass, UrgencyNow, UrgencyShortTerm, UrgencyMediumTerm, UrgencyLongTerm) {
		return invalid("urgency_class", "unknown value %q", *d.UrgencyClass)
	}
	if d.LiabilityClass != nil && !oneOf(*d.LiabilityClass, LiabilityHigh, LiabilityMedium, LiabilityLow, LiabilityNone) {
		return invalid("liability_class", "unknown value %q", *d.LiabilityClass)
	}
	return nil
}

// Messages is the localized narrative of a finding. Empty strings are
// "unspecified".
type Messages struct {
	Title              string     `json:"title" yaml:"title,omitempty" gorm:"column:title"`
	ObservedConditions StringList `json:"observed_conditions" yaml:"observed_conditions,omitempty" gorm:"column:observed_conditions;type:text"`
	WhyItMatters       string     `json:"why_it_matters" yaml:"why_it_matters,omitempty" gorm:"column:why_it_matters;type:text"`
	RecommendedAction  string     `json:"recommended_action" yaml:"recommended_action,omitempty" gorm:"column:recommended_action;type:text"`
	PlanningGuidance   string     `json:"planning_guidance" yaml:"planning_guidance,omitempty" gorm:"column:planning_guidance;type:text"`
	PriorityRationale  string     `json:"priority_rationale" yaml:"priority_rationale,omitempty" gorm:"column:priority_rationale;type:text"`
	RiskInterpretation string     `json:"risk_interpretation" yaml:"risk_interpretation,omitempty" gorm:"column:risk_interpretation;type:text"`
	Disclaimer         string     `json:"disclaimer" yaml:"disclaimer,omitempty" gorm:"column:disclaimer;type:text"`
}

// Validate rejects blank observed-condition statements.
func (m Messages) Validate() error {
	for i, c := range m.ObservedConditions {
		if strings.TrimSpace(c) == "" {
			return invalid("observed_conditions", "entry %d is blank", i)
		}
	}
	return nil
}

func oneOf[T comparable](v T, allowed ...T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// State summarises the lifecycle position of one override sequence.
type State struct {
	Key              Key    `json:"key"`
	HasDraft         bool   `json:"has_draft"`
	DraftVersion     int    `json:"draft_version,omitempty"`
	HasPublished     bool   `json:"has_published"`
	PublishedVersion int    `json:"published_version,omitempty"`
	PublishedLabel   string `json:"published_label,omitempty"`
}
