package api

import (
	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
	"github.com/inspectio/finding-overrides/pkg/findings/resolve"
	"github.com/inspectio/finding-overrides/pkg/priority"
)

// DimensionDraftRequest is the body of POST .../dimensions/drafts.
type DimensionDraftRequest struct {
	Dimensions findings.Dimensions `json:"dimensions"`
	Note       string              `json:"note,omitempty"`
	Source     string              `json:"source,omitempty"`
}

// MessageDraftRequest is the body of POST .../messages/{lang}/drafts.
type MessageDraftRequest struct {
	Messages findings.Messages `json:"messages"`
	Note     string            `json:"note,omitempty"`
	Source   string            `json:"source,omitempty"`
}

// DraftResponse reports a stored draft.
type DraftResponse struct {
	FindingID  string              `json:"finding_id"`
	Lang       string              `json:"lang,omitempty"`
	EntityType findings.EntityType `json:"entity_type"`
	Version    int                 `json:"version"`
	Status     findings.Status     `json:"status"`
}

// ResetResponse reports the outcome of a reset to seed.
type ResetResponse struct {
	FindingID  string              `json:"finding_id"`
	Lang       string              `json:"lang,omitempty"`
	EntityType findings.EntityType `json:"entity_type"`
	Reset      bool                `json:"reset"`
}

// EffectiveResponse is the effective view of one finding.
type EffectiveResponse struct {
	FindingID  string                       `json:"finding_id"`
	Mode       string                       `json:"mode"`
	Dimensions *resolve.EffectiveDimensions `json:"dimensions"`
	Messages   *resolve.EffectiveMessages   `json:"messages"`
}

// EffectiveIndexResponse is the effective view of every known finding.
type EffectiveIndexResponse struct {
	Mode       string                        `json:"mode"`
	Lang       string                        `json:"lang"`
	Dimensions []resolve.EffectiveDimensions `json:"dimensions"`
	Messages   []resolve.EffectiveMessages   `json:"messages"`
	Size       int                           `json:"size"`
}

// StateResponse reports the lifecycle state of both families of a finding.
type StateResponse struct {
	FindingID  string         `json:"finding_id"`
	Dimensions findings.State `json:"dimensions"`
	Messages   findings.State `json:"messages"`
}

// VersionListResponse is a page of ledger rows.
type VersionListResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken"`
	Size          int    `json:"size"`
}

// AuditListResponse is a page of audit entries.
type AuditListResponse struct {
	Items         []ledger.AuditLogRecord `json:"items"`
	NextPageToken string                  `json:"nextPageToken"`
	Size          int                     `json:"size"`
	TotalSize     int                     `json:"totalSize"`
}

// PriorityRequest is the body of POST /priority/resolve. When FindingID is
// set, missing Calculated and Legacy values are taken from the finding's
// effective dimensions and catalog entry.
type PriorityRequest struct {
	FindingID      string             `json:"finding_id,omitempty"`
	Calculated     *priority.Priority `json:"calculated,omitempty"`
	Selected       *priority.Priority `json:"selected,omitempty"`
	AlreadyFinal   *priority.Priority `json:"already_final,omitempty"`
	OverrideReason string             `json:"override_reason,omitempty"`
	Legacy         *priority.Priority `json:"legacy,omitempty"`
	Validate       bool               `json:"validate,omitempty"`
}

// PriorityResponse is the resolved priority.
type PriorityResponse struct {
	Priority      priority.Priority  `json:"priority"`
	OverrideValid bool               `json:"override_valid"`
	Calculated    *priority.Priority `json:"calculated"`
	Legacy        *priority.Priority `json:"legacy"`
}
