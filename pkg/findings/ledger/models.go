package ledger

import (
	"time"

	"gorm.io/datatypes"

	"github.com/inspectio/finding-overrides/pkg/findings"
)

// Header holds the columns shared by both override families. Index names are
// derived per table through the composite tag.
type Header struct {
	ID          uint            `gorm:"primaryKey;column:id" json:"id"`
	FindingID   string          `gorm:"column:finding_id;type:varchar(128);not null;uniqueIndex:,composite:version_key,priority:1;index:,composite:active_key,priority:1" json:"finding_id"`
	Status      findings.Status `gorm:"column:status;type:varchar(16);not null;uniqueIndex:,composite:version_key,priority:3;index:,composite:active_key,priority:3" json:"status"`
	Version     int             `gorm:"column:version;not null;uniqueIndex:,composite:version_key,priority:4" json:"version"`
	Active      bool            `gorm:"column:active;not null;index:,composite:active_key,priority:4" json:"active"`
	VersionText string          `gorm:"column:version_text;type:varchar(128)" json:"version_text"`
	Note        string          `gorm:"column:note;type:text" json:"note"`
	Source      string          `gorm:"column:source;type:varchar(64)" json:"source"`
	UpdatedBy   string          `gorm:"column:updated_by;type:varchar(255);not null" json:"updated_by"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// DimensionOverrideRecord is one version of a finding's dimension override.
type DimensionOverrideRecord struct {
	Header
	findings.Dimensions
}

// TableName returns the GORM table name.
func (DimensionOverrideRecord) TableName() string { return "dimension_overrides" }

func (r *DimensionOverrideRecord) header() *Header { return &r.Header }

func (r *DimensionOverrideRecord) key() findings.Key { return findings.DimensionsKey(r.FindingID) }

func (r *DimensionOverrideRecord) setKey(k findings.Key) { r.FindingID = k.FindingID }

func (r *DimensionOverrideRecord) values() findings.Dimensions { return r.Dimensions }

func (r *DimensionOverrideRecord) setValues(v findings.Dimensions) { r.Dimensions = v }

// MessageOverrideRecord is one version of a finding's narrative override in
// one language.
type MessageOverrideRecord struct {
	Header
	Lang string `gorm:"column:lang;type:varchar(16);not null;uniqueIndex:,composite:version_key,priority:2;index:,composite:active_key,priority:2" json:"lang"`
	findings.Messages
}

// TableName returns the GORM table name.
func (MessageOverrideRecord) TableName() string { return "message_overrides" }

func (r *MessageOverrideRecord) header() *Header { return &r.Header }

func (r *MessageOverrideRecord) key() findings.Key {
	return findings.Key{FindingID: r.FindingID, Lang: r.Lang}
}

func (r *MessageOverrideRecord) setKey(k findings.Key) {
	r.FindingID = k.FindingID
	r.Lang = k.Lang
}

func (r *MessageOverrideRecord) values() findings.Messages { return r.Messages }

func (r *MessageOverrideRecord) setValues(v findings.Messages) { r.Messages = v }

// Action is an audited lifecycle transition.
type Action string

const (
	ActionPublish  Action = "publish"
	ActionRollback Action = "rollback"
)

// Snapshot is the JSON form of a full override row.
type Snapshot map[string]any

// VersionText returns the publish label recorded in the snapshot.
func (s Snapshot) VersionText() string {
	v, _ := s["version_text"].(string)
	return v
}

// Diff is the before/after pair stored with every audit entry. A nil Before
// means nothing was published before the transition.
type Diff struct {
	Before Snapshot `json:"before"`
	After  Snapshot `json:"after"`
}

// AuditLogRecord is an immutable record of one publish or rollback of one
// finding. A nil FindingID marks a batch-level entry.
type AuditLogRecord struct {
	ID          uint                     `gorm:"primaryKey;column:id" json:"id"`
	EntityType  findings.EntityType      `gorm:"column:entity_type;type:varchar(16);not null;index:idx_override_audit_lookup,priority:1" json:"entity_type"`
	Action      Action                   `gorm:"column:action;type:varchar(16);not null;index:idx_override_audit_lookup,priority:2" json:"action"`
	ToVersion   string                   `gorm:"column:to_version;type:varchar(128);index:idx_override_audit_lookup,priority:3" json:"to_version"`
	FindingID   *string                  `gorm:"column:finding_id;type:varchar(128);index:idx_override_audit_finding" json:"finding_id"`
	Lang        *string                  `gorm:"column:lang;type:varchar(16)" json:"lang"`
	FromVersion string                   `gorm:"column:from_version;type:varchar(128)" json:"from_version"`
	Actor       string                   `gorm:"column:actor;type:varchar(255);not null" json:"actor"`
	BatchID     string                   `gorm:"column:batch_id;type:varchar(36);index:idx_override_audit_batch" json:"batch_id"`
	Diff        datatypes.JSONType[Diff] `gorm:"column:diff_json;not null" json:"diff_json"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// TableName returns the GORM table name.
func (AuditLogRecord) TableName() string { return "override_audit_log" }

// Key returns the finding key the entry refers to.
func (r *AuditLogRecord) Key() findings.Key {
	var k findings.Key
	if r.FindingID != nil {
		k.FindingID = *r.FindingID
	}
	if r.Lang != nil {
		k.Lang = *r.Lang
	}
	return k
}

// LedgerState holds the store-side change counter. Every ledger mutation
// increments Revision in the same transaction.
type LedgerState struct {
	ID       uint      `gorm:"primaryKey;column:id"`
	Revision int64     `gorm:"column:revision;not null"`
	BumpedAt time.Time `gorm:"column:bumped_at"`
}

// TableName returns the GORM table name.
func (LedgerState) TableName() string { return "ledger_state" }
