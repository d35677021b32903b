package ledger

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inspectio/finding-overrides/pkg/findings"
)

// AuditStore provides append-only operations for override audit entries.
// There is no delete or update path.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, findings.ErrNotConfigured
	}
	return s.db.WithContext(ctx), nil
}

// AuditFilter narrows List results. Zero fields match everything.
type AuditFilter struct {
	EntityType findings.EntityType
	FindingID  string
	Action     Action
	BatchID    string
}

// NewEntry builds the audit entry for a transition made as part of batch.
func NewEntry(entity findings.EntityType, action Action, t *Transition, actor, batch string) *AuditLogRecord {
	id := t.Key.FindingID
	rec := &AuditLogRecord{
		EntityType:  entity,
		Action:      action,
		FindingID:   &id,
		FromVersion: t.FromVersion,
		ToVersion:   t.ToVersion,
		Actor:       actor,
		BatchID:     batch,
		Diff:        datatypes.NewJSONType(Diff{Before: t.Before, After: t.After}),
	}
	if t.Key.Lang != "" {
		lang := t.Key.Lang
		rec.Lang = &lang
	}
	return rec
}

// Append creates a new immutable audit entry.
func (s *AuditStore) Append(ctx context.Context, entry *AuditLogRecord) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if entry.ID != 0 {
		return fmt.Errorf("append audit entry: entry %d already stored", entry.ID)
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func keyScope(q *gorm.DB, key findings.Key) *gorm.DB {
	q = q.Where("finding_id = ?", key.FindingID)
	if key.Lang == "" {
		return q.Where("lang IS NULL")
	}
	return q.Where("lang = ?", key.Lang)
}

// LatestPublish returns the most recent publish entry of key labelled label,
// or nil when there is none.
func (s *AuditStore) LatestPublish(ctx context.Context, entity findings.EntityType, label string, key findings.Key) (*AuditLogRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var records []AuditLogRecord
	q := db.Where("entity_type = ? AND action = ? AND to_version = ?", entity, ActionPublish, label)
	if err := keyScope(q, key).Order("id DESC").Limit(1).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load publish entry for %s at %s: %w", key, label, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// PublishedKeys returns the distinct keys that have a publish entry labelled
// label. A non-empty lang restricts message keys to that language.
func (s *AuditStore) PublishedKeys(ctx context.Context, entity findings.EntityType, label, lang string) ([]findings.Key, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&AuditLogRecord{}).
		Where("entity_type = ? AND action = ? AND to_version = ? AND finding_id IS NOT NULL", entity, ActionPublish, label)
	if lang != "" {
		q = q.Where("lang = ?", lang)
	}
	type keyRow struct {
		FindingID string
		Lang      *string
	}
	var rows []keyRow
	if err := q.Distinct("finding_id", "lang").Order("finding_id ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list findings published at %s: %w", label, err)
	}
	keys := make([]findings.Key, 0, len(rows))
	for _, r := range rows {
		k := findings.Key{FindingID: r.FindingID}
		if r.Lang != nil {
			k.Lang = *r.Lang
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// List returns paginated audit entries newest first. pageToken is the id of
// the last entry of the previous page.
func (s *AuditStore) List(ctx context.Context, filter AuditFilter, pageSize int, pageToken string) ([]AuditLogRecord, string, int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, "", 0, err
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	scope := func(q *gorm.DB) *gorm.DB {
		if filter.EntityType != "" {
			q = q.Where("entity_type = ?", filter.EntityType)
		}
		if filter.FindingID != "" {
			q = q.Where("finding_id = ?", filter.FindingID)
		}
		if filter.Action != "" {
			q = q.Where("action = ?", filter.Action)
		}
		if filter.BatchID != "" {
			q = q.Where("batch_id = ?", filter.BatchID)
		}
		return q
	}

	var totalSize int64
	if err := scope(db.Model(&AuditLogRecord{})).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := scope(db.Model(&AuditLogRecord{})).Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		cursor, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return nil, "", 0, findings.NewValidationError("pageToken", "invalid page token %q", pageToken)
		}
		query = query.Where("id < ?", cursor)
	}

	var records []AuditLogRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit entries: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		records = records[:pageSize]
		nextToken = strconv.FormatUint(uint64(records[pageSize-1].ID), 10)
	}
	return records, nextToken, int(totalSize), nil
}
