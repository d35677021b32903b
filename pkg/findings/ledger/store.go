package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inspectio/finding-overrides/pkg/findings"
)

const stateRowID = 1

// Store bundles both override families, the audit log and the revision
// counter over one database handle.
type Store struct {
	db         *gorm.DB
	Dimensions *DimensionLedger
	Messages   *MessageLedger
	Audit      *AuditStore
}

// NewStore creates a Store. A nil db yields a store whose operations return
// findings.ErrNotConfigured.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Dimensions: NewDimensionLedger(db),
		Messages:   NewMessageLedger(db),
		Audit:      NewAuditStore(db),
	}
}

// Configured reports whether the store has a database.
func (s *Store) Configured() bool { return s != nil && s.db != nil }

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates the ledger tables.
func (s *Store) AutoMigrate() error {
	if !s.Configured() {
		return findings.ErrNotConfigured
	}
	if err := s.db.AutoMigrate(&DimensionOverrideRecord{}); err != nil {
		return fmt.Errorf("auto-migrate dimension_overrides: %w", err)
	}
	if err := s.db.AutoMigrate(&MessageOverrideRecord{}); err != nil {
		return fmt.Errorf("auto-migrate message_overrides: %w", err)
	}
	if err := s.db.AutoMigrate(&AuditLogRecord{}); err != nil {
		return fmt.Errorf("auto-migrate override_audit_log: %w", err)
	}
	if err := s.db.AutoMigrate(&LedgerState{}); err != nil {
		return fmt.Errorf("auto-migrate ledger_state: %w", err)
	}
	return ensureStateRow(s.db)
}

// Family returns the ledger of entity.
func (s *Store) Family(entity findings.EntityType) (Family, error) {
	switch entity {
	case findings.EntityDimensions:
		return s.Dimensions, nil
	case findings.EntityMessages:
		return s.Messages, nil
	}
	return nil, findings.NewValidationError("entityType", "unknown entity type %q", entity)
}

// Transaction runs fn with a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if !s.Configured() {
		return findings.ErrNotConfigured
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{
			db:         tx,
			Dimensions: s.Dimensions.withTx(tx),
			Messages:   s.Messages.withTx(tx),
			Audit:      NewAuditStore(tx),
		})
	})
}

// Revision returns the current change counter. It increases with every
// committed ledger mutation.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	if !s.Configured() {
		return 0, findings.ErrNotConfigured
	}
	var states []LedgerState
	if err := s.db.WithContext(ctx).Where("id = ?", stateRowID).Limit(1).Find(&states).Error; err != nil {
		return 0, fmt.Errorf("read ledger revision: %w", err)
	}
	if len(states) == 0 {
		return 0, nil
	}
	return states[0].Revision, nil
}

func ensureStateRow(tx *gorm.DB) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LedgerState{ID: stateRowID, BumpedAt: time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("seed ledger_state: %w", err)
	}
	return nil
}

func bumpRevision(tx *gorm.DB) error {
	update := func() (int64, error) {
		res := tx.Model(&LedgerState{}).Where("id = ?", stateRowID).Updates(map[string]any{
			"revision":  gorm.Expr("revision + 1"),
			"bumped_at": time.Now().UTC(),
		})
		return res.RowsAffected, res.Error
	}
	n, err := update()
	if err != nil {
		return fmt.Errorf("bump ledger revision: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := ensureStateRow(tx); err != nil {
		return err
	}
	if _, err := update(); err != nil {
		return fmt.Errorf("bump ledger revision: %w", err)
	}
	return nil
}

// KnownFindingIDs returns the ids with at least one row in either family.
func (s *Store) KnownFindingIDs(ctx context.Context) ([]string, error) {
	dims, err := s.Dimensions.KnownFindingIDs(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages.KnownFindingIDs(ctx)
	if err != nil {
		return nil, err
	}
	return append(dims, msgs...), nil
}

// Known reports whether findingID has at least one row in either family.
func (s *Store) Known(ctx context.Context, findingID string) (bool, error) {
	if !s.Configured() {
		return false, findings.ErrNotConfigured
	}
	for _, model := range []any{&DimensionOverrideRecord{}, &MessageOverrideRecord{}} {
		var n int64
		if err := s.db.WithContext(ctx).Model(model).Where("finding_id = ?", findingID).Limit(1).Count(&n).Error; err != nil {
			return false, fmt.Errorf("look up finding %s: %w", findingID, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}
