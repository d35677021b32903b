// Package ledger persists versioned finding overrides and their audit trail.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/inspectio/finding-overrides/pkg/findings"
)

const maxDraftAttempts = 3

// ErrNoDraft is returned by PublishDraft when the finding has no active draft.
var ErrNoDraft = errors.New("no active draft")

// Payload is the override value carried by a family.
type Payload interface {
	findings.Dimensions | findings.Messages
	Validate() error
}

type row[T any, V Payload] interface {
	*T
	TableName() string
	header() *Header
	key() findings.Key
	setKey(findings.Key)
	values() V
	setValues(V)
}

// DraftInput describes a new draft.
type DraftInput[V Payload] struct {
	Values V
	Actor  string
	Note   string
	Source string
}

// Transition is the effect of one publish or restore on one finding.
type Transition struct {
	Key         findings.Key
	Before      Snapshot
	After       Snapshot
	FromVersion string
	ToVersion   string
	Version     int
}

// Family is the family-agnostic view of a ledger used by the lifecycle engine.
type Family interface {
	Entity() findings.EntityType
	PublishDraft(ctx context.Context, key findings.Key, label, actor string) (*Transition, error)
	Restore(ctx context.Context, key findings.Key, snapshot Snapshot, actor string) (*Transition, error)
	ActiveKeys(ctx context.Context, status findings.Status, findingIDs []string, lang string) ([]findings.Key, error)
	State(ctx context.Context, key findings.Key) (findings.State, error)
	KnownFindingIDs(ctx context.Context) ([]string, error)
}

// Ledger stores the versions of one override family.
type Ledger[T any, V Payload, P row[T, V]] struct {
	db     *gorm.DB
	entity findings.EntityType
}

// DimensionLedger is the ledger of dimension overrides.
type DimensionLedger = Ledger[DimensionOverrideRecord, findings.Dimensions, *DimensionOverrideRecord]

// MessageLedger is the ledger of per-language message overrides.
type MessageLedger = Ledger[MessageOverrideRecord, findings.Messages, *MessageOverrideRecord]

// NewDimensionLedger creates a dimension ledger. A nil db yields a ledger
// whose operations return findings.ErrNotConfigured.
func NewDimensionLedger(db *gorm.DB) *DimensionLedger {
	return &DimensionLedger{db: db, entity: findings.EntityDimensions}
}

// NewMessageLedger creates a message ledger.
func NewMessageLedger(db *gorm.DB) *MessageLedger {
	return &MessageLedger{db: db, entity: findings.EntityMessages}
}

// Entity returns the family this ledger stores.
func (l *Ledger[T, V, P]) Entity() findings.EntityType { return l.entity }

func (l *Ledger[T, V, P]) withTx(tx *gorm.DB) *Ledger[T, V, P] {
	return &Ledger[T, V, P]{db: tx, entity: l.entity}
}

func (l *Ledger[T, V, P]) conn(ctx context.Context) (*gorm.DB, error) {
	if l == nil || l.db == nil {
		return nil, findings.ErrNotConfigured
	}
	return l.db.WithContext(ctx), nil
}

func (l *Ledger[T, V, P]) model() P { return P(new(T)) }

func (l *Ledger[T, V, P]) checkKey(key findings.Key) error {
	if strings.TrimSpace(key.FindingID) == "" {
		return findings.NewValidationError("finding_id", "finding id is required")
	}
	if l.entity == findings.EntityMessages && key.Lang == "" {
		return findings.NewValidationError("lang", "language is required")
	}
	if l.entity == findings.EntityDimensions && key.Lang != "" {
		return findings.NewValidationError("lang", "dimension overrides are language independent")
	}
	return nil
}

func (l *Ledger[T, V, P]) scoped(tx *gorm.DB, key findings.Key) *gorm.DB {
	q := tx.Model(l.model()).Where("finding_id = ?", key.FindingID)
	if l.entity == findings.EntityMessages {
		q = q.Where("lang = ?", key.Lang)
	}
	return q
}

func (l *Ledger[T, V, P]) activeRow(tx *gorm.DB, key findings.Key, status findings.Status) (P, error) {
	rec := l.model()
	err := l.scoped(tx, key).
		Where("status = ? AND active = ?", status, true).
		Order("version DESC").
		First(rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active %s %s row for %s: %w", status, l.entity, key, err)
	}
	return rec, nil
}

func (l *Ledger[T, V, P]) deactivate(tx *gorm.DB, key findings.Key, status findings.Status) (int64, error) {
	res := l.scoped(tx, key).
		Where("status = ? AND active = ?", status, true).
		Update("active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("deactivate %s %s row for %s: %w", status, l.entity, key, res.Error)
	}
	return res.RowsAffected, nil
}

func (l *Ledger[T, V, P]) nextVersion(tx *gorm.DB, key findings.Key) (int, error) {
	var current int
	if err := l.scoped(tx, key).Select("COALESCE(MAX(version), 0)").Scan(&current).Error; err != nil {
		return 0, fmt.Errorf("compute next version for %s: %w", key, err)
	}
	return current + 1, nil
}

// CreateDraft stores a new active draft for key and returns its version. Any
// previous active draft of the key is deactivated in the same transaction.
func (l *Ledger[T, V, P]) CreateDraft(ctx context.Context, key findings.Key, in DraftInput[V]) (int, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return 0, err
	}
	if err := l.checkKey(key); err != nil {
		return 0, err
	}
	if err := in.Values.Validate(); err != nil {
		return 0, err
	}

	var version int
	err = retryOnConflict(maxDraftAttempts, func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			next, err := l.nextVersion(tx, key)
			if err != nil {
				return err
			}
			if _, err := l.deactivate(tx, key, findings.StatusDraft); err != nil {
				return err
			}
			rec := l.model()
			rec.setKey(key)
			rec.setValues(in.Values)
			h := rec.header()
			h.Status = findings.StatusDraft
			h.Version = next
			h.Active = true
			h.Note = in.Note
			h.Source = in.Source
			h.UpdatedBy = in.Actor
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("insert %s draft for %s: %w", l.entity, key, err)
			}
			if err := bumpRevision(tx); err != nil {
				return err
			}
			version = next
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// ResetActive deactivates the active published row of key so the finding
// resolves to its seed. It reports whether a row was deactivated.
func (l *Ledger[T, V, P]) ResetActive(ctx context.Context, key findings.Key) (bool, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return false, err
	}
	if err := l.checkKey(key); err != nil {
		return false, err
	}
	var changed bool
	err = db.Transaction(func(tx *gorm.DB) error {
		n, err := l.deactivate(tx, key, findings.StatusPublished)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		changed = true
		return bumpRevision(tx)
	})
	return changed, err
}

// Active returns the active row of key with the given status, or nil when
// none exists.
func (l *Ledger[T, V, P]) Active(ctx context.Context, key findings.Key, status findings.Status) (P, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return l.activeRow(db, key, status)
}

// ActiveRows returns every active row with the given status. A non-empty lang
// restricts message rows to that language.
func (l *Ledger[T, V, P]) ActiveRows(ctx context.Context, status findings.Status, lang string) ([]P, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(l.model()).Where("status = ? AND active = ?", status, true)
	if l.entity == findings.EntityMessages && lang != "" {
		q = q.Where("lang = ?", lang)
	}
	var rows []P
	if err := q.Order("finding_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active %s %s rows: %w", status, l.entity, err)
	}
	return rows, nil
}

// ActiveKeys returns the keys with an active row of the given status,
// optionally restricted to findingIDs and lang.
func (l *Ledger[T, V, P]) ActiveKeys(ctx context.Context, status findings.Status, findingIDs []string, lang string) ([]findings.Key, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(l.model()).Where("status = ? AND active = ?", status, true)
	if len(findingIDs) > 0 {
		q = q.Where("finding_id IN ?", findingIDs)
	}
	if l.entity == findings.EntityMessages {
		if lang != "" {
			q = q.Where("lang = ?", lang)
		}
		q = q.Distinct("finding_id", "lang").Order("finding_id ASC, lang ASC")
	} else {
		q = q.Distinct("finding_id").Order("finding_id ASC")
	}
	var keys []findings.Key
	if err := q.Scan(&keys).Error; err != nil {
		return nil, fmt.Errorf("list active %s keys: %w", l.entity, err)
	}
	return keys, nil
}

// KnownFindingIDs returns every finding id with at least one row.
func (l *Ledger[T, V, P]) KnownFindingIDs(ctx context.Context) ([]string, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := db.Model(l.model()).Distinct().Order("finding_id ASC").Pluck("finding_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list %s finding ids: %w", l.entity, err)
	}
	return ids, nil
}

// Versions lists the rows of key newest first. pageToken is the id of the
// last row of the previous page.
func (l *Ledger[T, V, P]) Versions(ctx context.Context, key findings.Key, pageSize int, pageToken string) ([]P, string, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	q := l.scoped(db, key)
	if pageToken != "" {
		cursor, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return nil, "", findings.NewValidationError("pageToken", "invalid page token %q", pageToken)
		}
		q = q.Where("id < ?", cursor)
	}
	var rows []P
	if err := q.Order("id DESC").Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("list %s versions for %s: %w", l.entity, key, err)
	}
	var next string
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		next = strconv.FormatUint(uint64(rows[pageSize-1].header().ID), 10)
	}
	return rows, next, nil
}

// State reports the lifecycle state of key.
func (l *Ledger[T, V, P]) State(ctx context.Context, key findings.Key) (findings.State, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return findings.State{}, err
	}
	if err := l.checkKey(key); err != nil {
		return findings.State{}, err
	}
	st := findings.State{Key: key}
	draft, err := l.activeRow(db, key, findings.StatusDraft)
	if err != nil {
		return st, err
	}
	if draft != nil {
		st.DraftVersion = draft.header().Version
		st.HasDraft = true
	}
	pub, err := l.activeRow(db, key, findings.StatusPublished)
	if err != nil {
		return st, err
	}
	if pub != nil {
		st.PublishedVersion = pub.header().Version
		st.PublishedLabel = pub.header().VersionText
		st.HasPublished = true
	}
	return st, nil
}

// PublishDraft promotes the active draft of key to the active published row
// labelled label. The draft is retired. Returns ErrNoDraft when key has no
// active draft.
func (l *Ledger[T, V, P]) PublishDraft(ctx context.Context, key findings.Key, label, actor string) (*Transition, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.checkKey(key); err != nil {
		return nil, err
	}
	var out *Transition
	err = db.Transaction(func(tx *gorm.DB) error {
		draft, err := l.activeRow(tx, key, findings.StatusDraft)
		if err != nil {
			return err
		}
		if draft == nil {
			return ErrNoDraft
		}
		before, err := l.activeRow(tx, key, findings.StatusPublished)
		if err != nil {
			return err
		}
		if _, err := l.deactivate(tx, key, findings.StatusPublished); err != nil {
			return err
		}

		dh := draft.header()
		// The draft keeps its number only while it is still the newest row;
		// a rollback since it was drafted has used a higher one.
		next, err := l.nextVersion(tx, key)
		if err != nil {
			return err
		}
		version := dh.Version
		if version != next-1 {
			version = next
		}
		rec := l.model()
		rec.setKey(key)
		rec.setValues(draft.values())
		h := rec.header()
		h.Status = findings.StatusPublished
		h.Version = version
		h.VersionText = label
		h.Active = true
		h.Note = dh.Note
		h.Source = dh.Source
		h.UpdatedBy = actor
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert published %s row for %s: %w", l.entity, key, err)
		}
		if err := tx.Model(l.model()).Where("id = ?", dh.ID).Update("active", false).Error; err != nil {
			return fmt.Errorf("retire %s draft for %s: %w", l.entity, key, err)
		}
		if err := bumpRevision(tx); err != nil {
			return err
		}
		out, err = l.transition(key, before, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Restore makes snapshot the active published row of key under a new version
// number, keeping the snapshot's publish label.
func (l *Ledger[T, V, P]) Restore(ctx context.Context, key findings.Key, snapshot Snapshot, actor string) (*Transition, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.checkKey(key); err != nil {
		return nil, err
	}
	restored, err := l.fromSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	var out *Transition
	err = db.Transaction(func(tx *gorm.DB) error {
		before, err := l.activeRow(tx, key, findings.StatusPublished)
		if err != nil {
			return err
		}
		next, err := l.nextVersion(tx, key)
		if err != nil {
			return err
		}
		if _, err := l.deactivate(tx, key, findings.StatusPublished); err != nil {
			return err
		}
		rec := l.model()
		rec.setKey(key)
		rec.setValues(restored.values())
		rh := restored.header()
		h := rec.header()
		h.Status = findings.StatusPublished
		h.Version = next
		h.VersionText = rh.VersionText
		h.Active = true
		h.Note = rh.Note
		h.Source = rh.Source
		h.UpdatedBy = actor
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert restored %s row for %s: %w", l.entity, key, err)
		}
		if err := bumpRevision(tx); err != nil {
			return err
		}
		out, err = l.transition(key, before, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger[T, V, P]) transition(key findings.Key, before, after P) (*Transition, error) {
	t := &Transition{Key: key, Version: after.header().Version, ToVersion: after.header().VersionText}
	var err error
	if before != nil {
		t.FromVersion = before.header().VersionText
		if t.Before, err = snapshotOf(before); err != nil {
			return nil, err
		}
	}
	if t.After, err = snapshotOf(after); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *Ledger[T, V, P]) fromSnapshot(s Snapshot) (P, error) {
	if s == nil {
		return nil, findings.NewValidationError("snapshot", "nothing to restore")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", l.entity, err)
	}
	rec := l.model()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", l.entity, err)
	}
	if err := rec.values().Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func snapshotOf(v any) (Snapshot, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot row: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot row: %w", err)
	}
	return s, nil
}

func retryOnConflict(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isUniqueViolation(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
