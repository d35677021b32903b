// Package lifecycle moves override drafts to published state and rolls
// published state back, one finding at a time, recording every transition in
// the audit log.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
)

// LabelLayout is the layout of generated publish labels.
const LabelLayout = "20060102-150405"

// Invalidator drops cached effective views.
type Invalidator interface {
	Invalidate()
}

// Metrics receives transition outcomes.
type Metrics interface {
	ObserveTransition(entity findings.EntityType, action ledger.Action, outcome string)
	ObserveBatch(entity findings.EntityType, action ledger.Action, d time.Duration)
}

const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// PublishRequest selects the drafts to publish. With no FindingIDs every
// finding with an active draft is published. Lang only applies to messages.
type PublishRequest struct {
	FindingIDs  []string `json:"finding_ids,omitempty"`
	Lang        string   `json:"lang,omitempty"`
	VersionText string   `json:"version_text,omitempty"`
	Actor       string   `json:"-"`
	DryRun      bool     `json:"dry_run,omitempty"`
}

// RollbackRequest selects the findings to roll back to the state before the
// publish labelled ToVersion. With no FindingIDs every finding published
// under that label is rolled back.
type RollbackRequest struct {
	ToVersion  string   `json:"to_version"`
	FindingIDs []string `json:"finding_ids,omitempty"`
	Lang       string   `json:"lang,omitempty"`
	Actor      string   `json:"-"`
	DryRun     bool     `json:"dry_run,omitempty"`
}

// FindingError records a per-finding failure inside a batch.
type FindingError struct {
	FindingID string `json:"finding_id"`
	Lang      string `json:"lang,omitempty"`
	Error     string `json:"error"`
}

// Skip records a finding left untouched by a batch and why.
type Skip struct {
	FindingID string `json:"finding_id"`
	Lang      string `json:"lang,omitempty"`
	Reason    string `json:"reason"`
}

// PublishResult summarises a publish batch. Skipped counts both skips and
// errors.
type PublishResult struct {
	BatchID     string              `json:"batch_id"`
	EntityType  findings.EntityType `json:"entity_type"`
	VersionText string              `json:"version_text"`
	Published   int                 `json:"published"`
	Skipped     int                 `json:"skipped"`
	Errors      []FindingError      `json:"errors"`
	Skips       []Skip              `json:"skips"`
	DryRun      bool                `json:"dry_run,omitempty"`
}

// RollbackResult summarises a rollback batch.
type RollbackResult struct {
	BatchID    string              `json:"batch_id"`
	EntityType findings.EntityType `json:"entity_type"`
	ToVersion  string              `json:"to_version"`
	RolledBack int                 `json:"rolled_back"`
	Skipped    int                 `json:"skipped"`
	Errors     []FindingError      `json:"errors"`
	Skips      []Skip              `json:"skips"`
	DryRun     bool                `json:"dry_run,omitempty"`
}

// Publisher runs publish and rollback batches. Findings are processed
// sequentially and each one commits in its own transaction, so one failure
// never affects another finding.
type Publisher struct {
	store       *ledger.Store
	invalidator Invalidator
	logger      *slog.Logger
	metrics     Metrics
	now         func() time.Time
}

// NewPublisher creates a Publisher. invalidator, logger and metrics may be nil.
func NewPublisher(store *ledger.Store, invalidator Invalidator, logger *slog.Logger, metrics Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (p *Publisher) check(entity findings.EntityType, actor string) error {
	if !p.store.Configured() {
		return findings.ErrNotConfigured
	}
	if !entity.Valid() {
		return findings.NewValidationError("entityType", "unknown entity type %q", entity)
	}
	if strings.TrimSpace(actor) == "" {
		return findings.NewValidationError("actor", "actor is required")
	}
	return nil
}

// Publish promotes the selected drafts of entity.
func (p *Publisher) Publish(ctx context.Context, entity findings.EntityType, req PublishRequest) (*PublishResult, error) {
	if err := p.check(entity, req.Actor); err != nil {
		return nil, err
	}
	label := strings.TrimSpace(req.VersionText)
	if label == "" {
		label = p.now().UTC().Format(LabelLayout)
	}
	lang := findings.NormalizeLang(req.Lang)
	fam, err := p.store.Family(entity)
	if err != nil {
		return nil, err
	}

	res := &PublishResult{BatchID: uuid.NewString(), EntityType: entity, VersionText: label, Errors: []FindingError{}, Skips: []Skip{}, DryRun: req.DryRun}
	keys, missing, err := p.publishKeys(ctx, fam, req.FindingIDs, lang)
	if err != nil {
		return nil, err
	}
	for _, k := range missing {
		p.skip(&res.Skipped, &res.Skips, entity, ledger.ActionPublish, k, "no active draft")
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveBatch(entity, ledger.ActionPublish, time.Since(start))
		}
	}()

	for _, key := range keys {
		if req.DryRun {
			st, err := fam.State(ctx, key)
			switch {
			case err != nil:
				p.fail(&res.Skipped, &res.Errors, entity, ledger.ActionPublish, key, err)
			case !st.HasDraft:
				p.skip(&res.Skipped, &res.Skips, entity, ledger.ActionPublish, key, "no active draft")
			default:
				res.Published++
			}
			continue
		}

		var tr *ledger.Transition
		err := p.store.Transaction(ctx, func(tx *ledger.Store) error {
			txFam, err := tx.Family(entity)
			if err != nil {
				return err
			}
			tr, err = txFam.PublishDraft(ctx, key, label, req.Actor)
			if err != nil {
				return err
			}
			return tx.Audit.Append(ctx, ledger.NewEntry(entity, ledger.ActionPublish, tr, req.Actor, res.BatchID))
		})
		switch {
		case errors.Is(err, ledger.ErrNoDraft):
			p.skip(&res.Skipped, &res.Skips, entity, ledger.ActionPublish, key, "no active draft")
		case err != nil:
			p.fail(&res.Skipped, &res.Errors, entity, ledger.ActionPublish, key, err)
		default:
			res.Published++
			p.observe(entity, ledger.ActionPublish, OutcomeSuccess)
			p.logger.Info("published override",
				"entity", entity, "finding", key.FindingID, "lang", key.Lang,
				"version", tr.Version, "from", tr.FromVersion, "to", label, "actor", req.Actor)
		}
	}

	if !req.DryRun {
		p.invalidate()
	}
	p.logger.Info("publish batch finished",
		"batch", res.BatchID, "entity", entity, "label", label, "published", res.Published, "skipped", res.Skipped,
		"errors", len(res.Errors), "dryRun", req.DryRun)
	return res, nil
}

// Rollback restores, per finding, the published state that preceded the most
// recent publish labelled req.ToVersion.
func (p *Publisher) Rollback(ctx context.Context, entity findings.EntityType, req RollbackRequest) (*RollbackResult, error) {
	if err := p.check(entity, req.Actor); err != nil {
		return nil, err
	}
	label := strings.TrimSpace(req.ToVersion)
	if label == "" {
		return nil, findings.NewValidationError("to_version", "target version label is required")
	}
	lang := findings.NormalizeLang(req.Lang)

	res := &RollbackResult{BatchID: uuid.NewString(), EntityType: entity, ToVersion: label, Errors: []FindingError{}, Skips: []Skip{}, DryRun: req.DryRun}
	keys, missing, err := p.rollbackKeys(ctx, entity, req.FindingIDs, label, lang)
	if err != nil {
		return nil, err
	}
	for _, k := range missing {
		p.skip(&res.Skipped, &res.Skips, entity, ledger.ActionRollback, k, fmt.Sprintf("no publish recorded at %s", label))
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveBatch(entity, ledger.ActionRollback, time.Since(start))
		}
	}()

	for _, key := range keys {
		entry, err := p.store.Audit.LatestPublish(ctx, entity, label, key)
		if err != nil {
			p.fail(&res.Skipped, &res.Errors, entity, ledger.ActionRollback, key, err)
			continue
		}
		if entry == nil {
			p.skip(&res.Skipped, &res.Skips, entity, ledger.ActionRollback, key, fmt.Sprintf("no publish recorded at %s", label))
			continue
		}
		before := entry.Diff.Data().Before
		if before == nil {
			p.skip(&res.Skipped, &res.Skips, entity, ledger.ActionRollback, key, fmt.Sprintf("nothing was published before %s", label))
			continue
		}
		if req.DryRun {
			res.RolledBack++
			continue
		}

		var tr *ledger.Transition
		err = p.store.Transaction(ctx, func(tx *ledger.Store) error {
			txFam, err := tx.Family(entity)
			if err != nil {
				return err
			}
			tr, err = txFam.Restore(ctx, key, before, req.Actor)
			if err != nil {
				return err
			}
			return tx.Audit.Append(ctx, ledger.NewEntry(entity, ledger.ActionRollback, tr, req.Actor, res.BatchID))
		})
		if err != nil {
			p.fail(&res.Skipped, &res.Errors, entity, ledger.ActionRollback, key, err)
			continue
		}
		res.RolledBack++
		p.observe(entity, ledger.ActionRollback, OutcomeSuccess)
		p.logger.Info("rolled back override",
			"entity", entity, "finding", key.FindingID, "lang", key.Lang,
			"version", tr.Version, "from", tr.FromVersion, "restored", tr.ToVersion, "actor", req.Actor)
	}

	if !req.DryRun {
		p.invalidate()
	}
	p.logger.Info("rollback batch finished",
		"batch", res.BatchID, "entity", entity, "toVersion", label, "rolledBack", res.RolledBack, "skipped", res.Skipped,
		"errors", len(res.Errors), "dryRun", req.DryRun)
	return res, nil
}

// publishKeys expands the selector into keys. missing holds explicitly named
// findings that have no active draft in any language.
func (p *Publisher) publishKeys(ctx context.Context, fam ledger.Family, ids []string, lang string) ([]findings.Key, []findings.Key, error) {
	ids = cleanIDs(ids)
	if fam.Entity() == findings.EntityDimensions {
		if len(ids) == 0 {
			keys, err := fam.ActiveKeys(ctx, findings.StatusDraft, nil, "")
			return keys, nil, err
		}
		keys := make([]findings.Key, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, findings.DimensionsKey(id))
		}
		return keys, nil, nil
	}

	if len(ids) > 0 && lang != "" {
		keys := make([]findings.Key, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, findings.MessagesKey(id, lang))
		}
		return keys, nil, nil
	}
	keys, err := fam.ActiveKeys(ctx, findings.StatusDraft, ids, lang)
	if err != nil {
		return nil, nil, err
	}
	return keys, missingIDs(ids, keys, lang), nil
}

func (p *Publisher) rollbackKeys(ctx context.Context, entity findings.EntityType, ids []string, label, lang string) ([]findings.Key, []findings.Key, error) {
	ids = cleanIDs(ids)
	if entity == findings.EntityDimensions && len(ids) > 0 {
		keys := make([]findings.Key, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, findings.DimensionsKey(id))
		}
		return keys, nil, nil
	}
	if entity == findings.EntityMessages && len(ids) > 0 && lang != "" {
		keys := make([]findings.Key, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, findings.MessagesKey(id, lang))
		}
		return keys, nil, nil
	}

	published, err := p.store.Audit.PublishedKeys(ctx, entity, label, lang)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return published, nil, nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var keys []findings.Key
	for _, k := range published {
		if wanted[k.FindingID] {
			keys = append(keys, k)
		}
	}
	return keys, missingIDs(ids, keys, lang), nil
}

func (p *Publisher) skip(counter *int, skips *[]Skip, entity findings.EntityType, action ledger.Action, key findings.Key, reason string) {
	*counter++
	*skips = append(*skips, Skip{FindingID: key.FindingID, Lang: key.Lang, Reason: reason})
	p.observe(entity, action, OutcomeSkipped)
	p.logger.Warn("skipped finding", "entity", entity, "action", action, "finding", key.FindingID, "lang", key.Lang, "reason", reason)
}

func (p *Publisher) fail(counter *int, errs *[]FindingError, entity findings.EntityType, action ledger.Action, key findings.Key, err error) {
	*counter++
	*errs = append(*errs, FindingError{FindingID: key.FindingID, Lang: key.Lang, Error: err.Error()})
	p.observe(entity, action, OutcomeError)
	p.logger.Error("finding transition failed", "entity", entity, "action", action, "finding", key.FindingID, "lang", key.Lang, "error", err)
}

func (p *Publisher) observe(entity findings.EntityType, action ledger.Action, outcome string) {
	if p.metrics != nil {
		p.metrics.ObserveTransition(entity, action, outcome)
	}
}

func (p *Publisher) invalidate() {
	if p.invalidator != nil {
		p.invalidator.Invalidate()
	}
}

func cleanIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func missingIDs(ids []string, found []findings.Key, lang string) []findings.Key {
	have := make(map[string]bool, len(found))
	for _, k := range found {
		have[k.FindingID] = true
	}
	var missing []findings.Key
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, findings.Key{FindingID: id, Lang: lang})
		}
	}
	return missing
}
