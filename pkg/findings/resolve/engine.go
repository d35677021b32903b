// Package resolve computes the effective dimensions and messages of findings
// from the seed catalog and the override ledger.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/inspectio/finding-overrides/pkg/cache"
	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
	"github.com/inspectio/finding-overrides/pkg/findings/seed"
)

// CacheObserver receives index cache lookups.
type CacheObserver interface {
	ObserveCacheLookup(kind string, hit bool)
}

// Options configures an Engine.
type Options struct {
	Cache        cache.Config
	AllowPreview bool
	Logger       *slog.Logger
	Observer     CacheObserver
}

// Engine resolves effective views. Index results are cached per ledger
// revision; Invalidate drops every cached index.
type Engine struct {
	catalog      seed.Catalog
	store        *ledger.Store
	allowPreview bool
	logger       *slog.Logger
	observer     CacheObserver

	dimIndex *cache.LRUCache[[]EffectiveDimensions]
	msgIndex *cache.LRUCache[[]EffectiveMessages]
}

// NewEngine creates an Engine over catalog and store.
func NewEngine(catalog seed.Catalog, store *ledger.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		catalog:      catalog,
		store:        store,
		allowPreview: opts.AllowPreview,
		logger:       logger,
		observer:     opts.Observer,
	}
	if opts.Cache.Enabled {
		e.dimIndex = cache.NewLRUCache[[]EffectiveDimensions](opts.Cache.MaxSize, opts.Cache.TTL)
		e.msgIndex = cache.NewLRUCache[[]EffectiveMessages](opts.Cache.MaxSize, opts.Cache.TTL)
	}
	return e
}

// Catalog returns the seed catalog the engine resolves against.
func (e *Engine) Catalog() seed.Catalog { return e.catalog }

// Invalidate drops every cached index synchronously.
func (e *Engine) Invalidate() {
	if e.dimIndex != nil {
		e.dimIndex.InvalidateAll()
	}
	if e.msgIndex != nil {
		e.msgIndex.InvalidateAll()
	}
}

func (e *Engine) checkMode(mode Mode) error {
	switch mode {
	case Production:
		return nil
	case PreviewDraft:
		if !e.allowPreview {
			return findings.NewValidationError("mode", "draft preview is disabled")
		}
		return nil
	}
	return findings.NewValidationError("mode", "unknown resolution mode %d", int(mode))
}

func (e *Engine) exists(ctx context.Context, id string) (*seed.Definition, error) {
	if strings.TrimSpace(id) == "" {
		return nil, findings.NewValidationError("finding_id", "finding id is required")
	}
	def, ok := e.catalog.Get(id)
	if ok {
		return def, nil
	}
	known, err := e.store.Known(ctx, id)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", findings.ErrNotFound, id)
	}
	return nil, nil
}

// Dimensions resolves the effective dimensions of one finding.
func (e *Engine) Dimensions(ctx context.Context, id string, mode Mode) (*EffectiveDimensions, error) {
	if err := e.checkMode(mode); err != nil {
		return nil, err
	}
	def, err := e.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	key := findings.DimensionsKey(id)
	var row *ledger.DimensionOverrideRecord
	if mode == PreviewDraft {
		if row, err = e.store.Dimensions.Active(ctx, key, findings.StatusDraft); err != nil {
			return nil, err
		}
	}
	if row == nil {
		if row, err = e.store.Dimensions.Active(ctx, key, findings.StatusPublished); err != nil {
			return nil, err
		}
	}
	eff := newEffectiveDimensions(id, dimensionsOutcome(def, row))
	return &eff, nil
}

// Messages resolves the effective narrative of one finding in lang. Seed
// text falls back to the catalog default language.
func (e *Engine) Messages(ctx context.Context, id, lang string, mode Mode) (*EffectiveMessages, error) {
	if err := e.checkMode(mode); err != nil {
		return nil, err
	}
	lang = e.lang(lang)
	def, err := e.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	key := findings.MessagesKey(id, lang)
	var row *ledger.MessageOverrideRecord
	if mode == PreviewDraft {
		if row, err = e.store.Messages.Active(ctx, key, findings.StatusDraft); err != nil {
			return nil, err
		}
	}
	if row == nil {
		if row, err = e.store.Messages.Active(ctx, key, findings.StatusPublished); err != nil {
			return nil, err
		}
	}
	eff := newEffectiveMessages(id, lang, e.messagesOutcome(def, lang, row))
	return &eff, nil
}

// DimensionIndex resolves every finding known to the catalog or the ledger.
func (e *Engine) DimensionIndex(ctx context.Context, mode Mode) ([]EffectiveDimensions, error) {
	if err := e.checkMode(mode); err != nil {
		return nil, err
	}
	rev, err := e.store.Revision(ctx)
	if err != nil {
		return nil, err
	}
	cacheKey := indexKey(findings.EntityDimensions, mode, "", rev)
	if e.dimIndex != nil {
		if cached, ok := e.dimIndex.Get(cacheKey); ok {
			e.observe(findings.EntityDimensions, true)
			return slices.Clone(cached), nil
		}
		e.observe(findings.EntityDimensions, false)
	}

	rows := make(map[string]*ledger.DimensionOverrideRecord)
	published, err := e.store.Dimensions.ActiveRows(ctx, findings.StatusPublished, "")
	if err != nil {
		return nil, err
	}
	for _, r := range published {
		rows[r.FindingID] = r
	}
	if mode == PreviewDraft {
		drafts, err := e.store.Dimensions.ActiveRows(ctx, findings.StatusDraft, "")
		if err != nil {
			return nil, err
		}
		for _, r := range drafts {
			rows[r.FindingID] = r
		}
	}

	ids, err := e.knownIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EffectiveDimensions, 0, len(ids))
	for _, id := range ids {
		def, _ := e.catalog.Get(id)
		out = append(out, newEffectiveDimensions(id, dimensionsOutcome(def, rows[id])))
	}
	if e.dimIndex != nil {
		e.dimIndex.Set(cacheKey, slices.Clone(out))
	}
	e.logger.Debug("resolved dimension index", "mode", mode.String(), "revision", rev, "findings", len(out))
	return out, nil
}

// MessageIndex resolves the narrative of every known finding in lang.
func (e *Engine) MessageIndex(ctx context.Context, lang string, mode Mode) ([]EffectiveMessages, error) {
	if err := e.checkMode(mode); err != nil {
		return nil, err
	}
	lang = e.lang(lang)
	rev, err := e.store.Revision(ctx)
	if err != nil {
		return nil, err
	}
	cacheKey := indexKey(findings.EntityMessages, mode, lang, rev)
	if e.msgIndex != nil {
		if cached, ok := e.msgIndex.Get(cacheKey); ok {
			e.observe(findings.EntityMessages, true)
			return slices.Clone(cached), nil
		}
		e.observe(findings.EntityMessages, false)
	}

	rows := make(map[string]*ledger.MessageOverrideRecord)
	published, err := e.store.Messages.ActiveRows(ctx, findings.StatusPublished, lang)
	if err != nil {
		return nil, err
	}
	for _, r := range published {
		rows[r.FindingID] = r
	}
	if mode == PreviewDraft {
		drafts, err := e.store.Messages.ActiveRows(ctx, findings.StatusDraft, lang)
		if err != nil {
			return nil, err
		}
		for _, r := range drafts {
			rows[r.FindingID] = r
		}
	}

	ids, err := e.knownIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EffectiveMessages, 0, len(ids))
	for _, id := range ids {
		def, _ := e.catalog.Get(id)
		out = append(out, newEffectiveMessages(id, lang, e.messagesOutcome(def, lang, rows[id])))
	}
	if e.msgIndex != nil {
		e.msgIndex.Set(cacheKey, slices.Clone(out))
	}
	e.logger.Debug("resolved message index", "mode", mode.String(), "lang", lang, "revision", rev, "findings", len(out))
	return out, nil
}

func (e *Engine) knownIDs(ctx context.Context) ([]string, error) {
	ledgerIDs, err := e.store.KnownFindingIDs(ctx)
	if err != nil {
		return nil, err
	}
	ids := mapset.NewThreadUnsafeSet(e.catalog.IDs()...)
	ids.Append(ledgerIDs...)
	out := ids.ToSlice()
	sort.Strings(out)
	return out, nil
}

func (e *Engine) lang(lang string) string {
	if l := findings.NormalizeLang(lang); l != "" {
		return l
	}
	return e.catalog.DefaultLang()
}

func (e *Engine) observe(kind findings.EntityType, hit bool) {
	if e.observer != nil {
		e.observer.ObserveCacheLookup(string(kind), hit)
	}
}

func (e *Engine) messagesOutcome(def *seed.Definition, lang string, row *ledger.MessageOverrideRecord) Outcome[findings.Messages] {
	if row != nil {
		return Override[findings.Messages]{Version: row.Version, Status: row.Status, Label: row.VersionText, Record: row.Messages}
	}
	msg, _ := seed.SeedMessages(e.catalog, def, lang)
	return Seed[findings.Messages]{Record: msg}
}

func dimensionsOutcome(def *seed.Definition, row *ledger.DimensionOverrideRecord) Outcome[findings.Dimensions] {
	if row != nil {
		return Override[findings.Dimensions]{Version: row.Version, Status: row.Status, Label: row.VersionText, Record: row.Dimensions}
	}
	if def == nil {
		return Seed[findings.Dimensions]{}
	}
	return Seed[findings.Dimensions]{Record: def.Dimensions}
}

func indexKey(kind findings.EntityType, mode Mode, lang string, rev int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", kind, mode, lang, rev)
}
