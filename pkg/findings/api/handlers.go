package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inspectio/finding-overrides/pkg/authn"
	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
	"github.com/inspectio/finding-overrides/pkg/findings/lifecycle"
	"github.com/inspectio/finding-overrides/pkg/findings/resolve"
	"github.com/inspectio/finding-overrides/pkg/priority"
)

// getEffectiveHandler returns the effective dimensions and messages of one finding.
func getEffectiveHandler(engine *resolve.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		mode, err := resolve.ParseMode(r.URL.Query().Get("mode"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		dims, err := engine.Dimensions(r.Context(), id, mode)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		msgs, err := engine.Messages(r.Context(), id, r.URL.Query().Get("lang"), mode)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, EffectiveResponse{
			FindingID:  id,
			Mode:       mode.String(),
			Dimensions: dims,
			Messages:   msgs,
		})
	}
}

// listEffectiveHandler returns the effective index of every known finding.
// kind=dimensions or kind=messages limits the response to one family.
func listEffectiveHandler(engine *resolve.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode, err := resolve.ParseMode(q.Get("mode"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		kind := findings.EntityType(q.Get("kind"))
		if kind != "" && !kind.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", kind))
			return
		}

		resp := EffectiveIndexResponse{
			Mode:       mode.String(),
			Dimensions: []resolve.EffectiveDimensions{},
			Messages:   []resolve.EffectiveMessages{},
		}
		if kind == "" || kind == findings.EntityDimensions {
			if resp.Dimensions, err = engine.DimensionIndex(r.Context(), mode); err != nil {
				writeServiceError(w, err)
				return
			}
			resp.Size = len(resp.Dimensions)
		}
		if kind == "" || kind == findings.EntityMessages {
			if resp.Messages, err = engine.MessageIndex(r.Context(), q.Get("lang"), mode); err != nil {
				writeServiceError(w, err)
				return
			}
			resp.Size = max(resp.Size, len(resp.Messages))
			if len(resp.Messages) > 0 {
				resp.Lang = resp.Messages[0].Lang
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// getStateHandler reports the lifecycle state of both families of a finding.
func getStateHandler(store *ledger.Store, defaultLang func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		lang := r.URL.Query().Get("lang")
		if lang == "" {
			lang = defaultLang()
		}
		dims, err := store.Dimensions.State(r.Context(), findings.DimensionsKey(id))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		msgs, err := store.Messages.State(r.Context(), findings.MessagesKey(id, lang))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{FindingID: id, Dimensions: dims, Messages: msgs})
	}
}

// createDimensionDraftHandler stores a new dimension draft.
func createDimensionDraftHandler(store *ledger.Store, onChange func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := findings.DimensionsKey(chi.URLParam(r, "id"))
		var req DimensionDraftRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		version, err := store.Dimensions.CreateDraft(r.Context(), key, ledger.DraftInput[findings.Dimensions]{
			Values: req.Dimensions,
			Actor:  authn.FromContext(r.Context()).Principal,
			Note:   req.Note,
			Source: req.Source,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		onChange()
		writeJSON(w, http.StatusCreated, DraftResponse{
			FindingID:  key.FindingID,
			EntityType: findings.EntityDimensions,
			Version:    version,
			Status:     findings.StatusDraft,
		})
	}
}

// createMessageDraftHandler stores a new message draft for one language.
func createMessageDraftHandler(store *ledger.Store, onChange func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := findings.MessagesKey(chi.URLParam(r, "id"), chi.URLParam(r, "lang"))
		var req MessageDraftRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		version, err := store.Messages.CreateDraft(r.Context(), key, ledger.DraftInput[findings.Messages]{
			Values: req.Messages,
			Actor:  authn.FromContext(r.Context()).Principal,
			Note:   req.Note,
			Source: req.Source,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		onChange()
		writeJSON(w, http.StatusCreated, DraftResponse{
			FindingID:  key.FindingID,
			Lang:       key.Lang,
			EntityType: findings.EntityMessages,
			Version:    version,
			Status:     findings.StatusDraft,
		})
	}
}

// resetHandler deactivates the active published row so the finding resolves
// to its seed again.
func resetHandler(store *ledger.Store, entity findings.EntityType, onChange func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var (
			key     findings.Key
			changed bool
			err     error
		)
		if entity == findings.EntityMessages {
			key = findings.MessagesKey(id, chi.URLParam(r, "lang"))
			changed, err = store.Messages.ResetActive(r.Context(), key)
		} else {
			key = findings.DimensionsKey(id)
			changed, err = store.Dimensions.ResetActive(r.Context(), key)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		onChange()
		writeJSON(w, http.StatusOK, ResetResponse{FindingID: key.FindingID, Lang: key.Lang, EntityType: entity, Reset: changed})
	}
}

// listDimensionVersionsHandler lists the dimension history of a finding.
func listDimensionVersionsHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, err := pageSizeParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, next, err := store.Dimensions.Versions(r.Context(), findings.DimensionsKey(chi.URLParam(r, "id")), pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]ledger.DimensionOverrideRecord, 0, len(rows))
		for _, row := range rows {
			items = append(items, *row)
		}
		writeJSON(w, http.StatusOK, VersionListResponse[ledger.DimensionOverrideRecord]{Items: items, NextPageToken: next, Size: len(items)})
	}
}

// listMessageVersionsHandler lists the message history of a finding in one language.
func listMessageVersionsHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, err := pageSizeParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		key := findings.MessagesKey(chi.URLParam(r, "id"), chi.URLParam(r, "lang"))
		rows, next, err := store.Messages.Versions(r.Context(), key, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]ledger.MessageOverrideRecord, 0, len(rows))
		for _, row := range rows {
			items = append(items, *row)
		}
		writeJSON(w, http.StatusOK, VersionListResponse[ledger.MessageOverrideRecord]{Items: items, NextPageToken: next, Size: len(items)})
	}
}

// publishHandler publishes the selected drafts of one family.
func publishHandler(publisher *lifecycle.Publisher, entity findings.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lifecycle.PublishRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		req.Actor = authn.FromContext(r.Context()).Principal
		res, err := publisher.Publish(r.Context(), entity, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// rollbackHandler rolls one family back to the state before a publish label.
func rollbackHandler(publisher *lifecycle.Publisher, entity findings.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lifecycle.RollbackRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		req.Actor = authn.FromContext(r.Context()).Principal
		res, err := publisher.Rollback(r.Context(), entity, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// listAuditHandler lists audit entries newest first.
func listAuditHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pageSize, err := pageSizeParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter := ledger.AuditFilter{
			EntityType: findings.EntityType(q.Get("entityType")),
			FindingID:  q.Get("findingId"),
			Action:     ledger.Action(q.Get("action")),
			BatchID:    q.Get("batchId"),
		}
		if filter.EntityType != "" && !filter.EntityType.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown entityType %q", filter.EntityType))
			return
		}
		records, next, total, err := store.Audit.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if records == nil {
			records = []ledger.AuditLogRecord{}
		}
		writeJSON(w, http.StatusOK, AuditListResponse{
			Items:         records,
			NextPageToken: next,
			Size:          len(records),
			TotalSize:     total,
		})
	}
}

// resolvePriorityHandler runs the priority resolver. With validate=true an
// override without a reason is rejected, and when requireOperator is set only
// operators may submit a validated override.
func resolvePriorityHandler(engine *resolve.Engine, requireOperator bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PriorityRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		for field, p := range map[string]*priority.Priority{
			"calculated": req.Calculated, "selected": req.Selected,
			"already_final": req.AlreadyFinal, "legacy": req.Legacy,
		} {
			if p != nil && !p.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: unknown priority %q", field, *p))
				return
			}
		}

		if req.FindingID != "" {
			if req.Calculated == nil {
				eff, err := engine.Dimensions(r.Context(), req.FindingID, resolve.Production)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				req.Calculated = eff.Dimensions.Priority
			}
			if req.Legacy == nil {
				if def, ok := engine.Catalog().Get(req.FindingID); ok {
					req.Legacy = def.LegacyPriority
				}
			}
		}

		in := priority.Input{
			Calculated:     req.Calculated,
			Selected:       req.Selected,
			AlreadyFinal:   req.AlreadyFinal,
			OverrideReason: req.OverrideReason,
			Legacy:         req.Legacy,
		}
		valid := priority.IsOverrideValid(in)
		if req.Validate {
			if !valid {
				writeError(w, http.StatusBadRequest, "priority override requires a non-empty override_reason")
				return
			}
			attempted := req.Calculated != nil && req.Selected != nil && *req.Calculated != *req.Selected
			if attempted && requireOperator && !authn.FromContext(r.Context()).IsOperator() {
				writeError(w, http.StatusForbidden, "insufficient permissions: operator role required to override priority")
				return
			}
		}
		writeJSON(w, http.StatusOK, PriorityResponse{
			Priority:      priority.ResolveFinal(in),
			OverrideValid: valid,
			Calculated:    req.Calculated,
			Legacy:        req.Legacy,
		})
	}
}

func healthHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.Revision(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unavailable: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalBody accepts an empty body as the zero value.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	// Chunked requests report an unknown length; an empty one decodes to EOF.
	if err := decodeBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func pageSizeParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("pageSize")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid pageSize %q", raw)
	}
	return n, nil
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case findings.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, findings.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, findings.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
