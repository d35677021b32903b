// Package api exposes the override ledger and the resolution engine over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inspectio/finding-overrides/pkg/authn"
	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
	"github.com/inspectio/finding-overrides/pkg/findings/lifecycle"
	"github.com/inspectio/finding-overrides/pkg/findings/resolve"
)

// Deps wires the router to its services.
type Deps struct {
	Engine    *resolve.Engine
	Store     *ledger.Store
	Publisher *lifecycle.Publisher
	// Extractor resolves the caller identity. Defaults to authn.HeaderExtractor.
	Extractor authn.Extractor
	// RequireOperator restricts every write route to the operator role.
	RequireOperator bool
	Logger          *slog.Logger
}

// Router creates a chi.Router for the findings API.
func Router(d Deps) chi.Router {
	if d.Extractor == nil {
		d.Extractor = authn.HeaderExtractor
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	// Drafts and resets do not change production output, but they move the
	// ledger revision, so the engine is told to drop its index cache.
	onChange := d.Engine.Invalidate
	write := authn.RequireOperator(d.RequireOperator)
	defaultLang := d.Engine.Catalog().DefaultLang

	r := chi.NewRouter()
	r.Use(authn.Middleware(d.Extractor))

	r.Get("/healthz", healthHandler(d.Store))
	r.Get("/effective", listEffectiveHandler(d.Engine))
	r.Get("/audit", listAuditHandler(d.Store))
	r.Post("/priority/resolve", resolvePriorityHandler(d.Engine, d.RequireOperator))

	r.Route("/findings/{id}", func(r chi.Router) {
		r.Get("/effective", getEffectiveHandler(d.Engine))
		r.Get("/state", getStateHandler(d.Store, defaultLang))

		r.Route("/dimensions", func(r chi.Router) {
			r.Get("/versions", listDimensionVersionsHandler(d.Store))
			r.With(write).Post("/drafts", createDimensionDraftHandler(d.Store, onChange))
			r.With(write).Delete("/active", resetHandler(d.Store, findings.EntityDimensions, onChange))
		})
		r.Route("/messages/{lang}", func(r chi.Router) {
			r.Get("/versions", listMessageVersionsHandler(d.Store))
			r.With(write).Post("/drafts", createMessageDraftHandler(d.Store, onChange))
			r.With(write).Delete("/active", resetHandler(d.Store, findings.EntityMessages, onChange))
		})
	})

	for _, entity := range []findings.EntityType{findings.EntityDimensions, findings.EntityMessages} {
		r.With(write).Post("/"+string(entity)+"/publish", publishHandler(d.Publisher, entity))
		r.With(write).Post("/"+string(entity)+"/rollback", rollbackHandler(d.Publisher, entity))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	return r
}
