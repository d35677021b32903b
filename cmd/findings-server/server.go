package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/inspectio/finding-overrides/internal/config"
	"github.com/inspectio/finding-overrides/internal/db"
	"github.com/inspectio/finding-overrides/internal/telemetry"
	"github.com/inspectio/finding-overrides/pkg/authn"
	"github.com/inspectio/finding-overrides/pkg/findings/api"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
	"github.com/inspectio/finding-overrides/pkg/findings/lifecycle"
	"github.com/inspectio/finding-overrides/pkg/findings/resolve"
	"github.com/inspectio/finding-overrides/pkg/findings/seed"
)

// apiPrefix is where the findings API is mounted.
const apiPrefix = "/api/findings/v1"

// app is the assembled server.
type app struct {
	handler http.Handler
	db      *gorm.DB
	engine  *resolve.Engine
}

// newApp wires configuration into a ready handler: database, migrations,
// seed catalog, engine, publisher and router.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	gdb, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	store := ledger.NewStore(gdb)
	if err := db.Migrate(ctx, gdb, store, cfg.Database, logger); err != nil {
		db.Close(gdb, logger)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if !store.Configured() {
		logger.Warn("no database configured, ledger requests will fail with 503")
	}

	catalog, err := loadCatalog(cfg.Seed, logger)
	if err != nil {
		db.Close(gdb, logger)
		return nil, err
	}

	extractor, err := newExtractor(cfg.Auth, logger)
	if err != nil {
		db.Close(gdb, logger)
		return nil, err
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New()
	}

	opts := resolve.Options{
		Cache:        cfg.Cache,
		AllowPreview: cfg.Resolution.AllowPreview,
		Logger:       logger,
	}
	var transitions lifecycle.Metrics
	if metrics != nil {
		opts.Observer = metrics
		transitions = metrics
	}
	engine := resolve.NewEngine(catalog, store, opts)
	publisher := lifecycle.NewPublisher(store, engine, logger, transitions)

	handler := newRouter(cfg, api.Deps{
		Engine:          engine,
		Store:           store,
		Publisher:       publisher,
		Extractor:       extractor,
		RequireOperator: cfg.Auth.RequireOperatorForWrites,
		Logger:          logger,
	}, metrics)

	logger.Info("findings server assembled",
		"findings", len(catalog.IDs()),
		"defaultLang", catalog.DefaultLang(),
		"database", cfg.Database.Type,
		"migrate", cfg.Database.Migrate,
		"authMode", cfg.Auth.Mode,
		"allowPreview", cfg.Resolution.AllowPreview,
		"cache", cfg.Cache.Enabled)
	return &app{handler: handler, db: gdb, engine: engine}, nil
}

func loadCatalog(cfg config.SeedConfig, logger *slog.Logger) (*seed.StaticCatalog, error) {
	if cfg.Path == "" {
		logger.Warn("no seed catalog configured, only ledger findings will resolve")
		return seed.NewStaticCatalog(cfg.DefaultLang, nil)
	}
	catalog, err := seed.Load(cfg.Path, cfg.DefaultLang)
	if err != nil {
		return nil, fmt.Errorf("load seed catalog: %w", err)
	}
	return catalog, nil
}

func newExtractor(cfg config.AuthConfig, logger *slog.Logger) (authn.Extractor, error) {
	switch cfg.Mode {
	case "jwt":
		extractor, err := authn.NewJWTExtractor(authn.JWTConfig{
			PrincipalClaim:    cfg.PrincipalClaim,
			RoleClaim:         cfg.RoleClaim,
			OperatorRoleValue: cfg.OperatorRoleValue,
			PublicKeyPath:     cfg.PublicKeyPath,
			Issuer:            cfg.Issuer,
			Audience:          cfg.Audience,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configure jwt auth: %w", err)
		}
		logger.Info("using JWT auth",
			"principalClaim", cfg.PrincipalClaim,
			"roleClaim", cfg.RoleClaim,
			"hasPublicKey", cfg.PublicKeyPath != "")
		return extractor, nil
	case "header", "":
		logger.Info("using header-based auth", "principalHeader", authn.PrincipalHeader, "roleHeader", authn.RoleHeader)
		return authn.HeaderExtractor, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q (expected jwt or header)", cfg.Mode)
}

func newRouter(cfg *config.Config, deps api.Deps, metrics *telemetry.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", authn.PrincipalHeader, authn.RoleHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if metrics != nil {
		r.Use(metrics.Middleware)
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	r.Mount(apiPrefix, api.Router(deps))
	return r
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
