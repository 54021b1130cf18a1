package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/dialdeck/internal/backend"
	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/soyeahso/dialdeck/internal/console"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/store"
	"github.com/soyeahso/dialdeck/internal/telemetry"
)

// app is the wired runtime shared by commands that touch the backend.
type app struct {
	backend  *backend.Client
	hooks    *hooks.Manager
	db       *store.DB
	attempts *store.AttemptLog
	console  *console.Console
	shutdown telemetry.ShutdownFunc
}

// openApp builds the backend client, local store and console from cfg.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(paths.DatabasePath(cfg), log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("opening database: %w", err)
	}

	client := backend.New(cfg.Backend.BaseURL, log,
		backend.WithToken(cfg.Backend.Token),
		backend.WithTimeout(time.Duration(cfg.Backend.TimeoutSeconds)*time.Second),
	)

	hm := hooks.NewManager(log)
	attempts := store.NewAttemptLog(db)
	attempts.Attach(hm)

	opts := console.Options{
		Source:       cfg.Agents.Source,
		CountryCode:  cfg.Dialer.CountryCode,
		ResetAfter:   time.Duration(cfg.Dialer.ResetSeconds) * time.Second,
		HistoryLimit: cfg.Calls.HistoryLimit,
		Hooks:        hm,
	}
	if cfg.Agents.Source == config.SourceLocal {
		opts.Persister = store.NewAgentRepo(db)
	}
	c, err := console.New(client, opts, log)
	if err != nil {
		db.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	return &app{
		backend:  client,
		hooks:    hm,
		db:       db,
		attempts: attempts,
		console:  c,
		shutdown: shutdown,
	}, nil
}

func (a *app) Close() {
	a.console.Close()
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("flushing traces")
	}
}

// validateConfig fails when cfg has any validation issue.
func validateConfig(cfg *config.Config) error {
	issues := config.Validate(cfg)
	if len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		log.Error().Str("path", issue.Path).Msg(issue.Message)
	}
	return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
}
