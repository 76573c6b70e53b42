// Package app wires the engine, coordinator, debouncer, gateway and
// retention scheduler into one runnable server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"feedsync/internal/retention"
	"feedsync/pkg/banner"
	"feedsync/pkg/config"
	"feedsync/pkg/engine"
	"feedsync/pkg/httpx"
	"feedsync/pkg/logger"
	"feedsync/pkg/mutate"
	"feedsync/pkg/presence"
	"feedsync/pkg/state"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	eng   *engine.Pebble
	coord *mutate.Coordinator
	deb   *presence.Debouncer

	srv *httpx.Server
}

// New validates the effective config, prepares the runtime directories and
// opens the engine. It does not start the HTTP server; call Run for that.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("runtime dirs: %w", err)
	}
	if err := logger.AttachAuditFileSink(state.AuditPath(eff.DBPath)); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}

	eng, err := engine.NewPebble(state.StorePath(eff.DBPath), engine.Options{
		CacheSize: eff.Config.Storage.CacheSize.Int64(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine at %s: %w", eff.DBPath, err)
	}

	fc := eff.Config.Feed
	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		eng:       eng,
		coord:     mutate.New(eng, fc.BodyMaxLen, fc.PreviewMaxLen),
		deb:       presence.New(eng, fc.Debounce.Duration()),
	}
	return a, nil
}

// Run starts the retention scheduler and HTTP server, blocking until ctx is
// canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	stopRetention, err := retention.Start(ctx, a.eff.Config.Retention, a.eng)
	if err != nil {
		return err
	}
	defer stopRetention()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Warn("http_shutdown_failed", "error", err)
		}
	}
	a.deb.Close()
	if err := a.eng.Close(); err != nil {
		logger.Warn("engine_close_failed", "error", err)
	}
	logger.Sync()
}

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}
