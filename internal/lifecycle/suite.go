package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/kuitang/uifixture/internal/apiclient"
	"github.com/kuitang/uifixture/internal/artifacts"
	"github.com/kuitang/uifixture/internal/browser"
	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/db"
	"github.com/kuitang/uifixture/internal/obs"
)

// Suite holds what every test in a run shares: the session provider, the
// API client and the backing-store handle. Orchestrators are per test.
type Suite struct {
	opts     Options
	sessions SessionProvider
	api      API
	store    *db.Store
}

// NewSuite wires a run from configuration.
func NewSuite(ctx context.Context, cfg *config.Config) (*Suite, error) {
	store, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN, db.Options{LockPath: cfg.CleanupLockPath})
	if err != nil {
		return nil, err
	}
	opts := OptionsFrom(cfg)
	opts.RunID = uuid.NewString()
	if cfg.ArtifactsEnabled() {
		a, err := artifacts.New(ctx, artifacts.OptionsFrom(cfg))
		if err != nil {
			store.Close()
			return nil, err
		}
		opts.Artifacts = a
	}
	sessions := browser.NewLauncher(browser.Options{
		Browser:    cfg.Browser,
		Headless:   cfg.Headless,
		WSEndpoint: cfg.BrowserWSEndpoint,
		Timeout:    cfg.WaitTimeout,
	})
	obs.From(ctx).Info("suite ready", "pkg", "lifecycle", "run_id", opts.RunID,
		"webapp", cfg.WebAppURL, "artifacts", cfg.ArtifactsEnabled())
	return NewSuiteFrom(sessions, apiclient.New(apiclient.ConfigFrom(cfg)), store, opts), nil
}

// NewSuiteFrom builds a suite from already constructed parts.
func NewSuiteFrom(sessions SessionProvider, api API, store *db.Store, opts Options) *Suite {
	return &Suite{opts: opts, sessions: sessions, api: api, store: store}
}

// API returns the shared API client.
func (s *Suite) API() API { return s.api }

// Store returns the shared backing-store handle.
func (s *Suite) Store() *db.Store { return s.store }

// Close logs the run's metrics, pushes them to the Pushgateway when one is
// configured, and releases the backing-store handle. A failed export is
// reported but the store is still closed.
func (s *Suite) Close(ctx context.Context) error {
	var errList []error
	if err := obs.LogMetrics(ctx); err != nil {
		errList = append(errList, err)
	}
	if s.opts.PushgatewayURL != "" {
		if err := obs.PushMetrics(ctx, s.opts.PushgatewayURL, s.opts.RunID); err != nil {
			obs.From(ctx).Warn("metrics push failed", "pkg", "lifecycle", "run_id", s.opts.RunID, "error", err)
			errList = append(errList, err)
		}
	}
	if err := s.store.Close(); err != nil {
		errList = append(errList, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errList...)
}

// New returns an orchestrator for t and registers its Teardown with
// t.Cleanup, so the session closes and failure artifacts are captured even
// when the test body stops early.
func (s *Suite) New(t testing.TB) *Orchestrator {
	t.Helper()
	opts := s.opts
	opts.TestName = t.Name()
	o := New(s.sessions, s.api, s.store, opts)
	t.Cleanup(func() {
		if err := o.Teardown(context.Background(), t.Failed()); err != nil {
			t.Errorf("teardown: %v", err)
		}
	})
	return o
}
