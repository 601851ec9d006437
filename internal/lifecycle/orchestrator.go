// Package lifecycle coordinates one test's browser session, login, fixture
// creation and cleanup. An Orchestrator belongs to exactly one test and is
// not safe for concurrent use; the store it flushes into may be shared.
package lifecycle

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/kuitang/uifixture/internal/apiclient"
	"github.com/kuitang/uifixture/internal/browser"
	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/db"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/fixtures"
	"github.com/kuitang/uifixture/internal/ledger"
	"github.com/kuitang/uifixture/internal/login"
	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/internal/page"
	"github.com/kuitang/uifixture/internal/waitfor"
)

// DefaultDeletionTimeout bounds WaitForDeletion when no timeout is given.
const DefaultDeletionTimeout = 30 * time.Second

// State is a test's position in its lifecycle.
type State int

const (
	NotStarted State = iota
	SessionActive
	Authenticated
	Running
	TornDown
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case SessionActive:
		return "session_active"
	case Authenticated:
		return "authenticated"
	case Running:
		return "running"
	case TornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionProvider opens browser sessions.
type SessionProvider interface {
	Launch(ctx context.Context) (page.Driver, error)
}

var _ SessionProvider = (*browser.Launcher)(nil)

// API is the part of apiclient.Client the orchestrator uses.
type API interface {
	fixtures.API
	Delete(ctx context.Context, path string) error
	GenerateIdentifier(ctx context.Context, source string) (string, error)
}

var _ API = (*apiclient.Client)(nil)

// ArtifactStore captures failure evidence from a session.
type ArtifactStore interface {
	Capture(ctx context.Context, d page.Driver, prefix string) ([]string, error)
}

// Options configures an Orchestrator.
type Options struct {
	BaseURL         string
	Admin           login.Credential
	DefaultLocation int
	SubmitMode      config.SubmitMode
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	DeletionTimeout time.Duration
	Clock           waitfor.Clock

	// RunID and TestName tag logs and artifact keys.
	RunID    string
	TestName string
	// Artifacts receives a screenshot and the page HTML of failed tests.
	// Nil disables capture.
	Artifacts ArtifactStore
	// PushgatewayURL receives the run's metrics when the suite closes.
	// Empty skips the push.
	PushgatewayURL string
}

// OptionsFrom maps run configuration onto Options.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		BaseURL:         cfg.WebAppURL,
		Admin:           login.AdminCredential(cfg),
		DefaultLocation: cfg.DefaultLocation,
		SubmitMode:      cfg.SubmitMode,
		WaitTimeout:     cfg.WaitTimeout,
		PollInterval:    cfg.PollInterval,
		DeletionTimeout: cfg.DeletionTimeout,
		PushgatewayURL:  cfg.PushgatewayURL,
	}
}

// Orchestrator drives one test from session start to teardown.
type Orchestrator struct {
	opts     Options
	sessions SessionProvider
	api      API
	store    *db.Store
	ledger   *ledger.Ledger

	state     State
	sessionID string
	driver    page.Driver
	sync      *page.Synchronizer
	flow      *login.Flow
}

// New returns an orchestrator in NotStarted. The ledger is fresh and private
// to the returned orchestrator.
func New(sessions SessionProvider, api API, store *db.Store, opts Options) *Orchestrator {
	if opts.DeletionTimeout <= 0 {
		opts.DeletionTimeout = DefaultDeletionTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = waitfor.DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = waitfor.RealClock
	}
	return &Orchestrator{
		opts:     opts,
		sessions: sessions,
		api:      api,
		store:    store,
		ledger:   ledger.New(store),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// SessionID returns the id of the active session, or "" before StartSession.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Synchronizer returns the session's synchronizer, nil before StartSession.
func (o *Orchestrator) Synchronizer() *page.Synchronizer { return o.sync }

// Ledger returns this test's cleanup ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Context adds this test's correlation fields to ctx.
func (o *Orchestrator) Context(ctx context.Context) context.Context {
	return obs.WithCorrelation(ctx, obs.Correlation{
		RunID:     o.opts.RunID,
		TestName:  o.opts.TestName,
		SessionID: o.sessionID,
	})
}

// StartSession opens a browser session and navigates to the login page.
// If the navigation fails the session stays open for Teardown to close.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	if o.state != NotStarted {
		return errs.New(errs.FailedPrecondition, "start session: orchestrator is "+o.state.String())
	}
	d, err := o.sessions.Launch(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	o.driver = d
	o.sessionID = uuid.NewString()
	o.sync = page.NewSynchronizer(d, page.Options{
		BaseURL:  o.opts.BaseURL,
		Timeout:  o.opts.WaitTimeout,
		Interval: o.opts.PollInterval,
		Clock:    o.opts.Clock,
	})
	o.flow = login.New(o.sync, login.Options{
		Mode:            o.opts.SubmitMode,
		Admin:           o.opts.Admin,
		DefaultLocation: o.opts.DefaultLocation,
	})
	o.state = SessionActive

	ctx = o.Context(ctx)
	obs.From(ctx).Info("session started", "pkg", "lifecycle")
	if err := o.sync.NavigateAndWaitReady(ctx, page.LoginPath); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	return nil
}

func (o *Orchestrator) requireSession(op string) error {
	switch o.state {
	case SessionActive, Authenticated, Running:
		return nil
	default:
		return errs.New(errs.FailedPrecondition, op+": no active session (orchestrator is "+o.state.String()+")")
	}
}

// Login logs in with the configured admin credential.
func (o *Orchestrator) Login(ctx context.Context) error {
	return o.LoginAs(ctx, o.opts.Admin)
}

// LoginAs asserts the login page, logs in with cred and asserts the home
// page.
func (o *Orchestrator) LoginAs(ctx context.Context, cred login.Credential) error {
	if err := o.requireSession("login as " + cred.Username); err != nil {
		return err
	}
	ctx = o.Context(ctx)
	root := o.sync.Root()
	if err := o.sync.AssertPage(ctx, page.LoginPage{Root: root}); err != nil {
		return err
	}
	if err := o.flow.LoginAs(ctx, cred); err != nil {
		return err
	}
	if err := o.sync.AssertPage(ctx, page.HomePage{Root: root}); err != nil {
		return errs.Wrap(errs.Authentication, "login as "+cred.Username, err)
	}
	if o.state == SessionActive {
		o.state = Authenticated
	}
	return nil
}

// LoginUser logs in as a user created by CreateUser.
func (o *Orchestrator) LoginUser(ctx context.Context, u fixtures.UserInfo) error {
	return o.LoginAs(ctx, login.Credential{Username: u.Username, Password: u.Password})
}

// enter checks that fixtures may still be created and moves an active
// session into Running.
func (o *Orchestrator) enter(op string) error {
	switch o.state {
	case TornDown:
		return errs.New(errs.FailedPrecondition, op+": test already torn down")
	case SessionActive, Authenticated:
		o.state = Running
	}
	return nil
}

// PatientIDFromURL returns the patientId parameter of the current URL, or ""
// when there is none.
func (o *Orchestrator) PatientIDFromURL() string {
	if o.sync == nil {
		return ""
	}
	return o.sync.QueryParam("patientId")
}

// AssertPage waits for the browser to show p.
func (o *Orchestrator) AssertPage(ctx context.Context, p page.Page) error {
	if err := o.requireSession("assert " + p.Name() + " page"); err != nil {
		return err
	}
	return o.sync.AssertPage(o.Context(ctx), p)
}

// CurrentPage describes the screen the browser shows now.
func (o *Orchestrator) CurrentPage() page.GenericPage {
	if o.sync == nil {
		return page.GenericPage{}
	}
	return page.Current(o.sync)
}

// Teardown ends the test. When failed is true and artifacts are configured
// it uploads a screenshot and the page HTML first. Pending ledger
// obligations are reported, not flushed: deleting users and roles is the
// test's job. The session is always closed. Calling Teardown again is a
// no-op.
func (o *Orchestrator) Teardown(ctx context.Context, failed bool) error {
	if o.state == TornDown {
		return nil
	}
	ctx = o.Context(ctx)
	logger := obs.From(ctx).With("pkg", "lifecycle")
	prev := o.state
	o.state = TornDown

	if failed && o.driver != nil && o.opts.Artifacts != nil {
		prefix := path.Join(o.opts.RunID, o.opts.TestName, o.sessionID)
		if keys, err := o.opts.Artifacts.Capture(ctx, o.driver, prefix); err != nil {
			logger.Warn("failure artifacts incomplete", "keys", keys, "error", err.Error())
		}
	}

	if pending := o.ledger.Pending(); len(pending) > 0 {
		logger.Warn("cleanup obligations not flushed at teardown",
			"count", len(pending),
			"obligations", lo.Map(pending, func(ob ledger.Obligation, _ int) string { return ob.String() }),
		)
	}

	logger.Info("test torn down", "from_state", prev.String(), "failed", failed)
	if o.driver == nil {
		return nil
	}
	if err := o.driver.Close(); err != nil {
		return errs.Wrap(errs.Teardown, "close browser session", err)
	}
	return nil
}
