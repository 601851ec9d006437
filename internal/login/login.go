// Package login drives the application's login page until the session is
// authenticated.
package login

import (
	"context"
	_ "embed"
	"strconv"
	"strings"

	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/internal/page"
)

//go:embed post.js
var postJS string

// postScript submits a hidden form built from its argument. Credentials
// travel as the evaluate argument, never spliced into the script text.
var postScript = "(args) => {\n" + postJS + "\npost(args.path, args.fields);\n}"

// Form selectors on the login page.
const (
	UsernameSelector = "#username"
	PasswordSelector = "#password"
	LoginButton      = "#loginButton"
)

// LocationSelector matches the session location entry with the given id.
func LocationSelector(location int) string {
	return "#sessionLocation li[value='" + strconv.Itoa(location) + "']"
}

// Options configures a Flow.
type Options struct {
	Mode            config.SubmitMode
	Admin           Credential
	DefaultLocation int
}

// Flow logs a browser session in.
type Flow struct {
	sync            *page.Synchronizer
	mode            config.SubmitMode
	admin           Credential
	defaultLocation int
}

// New returns a login flow over s.
func New(s *page.Synchronizer, opts Options) *Flow {
	f := &Flow{
		sync:            s,
		mode:            opts.Mode,
		admin:           opts.Admin,
		defaultLocation: opts.DefaultLocation,
	}
	if f.mode == "" {
		f.mode = config.SubmitPost
	}
	if f.defaultLocation <= 0 {
		f.defaultLocation = 1
	}
	return f
}

type loginOptions struct {
	location int
	mode     config.SubmitMode
}

// Option adjusts a single Login call.
type Option func(*loginOptions)

// WithLocation picks the session location instead of the default.
func WithLocation(location int) Option {
	return func(o *loginOptions) { o.location = location }
}

// WithMode overrides the submission mechanism for one call.
func WithMode(mode config.SubmitMode) Option {
	return func(o *loginOptions) { o.mode = mode }
}

// Login submits credentials on the login page and waits for the logout link.
// The browser must already show the login page.
func (f *Flow) Login(ctx context.Context, username, password string, opts ...Option) error {
	o := loginOptions{location: f.defaultLocation, mode: f.mode}
	for _, opt := range opts {
		opt(&o)
	}
	logger := obs.From(ctx).With("pkg", "login", "username", username, "mode", string(o.mode))

	if err := f.sync.WaitReady(ctx); err != nil {
		return err
	}
	loginPath := f.sync.Root() + page.LoginPath
	if current := f.sync.URLPath(); current != loginPath {
		return errs.New(errs.FailedPrecondition, "login requires the login page, browser is at "+current)
	}

	var err error
	switch o.mode {
	case config.SubmitForm:
		err = f.submitForm(ctx, username, password, o.location)
	case config.SubmitPost:
		err = f.submitPost(loginPath, username, password, o.location)
	default:
		return errs.New(errs.InvalidArgument, "unknown submit mode "+string(o.mode))
	}
	if err != nil {
		return errs.Wrap(errs.Authentication, "submit login for "+username, err)
	}

	if _, err := f.sync.FindWhenPresent(ctx, page.LogoutSelector(f.sync.Root()), 0); err != nil {
		logger.Warn("login did not reach authenticated state", "path", f.sync.URLPath())
		return errs.Wrap(errs.Authentication, "login as "+username, err)
	}
	logger.Info("logged in", "location", o.location)
	return nil
}

func (f *Flow) submitForm(ctx context.Context, username, password string, location int) error {
	user, err := f.sync.FindWhenPresent(ctx, UsernameSelector, 0)
	if err != nil {
		return err
	}
	if err := user.Fill(username); err != nil {
		return err
	}
	if err := f.sync.Driver().Element(PasswordSelector).Fill(password); err != nil {
		return err
	}
	loc, err := f.sync.FindWhenPresent(ctx, LocationSelector(location), 0)
	if err != nil {
		return err
	}
	if err := loc.Click(); err != nil {
		return err
	}
	return f.sync.Driver().Element(LoginButton).Click()
}

func (f *Flow) submitPost(loginPath, username, password string, location int) error {
	_, err := f.sync.Driver().Evaluate(postScript, map[string]any{
		"path": loginPath,
		"fields": map[string]any{
			"username":        username,
			"password":        password,
			"sessionLocation": location,
		},
	})
	// form.submit() can tear down the page before evaluate returns.
	if err != nil && strings.Contains(err.Error(), "Execution context was destroyed") {
		return nil
	}
	return err
}

// LoginAs logs in with a credential. A zero Location uses the default.
func (f *Flow) LoginAs(ctx context.Context, cred Credential) error {
	var opts []Option
	if cred.Location > 0 {
		opts = append(opts, WithLocation(cred.Location))
	}
	return f.Login(ctx, cred.Username, cred.Password, opts...)
}

// LoginAsAdmin logs in with the configured admin credential.
func (f *Flow) LoginAsAdmin(ctx context.Context) error { return f.LoginAs(ctx, f.admin) }

func (f *Flow) LoginAsClerk(ctx context.Context) error { return f.LoginAs(ctx, Clerk) }

func (f *Flow) LoginAsNurse(ctx context.Context) error { return f.LoginAs(ctx, Nurse) }

func (f *Flow) LoginAsDoctor(ctx context.Context) error { return f.LoginAs(ctx, Doctor) }

func (f *Flow) LoginAsSysadmin(ctx context.Context) error { return f.LoginAs(ctx, Sysadmin) }
