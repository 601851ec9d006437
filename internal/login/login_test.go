package login_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/login"
	"github.com/kuitang/uifixture/internal/page"
	"github.com/kuitang/uifixture/internal/page/pagetest"
	"github.com/kuitang/uifixture/internal/waitfor"
)

const (
	base = "http://localhost:8080/openmrs"
	root = "/openmrs"
)

var accounts = map[string]string{
	"admin": "Admin123",
	"nurse": "Nurse123",
}

// loginPage scripts a driver that behaves like the reference login screen:
// either submission path lands on the home page when the credential is known.
func loginPage(t *testing.T) *pagetest.Driver {
	t.Helper()
	d := pagetest.New(base + page.LoginPath)
	d.SetPresent(login.UsernameSelector, 1)
	d.SetPresent(login.PasswordSelector, 1)
	d.SetPresent(login.LoginButton, 1)
	d.SetPresent(login.LocationSelector(1), 1)
	d.SetPresent(login.LocationSelector(2), 1)

	authenticate := func(d *pagetest.Driver, user, pass string) {
		if want, ok := accounts[user]; ok && want == pass {
			d.SetURL(base + page.HomePath)
			d.SetPresent(page.LogoutSelector(root), 1)
			return
		}
		d.SetURL(base + page.LoginPath + "?error=1")
	}
	d.OnClick(login.LoginButton, func(d *pagetest.Driver) {
		authenticate(d, d.Filled(login.UsernameSelector), d.Filled(login.PasswordSelector))
	})
	d.OnEvaluate(func(expr string, arg any) (any, bool, error) {
		args, ok := arg.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		if args["path"] != root+page.LoginPath {
			t.Errorf("post path = %v", args["path"])
		}
		fields := args["fields"].(map[string]any)
		if fields["sessionLocation"] == nil {
			t.Errorf("post missing sessionLocation: %v", fields)
		}
		authenticate(d, fields["username"].(string), fields["password"].(string))
		return nil, true, nil
	})
	return d
}

func newFlow(d page.Driver, mode config.SubmitMode) (*login.Flow, *page.Synchronizer) {
	s := page.NewSynchronizer(d, page.Options{
		BaseURL:  base,
		Timeout:  time.Second,
		Interval: 100 * time.Millisecond,
		Clock:    waitfor.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	return login.New(s, login.Options{
		Mode:  mode,
		Admin: login.Credential{Username: "admin", Password: "Admin123"},
	}), s
}

func TestLogin_BothSubmitModesLandOnHome(t *testing.T) {
	t.Parallel()

	for _, mode := range []config.SubmitMode{config.SubmitForm, config.SubmitPost} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()
			d := loginPage(t)
			flow, s := newFlow(d, mode)

			if err := flow.LoginAsAdmin(context.Background()); err != nil {
				t.Fatalf("login: %v", err)
			}
			if got := s.URLPath(); got != root+page.HomePath {
				t.Fatalf("landed on %q", got)
			}
			if err := s.AssertPage(context.Background(), page.HomePage{Root: root}); err != nil {
				t.Fatalf("assert home: %v", err)
			}
		})
	}
}

func TestLogin_FormModeUsesLocation(t *testing.T) {
	t.Parallel()

	d := loginPage(t)
	flow, _ := newFlow(d, config.SubmitForm)
	if err := flow.Login(context.Background(), "nurse", "Nurse123", login.WithLocation(2)); err != nil {
		t.Fatalf("login: %v", err)
	}
	actions := strings.Join(d.Actions(), "\n")
	if !strings.Contains(actions, "click "+login.LocationSelector(2)) {
		t.Fatalf("location 2 not picked:\n%s", actions)
	}
	if d.Filled(login.PasswordSelector) != "Nurse123" {
		t.Fatalf("password not typed")
	}
}

func TestLogin_WrongPasswordIsAuthenticationFailure(t *testing.T) {
	t.Parallel()

	for _, mode := range []config.SubmitMode{config.SubmitForm, config.SubmitPost} {
		d := loginPage(t)
		flow, _ := newFlow(d, mode)

		err := flow.Login(context.Background(), "admin", "wrong")
		if !errs.Is(err, errs.Authentication) {
			t.Fatalf("%s: expected authentication failure, got %v", mode, err)
		}
		if !errs.Is(err, errs.Timeout) {
			t.Fatalf("%s: expected wrapped timeout, got %v", mode, err)
		}
	}
}

func TestLogin_RequiresLoginPage(t *testing.T) {
	t.Parallel()

	d := loginPage(t)
	d.SetURL(base + page.HomePath)
	flow, _ := newFlow(d, config.SubmitForm)

	err := flow.LoginAsNurse(context.Background())
	if errs.CodeOf(err) != errs.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
	for _, a := range d.Actions() {
		if strings.HasPrefix(a, "navigate") || strings.HasPrefix(a, "fill") {
			t.Fatalf("login must not touch the page when off the login screen: %v", d.Actions())
		}
	}
}

func TestLoginAs_Presets(t *testing.T) {
	t.Parallel()

	d := loginPage(t)
	flow, _ := newFlow(d, config.SubmitPost)
	if err := flow.LoginAsNurse(context.Background()); err != nil {
		t.Fatalf("nurse login: %v", err)
	}

	d = loginPage(t)
	flow, _ = newFlow(d, config.SubmitPost)
	if err := flow.LoginAsClerk(context.Background()); !errs.Is(err, errs.Authentication) {
		t.Fatalf("clerk is not a known account here, got %v", err)
	}
}

func TestAdminCredential(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Username: "admin", Password: "Admin123", DefaultLocation: 3}
	got := login.AdminCredential(cfg)
	if got != (login.Credential{Username: "admin", Password: "Admin123", Location: 3}) {
		t.Fatalf("credential = %+v", got)
	}
}
