package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/kuitang/uifixture/internal/apiclient"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/lifecycle"
	"github.com/kuitang/uifixture/internal/login"
	"github.com/kuitang/uifixture/internal/page"
	"github.com/kuitang/uifixture/tests/e2e/testutil"
)

// noBrowser is the session provider for API-only tests.
type noBrowser struct{}

func (noBrowser) Launch(context.Context) (page.Driver, error) {
	return nil, errs.New(errs.FailedPrecondition, "e2e tests run without a browser")
}

type env struct {
	app   *testutil.App
	api   *apiclient.Client
	suite *lifecycle.Suite
}

// newEnv starts a fake application and a suite wired to it. The suite
// shares the application's backing store the way a real run shares the
// server's database.
func newEnv(t *testing.T, opts testutil.Options) *env {
	t.Helper()
	app := testutil.NewApp(t, opts)
	api := apiclient.New(apiclient.Config{
		WebAppURL: app.URL,
		Username:  testutil.AdminUsername,
		Password:  testutil.AdminPassword,
		Timeout:   5 * time.Second,
	})
	suite := lifecycle.NewSuiteFrom(noBrowser{}, api, app.Store, lifecycle.Options{
		BaseURL:         app.URL,
		Admin:           login.Credential{Username: testutil.AdminUsername, Password: testutil.AdminPassword, Location: 1},
		PollInterval:    20 * time.Millisecond,
		DeletionTimeout: 5 * time.Second,
		RunID:           "e2e",
	})
	return &env{app: app, api: api, suite: suite}
}
