// Package browser runs the lifecycle against the fake application in a real
// Playwright browser. Every test skips when Playwright or its browsers are
// not installed.
package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kuitang/uifixture/internal/apiclient"
	"github.com/kuitang/uifixture/internal/artifacts"
	"github.com/kuitang/uifixture/internal/browser"
	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/lifecycle"
	"github.com/kuitang/uifixture/internal/login"
	"github.com/kuitang/uifixture/tests/e2e/testutil"
)

const (
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second

	artifactBucket = "browser-artifacts"
)

var (
	launchOnce sync.Once
	launchErr  error
)

// requirePlaywright skips t unless a headless Chromium can be launched.
func requirePlaywright(t *testing.T) {
	t.Helper()
	launchOnce.Do(func() {
		s, err := browser.Launch(context.Background(), browser.Options{Headless: true, Timeout: browserMaxTimeout})
		if err != nil {
			launchErr = err
			return
		}
		launchErr = s.Close()
	})
	if launchErr != nil {
		t.Skip("Playwright not available:", launchErr)
	}
}

// BrowserTestEnv is a fake application, an artifact bucket and a suite that
// launches real browser sessions against them.
type BrowserTestEnv struct {
	App       *testutil.App
	Artifacts *artifacts.Store
	Suite     *lifecycle.Suite
}

// SetupBrowserTestEnv builds an environment for one test. mode selects how
// the login form is submitted.
func SetupBrowserTestEnv(t *testing.T, mode config.SubmitMode) *BrowserTestEnv {
	t.Helper()
	requirePlaywright(t)

	app := testutil.NewApp(t, testutil.Options{})
	store := artifacts.TestStore(t, artifactBucket)
	api := apiclient.New(apiclient.Config{
		WebAppURL: app.URL,
		Username:  testutil.AdminUsername,
		Password:  testutil.AdminPassword,
		Timeout:   browserMaxTimeout,
	})
	sessions := browser.NewLauncher(browser.Options{Headless: true, Timeout: browserMaxTimeout})
	suite := lifecycle.NewSuiteFrom(sessions, api, app.Store, lifecycle.Options{
		BaseURL:         app.URL,
		Admin:           login.Credential{Username: testutil.AdminUsername, Password: testutil.AdminPassword},
		DefaultLocation: 1,
		SubmitMode:      mode,
		WaitTimeout:     browserMaxTimeout,
		PollInterval:    50 * time.Millisecond,
		DeletionTimeout: browserMaxTimeout,
		RunID:           "browser",
		Artifacts:       store,
	})
	return &BrowserTestEnv{App: app, Artifacts: store, Suite: suite}
}
