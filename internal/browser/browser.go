// Package browser launches Playwright sessions and adapts them to page.Driver.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/internal/page"
)

// Supported browser engines.
const (
	Chromium = "chromium"
	Firefox  = "firefox"
	WebKit   = "webkit"
)

// Options configures a launch.
type Options struct {
	// Browser is one of chromium, firefox, webkit. Empty means chromium.
	Browser  string
	Headless bool
	// WSEndpoint connects to a remote browser server instead of launching one.
	WSEndpoint string
	// Locale sets the browser context locale, e.g. "en-GB".
	Locale string
	// Timeout is the default action and navigation timeout.
	Timeout time.Duration
}

// Launcher starts Playwright sessions with fixed options.
type Launcher struct {
	Options Options
}

// NewLauncher returns a launcher for opts.
func NewLauncher(opts Options) *Launcher {
	return &Launcher{Options: opts}
}

// Launch starts a session and returns it as a page.Driver.
func (l *Launcher) Launch(ctx context.Context) (page.Driver, error) {
	return Launch(ctx, l.Options)
}

// Session is one browser, one context and one page.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
}

var _ page.Driver = (*Session)(nil)

// Launch starts Playwright, opens a browser and a fresh page.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := obs.From(ctx)

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.FailedPrecondition, "start playwright", err)
	}

	bt, err := browserType(pw, opts.Browser)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}

	var b playwright.Browser
	if opts.WSEndpoint != "" {
		b, err = bt.Connect(opts.WSEndpoint)
	} else {
		b, err = bt.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	}
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.FailedPrecondition, "launch "+bt.Name(), err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.Locale != "" {
		ctxOpts.Locale = playwright.String(opts.Locale)
	}
	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, errs.Wrap(errs.FailedPrecondition, "new browser context", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = page.DefaultTimeout
	}
	ms := float64(timeout.Milliseconds())
	bctx.SetDefaultTimeout(ms)
	bctx.SetDefaultNavigationTimeout(ms)

	p, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		_ = pw.Stop()
		return nil, errs.Wrap(errs.FailedPrecondition, "new page", err)
	}

	logger.Info("browser session started", "pkg", "browser", "browser", bt.Name(), "headless", opts.Headless, "remote", opts.WSEndpoint != "")
	return &Session{pw: pw, browser: b, bctx: bctx, page: p, timeout: timeout}, nil
}

func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch strings.ToLower(name) {
	case "", Chromium:
		return pw.Chromium, nil
	case Firefox:
		return pw.Firefox, nil
	case WebKit:
		return pw.WebKit, nil
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown browser %q", name))
	}
}

// Page exposes the Playwright page for callers that need more than Driver.
func (s *Session) Page() playwright.Page { return s.page }

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (s *Session) URL() string { return s.page.URL() }

func (s *Session) Count(selector string) (int, error) {
	return s.page.Locator(selector).Count()
}

func (s *Session) Element(selector string) page.Element {
	return locator{s.page.Locator(selector).First()}
}

func (s *Session) Evaluate(expression string, arg any) (any, error) {
	if arg == nil {
		return s.page.Evaluate(expression)
	}
	return s.page.Evaluate(expression, arg)
}

func (s *Session) Screenshot() ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

func (s *Session) Content() (string, error) { return s.page.Content() }

// Close tears down page, context, browser and the Playwright driver,
// returning the first error.
func (s *Session) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(s.page.Close())
	keep(s.bctx.Close())
	keep(s.browser.Close())
	keep(s.pw.Stop())
	return first
}

type locator struct {
	l playwright.Locator
}

func (l locator) Click() error { return l.l.Click() }

func (l locator) Fill(value string) error { return l.l.Fill(value) }

func (l locator) Text() (string, error) { return l.l.TextContent() }

func (l locator) Attribute(name string) (string, error) { return l.l.GetAttribute(name) }
