package page

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/internal/waitfor"
)

const (
	// DefaultTimeout bounds a wait when the caller passes zero.
	DefaultTimeout = 20 * time.Second
	// DefaultInterval is the poll interval between predicate checks.
	DefaultInterval = 200 * time.Millisecond
)

// readyScript reports true once the document has loaded, no jQuery ajax
// calls are in flight, and no busy indicator is visible. The reference
// application swaps views client-side, so readyState alone is not enough.
const readyScript = `() => {
	if (document.readyState !== "complete") return false;
	if (window.jQuery && window.jQuery.active > 0) return false;
	const busy = document.querySelectorAll(".loading, .spinner, [aria-busy='true']");
	for (const el of busy) {
		if (el.offsetParent !== null) return false;
	}
	return true;
}`

// Options configures a Synchronizer.
type Options struct {
	// BaseURL is the application root, e.g. http://localhost:8080/openmrs.
	BaseURL  string
	Timeout  time.Duration
	Interval time.Duration
	Clock    waitfor.Clock
}

// Synchronizer polls browser-visible state until an expected condition holds.
type Synchronizer struct {
	driver   Driver
	baseURL  string
	root     string
	timeout  time.Duration
	interval time.Duration
	clock    waitfor.Clock
}

// NewSynchronizer binds a synchronizer to one driver.
func NewSynchronizer(driver Driver, opts Options) *Synchronizer {
	s := &Synchronizer{
		driver:   driver,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		interval: opts.Interval,
		clock:    opts.Clock,
	}
	if u, err := url.Parse(s.baseURL); err == nil {
		s.root = strings.TrimRight(u.Path, "/")
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clock == nil {
		s.clock = waitfor.RealClock
	}
	return s
}

// Driver returns the underlying browser driver.
func (s *Synchronizer) Driver() Driver { return s.driver }

// Root returns the application path prefix, e.g. /openmrs.
func (s *Synchronizer) Root() string { return s.root }

// Timeout returns the default wait budget.
func (s *Synchronizer) Timeout() time.Duration { return s.timeout }

// WaitUntil polls predicate until it returns true or timeout elapses.
// A zero timeout uses the synchronizer default.
func (s *Synchronizer) WaitUntil(ctx context.Context, description string, timeout time.Duration, predicate func(Driver) (bool, error)) error {
	if timeout <= 0 {
		timeout = s.timeout
	}
	return waitfor.UntilWithClock(ctx, s.clock, waitfor.Condition{
		Description: description,
		Timeout:     timeout,
		Interval:    s.interval,
		Check: func(context.Context) (bool, error) {
			return predicate(s.driver)
		},
	})
}

// NavigateAndWaitReady loads path under the application root and waits for
// the page-ready signal.
func (s *Synchronizer) NavigateAndWaitReady(ctx context.Context, path string) error {
	target := s.baseURL + path
	obs.From(ctx).Debug("navigate", "pkg", "page", "url", target)
	if err := s.driver.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate to %s: %w", path, err)
	}
	return s.WaitReady(ctx)
}

// WaitReady waits for the page-ready signal on the current page.
func (s *Synchronizer) WaitReady(ctx context.Context) error {
	return s.WaitUntil(ctx, "page ready", 0, func(d Driver) (bool, error) {
		v, err := d.Evaluate(readyScript, nil)
		if err != nil {
			return false, err
		}
		ready, _ := v.(bool)
		return ready, nil
	})
}

// FindWhenPresent waits until selector matches and returns the element.
func (s *Synchronizer) FindWhenPresent(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	err := s.WaitUntil(ctx, "element "+selector, timeout, func(d Driver) (bool, error) {
		n, err := d.Count(selector)
		return n > 0, err
	})
	if err != nil {
		return nil, err
	}
	return s.driver.Element(selector), nil
}

// WaitForAbsent waits until nothing matches selector.
func (s *Synchronizer) WaitForAbsent(ctx context.Context, selector string, timeout time.Duration) error {
	return s.WaitUntil(ctx, "absence of "+selector, timeout, func(d Driver) (bool, error) {
		n, err := d.Count(selector)
		return n == 0, err
	})
}

// WaitForPath waits until the current URL path equals path.
func (s *Synchronizer) WaitForPath(ctx context.Context, path string, timeout time.Duration) error {
	return s.WaitUntil(ctx, "url path "+path, timeout, func(Driver) (bool, error) {
		return s.URLPath() == path, nil
	})
}

// URLPath returns the path component of the current URL.
func (s *Synchronizer) URLPath() string {
	u, err := url.Parse(s.driver.URL())
	if err != nil {
		return ""
	}
	return u.Path
}

// QueryParam returns a decoded query parameter of the current URL. For
// fragment-routed screens it also reads the query inside the fragment, as in
// "#/summary?patientId=x".
func (s *Synchronizer) QueryParam(name string) string {
	u, err := url.Parse(s.driver.URL())
	if err != nil {
		return ""
	}
	if v := u.Query().Get(name); v != "" {
		return v
	}
	frag := u.EscapedFragment()
	if _, query, ok := strings.Cut(frag, "?"); ok {
		frag = query
	}
	// ParseQuery keeps the well-formed pairs when it reports an error.
	values, _ := url.ParseQuery(frag)
	return values.Get(name)
}

// AssertPage waits for the browser to land on p and for p to finish loading.
func (s *Synchronizer) AssertPage(ctx context.Context, p Page) error {
	if err := s.WaitForPath(ctx, p.ExpectedPath(), 0); err != nil {
		return fmt.Errorf("expected %s page at %s, browser is at %s: %w", p.Name(), p.ExpectedPath(), s.URLPath(), err)
	}
	if err := p.WaitUntilLoaded(ctx, s); err != nil {
		return fmt.Errorf("%s page did not finish loading: %w", p.Name(), err)
	}
	return nil
}
