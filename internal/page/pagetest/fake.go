// Package pagetest provides a scripted page.Driver for unit tests.
package pagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kuitang/uifixture/internal/page"
)

// Driver is an in-memory page.Driver. Tests script it by setting the URL,
// which selectors match, and what clicks and navigations do.
type Driver struct {
	mu         sync.Mutex
	url        string
	present    map[string]int
	texts      map[string]string
	attrs      map[string]string
	fills      map[string]string
	ready      bool
	readyAfter int
	evals      int
	actions    []string
	onClick    map[string]func(*Driver)
	onNavigate func(*Driver, string) error
	onEvaluate func(expr string, arg any) (any, bool, error)
	closed     bool
	shotErr    error
}

var _ page.Driver = (*Driver)(nil)

// New returns a ready driver showing url.
func New(url string) *Driver {
	return &Driver{
		url:     url,
		present: map[string]int{},
		texts:   map[string]string{},
		attrs:   map[string]string{},
		fills:   map[string]string{},
		onClick: map[string]func(*Driver){},
		ready:   true,
	}
}

// SetURL changes the current URL. Safe to call from hooks.
func (d *Driver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// SetPresent sets how many elements match selector.
func (d *Driver) SetPresent(selector string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present[selector] = n
}

// SetText sets the text content of selector.
func (d *Driver) SetText(selector, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts[selector] = text
	if d.present[selector] == 0 {
		d.present[selector] = 1
	}
}

// SetAttribute sets an attribute value on selector.
func (d *Driver) SetAttribute(selector, name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[selector+"@"+name] = value
}

// SetReady controls the page-ready signal.
func (d *Driver) SetReady(ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = ready
}

// ReadyAfter makes the page-ready signal report false for the next n
// evaluations.
func (d *Driver) ReadyAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyAfter = d.evals + n
}

// FailScreenshots makes Screenshot return err.
func (d *Driver) FailScreenshots(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shotErr = err
}

// OnClick registers a hook run after selector is clicked.
func (d *Driver) OnClick(selector string, fn func(*Driver)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClick[selector] = fn
}

// OnNavigate registers a hook run instead of the default URL change.
func (d *Driver) OnNavigate(fn func(*Driver, string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onNavigate = fn
}

// OnEvaluate registers a hook for script evaluation. When the hook reports
// handled=false the page-ready value is returned.
func (d *Driver) OnEvaluate(fn func(expr string, arg any) (any, bool, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEvaluate = fn
}

// Actions returns the recorded interaction log.
func (d *Driver) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.actions))
	copy(out, d.actions)
	return out
}

// Filled returns the last value typed into selector.
func (d *Driver) Filled(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fills[selector]
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) record(format string, args ...any) {
	d.actions = append(d.actions, fmt.Sprintf(format, args...))
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.record("navigate %s", url)
	hook := d.onNavigate
	if hook == nil {
		d.url = url
	}
	d.mu.Unlock()
	if hook != nil {
		return hook(d, url)
	}
	return nil
}

func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Driver) Count(selector string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.present[selector], nil
}

func (d *Driver) Element(selector string) page.Element {
	return &element{d: d, selector: selector}
}

func (d *Driver) Evaluate(expression string, arg any) (any, error) {
	d.mu.Lock()
	hook := d.onEvaluate
	d.evals++
	ready := d.ready && d.evals > d.readyAfter
	d.mu.Unlock()
	if hook != nil {
		v, handled, err := hook(expression, arg)
		if handled || err != nil {
			return v, err
		}
	}
	return ready, nil
}

func (d *Driver) Screenshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shotErr != nil {
		return nil, d.shotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (d *Driver) Content() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return "<html><body>" + d.url + "</body></html>", nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type element struct {
	d        *Driver
	selector string
}

func (e *element) Click() error {
	e.d.mu.Lock()
	if e.d.present[e.selector] == 0 {
		e.d.mu.Unlock()
		return fmt.Errorf("click %s: no such element", e.selector)
	}
	e.d.record("click %s", e.selector)
	hook := e.d.onClick[e.selector]
	e.d.mu.Unlock()
	if hook != nil {
		hook(e.d)
	}
	return nil
}

func (e *element) Fill(value string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if e.d.present[e.selector] == 0 {
		return fmt.Errorf("fill %s: no such element", e.selector)
	}
	e.d.record("fill %s", e.selector)
	e.d.fills[e.selector] = value
	return nil
}

func (e *element) Text() (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.texts[e.selector], nil
}

func (e *element) Attribute(name string) (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.attrs[e.selector+"@"+name], nil
}
