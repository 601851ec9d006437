// Package page synchronizes tests with browser-visible state. Everything
// here talks to the browser through Driver, so the waits can run against a
// real Playwright page or a scripted fake.
package page

import "context"

// Driver is the subset of a browser page the synchronizer needs.
type Driver interface {
	// Navigate loads url and returns once the navigation has committed.
	Navigate(ctx context.Context, url string) error
	// URL returns the current absolute URL.
	URL() string
	// Count returns how many elements currently match selector.
	Count(selector string) (int, error)
	// Element returns a handle to the first element matching selector.
	Element(selector string) Element
	// Evaluate runs a JavaScript expression in the page.
	Evaluate(expression string, arg any) (any, error)
	Screenshot() ([]byte, error)
	Content() (string, error)
	Close() error
}

// Element is a located element handle.
type Element interface {
	Click() error
	Fill(value string) error
	Text() (string, error)
	Attribute(name string) (string, error)
}
