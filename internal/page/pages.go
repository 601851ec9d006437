package page

import (
	"context"
)

// Paths under the application root.
const (
	LoginPath  = "/login.htm"
	LogoutPath = "/logout"
	HomePath   = "/referenceapplication/home.page"
)

// Page is one screen of the application under test.
type Page interface {
	Name() string
	// ExpectedPath is the absolute URL path the browser shows on this screen.
	ExpectedPath() string
	WaitUntilLoaded(ctx context.Context, s *Synchronizer) error
}

// LogoutSelector matches the logout link rendered for authenticated sessions.
func LogoutSelector(root string) string {
	return "a[href='" + root + LogoutPath + "']"
}

// LoginPage is the credential entry screen.
type LoginPage struct {
	Root string
}

func (LoginPage) Name() string { return "login" }

func (p LoginPage) ExpectedPath() string { return p.Root + LoginPath }

func (LoginPage) WaitUntilLoaded(ctx context.Context, s *Synchronizer) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	_, err := s.FindWhenPresent(ctx, "#username", 0)
	return err
}

// HomePage is the landing screen after login.
type HomePage struct {
	Root string
}

func (HomePage) Name() string { return "home" }

func (p HomePage) ExpectedPath() string { return p.Root + HomePath }

func (p HomePage) WaitUntilLoaded(ctx context.Context, s *Synchronizer) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	_, err := s.FindWhenPresent(ctx, LogoutSelector(p.Root), 0)
	return err
}

// GenericPage is whatever screen the browser currently shows.
type GenericPage struct {
	Path string
}

// Current returns a GenericPage for the browser's current path.
func Current(s *Synchronizer) GenericPage {
	return GenericPage{Path: s.URLPath()}
}

func (GenericPage) Name() string { return "generic" }

func (p GenericPage) ExpectedPath() string { return p.Path }

func (GenericPage) WaitUntilLoaded(ctx context.Context, s *Synchronizer) error {
	return s.WaitReady(ctx)
}
