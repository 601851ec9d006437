package page_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/page"
	"github.com/kuitang/uifixture/internal/page/pagetest"
	"github.com/kuitang/uifixture/internal/waitfor"
)

const base = "http://localhost:8080/openmrs"

func newSync(d page.Driver) (*page.Synchronizer, *waitfor.FakeClock) {
	clock := waitfor.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return page.NewSynchronizer(d, page.Options{
		BaseURL:  base + "/",
		Timeout:  2 * time.Second,
		Interval: 100 * time.Millisecond,
		Clock:    clock,
	}), clock
}

func TestSynchronizer_RootFromBaseURL(t *testing.T) {
	t.Parallel()
	s, _ := newSync(pagetest.New(base))
	if s.Root() != "/openmrs" {
		t.Fatalf("root = %q", s.Root())
	}
}

func TestSynchronizer_NavigateAndWaitReady(t *testing.T) {
	t.Parallel()

	d := pagetest.New("about:blank")
	d.ReadyAfter(3)
	s, clock := newSync(d)

	if err := s.NavigateAndWaitReady(context.Background(), page.LoginPath); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if got := d.URL(); got != base+page.LoginPath {
		t.Fatalf("url = %q", got)
	}
	if n := len(clock.Sleeps()); n != 3 {
		t.Fatalf("expected 3 polls before ready, slept %d times", n)
	}
}

func TestSynchronizer_WaitReadyTimesOut(t *testing.T) {
	t.Parallel()

	d := pagetest.New(base + page.HomePath)
	d.SetReady(false)
	s, _ := newSync(d)

	err := s.WaitReady(context.Background())
	if !errs.Is(err, errs.Timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestSynchronizer_FindWhenPresent(t *testing.T) {
	t.Parallel()

	d := pagetest.New(base + page.LoginPath)
	s, _ := newSync(d)

	if _, err := s.FindWhenPresent(context.Background(), "#username", 300*time.Millisecond); !errs.Is(err, errs.Timeout) {
		t.Fatalf("expected timeout for missing element, got %v", err)
	}

	d.SetPresent("#username", 1)
	el, err := s.FindWhenPresent(context.Background(), "#username", 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := el.Fill("admin"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if d.Filled("#username") != "admin" {
		t.Fatalf("fill not recorded")
	}
}

func TestSynchronizer_WaitForAbsent(t *testing.T) {
	t.Parallel()

	d := pagetest.New(base + page.HomePath)
	d.SetPresent(".spinner", 1)
	s, _ := newSync(d)

	polls := 0
	err := s.WaitUntil(context.Background(), "spinner gone", 0, func(drv page.Driver) (bool, error) {
		polls++
		if polls == 4 {
			d.SetPresent(".spinner", 0)
		}
		n, err := drv.Count(".spinner")
		return n == 0, err
	})
	if err != nil || polls != 4 {
		t.Fatalf("err=%v polls=%d", err, polls)
	}
	if err := s.WaitForAbsent(context.Background(), ".spinner", 0); err != nil {
		t.Fatalf("absent: %v", err)
	}
}

func TestSynchronizer_QueryParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{base + "/coreapps/clinicianfacing/patient.page?patientId=abc-123", "abc-123"},
		{base + "/coreapps/clinicianfacing/patient.page?app=x&patientId=abc-123&tab=y", "abc-123"},
		{base + "/spa/patient#/summary?patientId=def-456", "def-456"},
		{base + "/spa/patient#/visit?app=x&patientId=ghi-789", "ghi-789"},
		{base + "/spa/patient#/visit?patientId=a%20b", "a b"},
		{base + "/spa/patient#patientId=jkl", "jkl"},
		{base + "/coreapps/patient.page?otherpatientId=7", ""},
		{base + "/spa/patient#/visit?otherpatientId=7&xpatientId=8", ""},
		{base + page.HomePath, ""},
	}
	for _, tc := range tests {
		d := pagetest.New(tc.url)
		s, _ := newSync(d)
		if got := s.QueryParam("patientId"); got != tc.want {
			t.Errorf("QueryParam(%s) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestSynchronizer_AssertPage(t *testing.T) {
	t.Parallel()

	d := pagetest.New(base + page.HomePath)
	d.SetPresent(page.LogoutSelector("/openmrs"), 1)
	s, _ := newSync(d)

	if err := s.AssertPage(context.Background(), page.HomePage{Root: s.Root()}); err != nil {
		t.Fatalf("assert home: %v", err)
	}

	err := s.AssertPage(context.Background(), page.LoginPage{Root: s.Root()})
	if !errs.Is(err, errs.Timeout) {
		t.Fatalf("expected timeout asserting wrong page, got %v", err)
	}
	if !strings.Contains(err.Error(), page.HomePath) {
		t.Fatalf("error should name the actual path: %v", err)
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	d := pagetest.New(base + "/coreapps/findpatient/findPatient.page?app=x")
	s, _ := newSync(d)
	p := page.Current(s)
	if p.ExpectedPath() != "/openmrs/coreapps/findpatient/findPatient.page" {
		t.Fatalf("path = %q", p.ExpectedPath())
	}
	if err := s.AssertPage(context.Background(), p); err != nil {
		t.Fatalf("assert current: %v", err)
	}
}
