// Package apiclient talks to the application's REST API with the test run's
// admin credential. Failed calls come back as an absent Document plus a coded
// error; callers decide whether absence is fatal.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/logutil"
	"github.com/kuitang/uifixture/internal/obs"
)

const (
	restRoot       = "/ws/rest/v1/"
	idgenPath      = "/module/idgen/generateIdentifier.form"
	maxBodyBytes   = 10 << 20
	maxLoggedChars = 2000
)

// Document is a parsed JSON response. An absent document has Exists() == false.
type Document = gjson.Result

// Config configures a Client.
type Config struct {
	// WebAppURL is the application root, e.g. http://localhost:8080/openmrs.
	WebAppURL string
	Username  string
	Password  string
	Timeout   time.Duration
	// RateLimit caps requests per second; zero disables throttling.
	RateLimit float64
	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper
}

// ConfigFrom builds a client config from the test-run configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		WebAppURL: cfg.WebAppURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.APIRateLimit,
	}
}

// Client issues authenticated REST calls.
type Client struct {
	webapp   string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
}

// New returns a client for cfg.
func New(cfg Config) *Client {
	c := &Client{
		webapp:   strings.TrimRight(cfg.WebAppURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: obs.NewTransport("apiclient", cfg.Transport),
		},
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Username returns the credential the client authenticates with.
func (c *Client) Username() string { return c.username }

// Get fetches a resource with the full representation. path is relative to
// the REST root and may carry its own query, e.g. "role?q=Nurse".
func (c *Client) Get(ctx context.Context, path string) (Document, error) {
	u, err := c.restURL(path, url.Values{"v": {"full"}})
	if err != nil {
		return Document{}, err
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

// Post creates a resource from payload and returns the created representation.
func (c *Client) Post(ctx context.Context, path string, payload any) (Document, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Document{}, errs.Wrap(errs.InvalidArgument, "encode payload for "+path, err)
	}
	u, err := c.restURL(path, nil)
	if err != nil {
		return Document{}, err
	}
	return c.do(ctx, http.MethodPost, u, body)
}

// Delete voids or retires a resource.
func (c *Client) Delete(ctx context.Context, path string) error {
	u, err := c.restURL(path, nil)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, u, nil)
	return err
}

// Purge removes a resource permanently.
func (c *Client) Purge(ctx context.Context, path string) error {
	u, err := c.restURL(path, url.Values{"purge": {"true"}})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, u, nil)
	return err
}

// GenerateIdentifier asks the idgen module for one identifier from source.
// The main REST API does not allocate patient identifiers itself.
func (c *Client) GenerateIdentifier(ctx context.Context, source string) (string, error) {
	q := url.Values{
		"source":   {source},
		"username": {c.username},
		"password": {c.password},
	}
	doc, err := c.do(ctx, http.MethodGet, c.webapp+idgenPath+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	id := doc.Get("identifiers.0")
	if !id.Exists() || id.String() == "" {
		return "", errs.New(errs.API, "idgen returned no identifiers for source "+source)
	}
	return id.String(), nil
}

func (c *Client) restURL(path string, extra url.Values) (string, error) {
	rel, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "parse path "+path, err)
	}
	q := rel.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u := c.webapp + restRoot + rel.Path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (Document, error) {
	logger := obs.From(ctx).With("pkg", "apiclient")
	logTarget := logutil.RedactURLForLog(target)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Document{}, errs.Wrap(errs.API, method+" "+logTarget+": rate limit wait", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Document{}, errs.Wrap(errs.InvalidArgument, "build request", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error("api request failed",
			"method", method,
			"url", logTarget,
			"payload", logutil.RedactJSONForLog(body),
			"error", err.Error(),
		)
		return Document{}, errs.Wrap(errs.API, method+" "+logTarget, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	durMS := float64(time.Since(start).Microseconds()) / 1000.0
	logger.Info("api call",
		"method", method,
		"url", logTarget,
		"payload", logutil.RedactJSONForLog(body),
		"status", resp.StatusCode,
		"response", logutil.TruncateForLog(logutil.RedactJSONForLog(raw), maxLoggedChars),
		"dur_ms", durMS,
	)
	if err != nil {
		return Document{}, errs.Wrap(errs.API, "read response of "+method+" "+logTarget, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Document{}, errs.New(errs.NotFound, method+" "+logTarget+": not found")
	case resp.StatusCode >= 400:
		return Document{}, errs.New(errs.API, fmt.Sprintf("%s %s: status %d: %s",
			method, logTarget, resp.StatusCode, logutil.TruncateForLog(string(raw), 200)))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return Document{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return Document{}, errs.New(errs.API, method+" "+logTarget+": malformed JSON response")
	}
	return gjson.ParseBytes(raw), nil
}
