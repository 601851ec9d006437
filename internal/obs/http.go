package obs

import (
	"net/http"
	"strconv"
	"time"
)

// Transport emits one structured event per outbound request and counts it
// in APIRequests.
type Transport struct {
	Pkg  string
	Base http.RoundTripper
}

// NewTransport wraps base, defaulting to http.DefaultTransport.
func NewTransport(pkg string, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Pkg: pkg, Base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	durMS := float64(time.Since(start).Microseconds()) / 1000.0

	status := "error"
	code := 0
	if resp != nil {
		code = resp.StatusCode
		status = statusClass(code)
	}
	APIRequests.WithLabelValues(req.Method, status).Inc()

	l := From(req.Context()).With("pkg", t.Pkg)
	if err != nil {
		l.Warn("http_client",
			"method", req.Method,
			"path", req.URL.Path,
			"dur_ms", durMS,
			"error", err.Error(),
		)
		return resp, err
	}
	l.Debug("http_client",
		"method", req.Method,
		"path", req.URL.Path,
		"status", code,
		"dur_ms", durMS,
	)
	return resp, nil
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
