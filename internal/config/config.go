// Package config loads the test-run properties for the fixture lifecycle
// manager from environment variables, validates required fields, and
// provides defaults matching a local reference-application install.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// SubmitMode selects how the login form is submitted.
type SubmitMode string

const (
	// SubmitForm types into the login form and clicks the login button.
	SubmitForm SubmitMode = "form"
	// SubmitPost posts the login fields programmatically from the page.
	SubmitPost SubmitMode = "post"
)

const (
	defaultWebAppURL      = "http://localhost:8080/openmrs"
	defaultWaitTimeout    = 20 * time.Second
	defaultPollInterval   = 200 * time.Millisecond
	defaultDeleteTimeout  = 30 * time.Second
	defaultAPITimeout     = 30 * time.Second
	defaultArtifactRegion = "us-east-1"
)

// Config holds all test-run configuration.
type Config struct {
	// Application under test
	WebAppURL string // e.g. http://localhost:8080/openmrs
	URLRoot   string // path component of WebAppURL, e.g. /openmrs

	// Admin credential used for login and for HTTP Basic on the REST API
	Username        string
	Password        string
	DefaultLocation int
	SubmitMode      SubmitMode

	// Backing store used for cleanup and the provider-role patch
	DBDriver        string // mysql, pgx, or sqlite3_uifixture
	DBDSN           string
	CleanupLockPath string // optional cross-process lock file for batched flushes

	// Browser sessions
	Browser           string // chromium, firefox, webkit
	Headless          bool
	BrowserWSEndpoint string // connect to a remote browser instead of launching one

	// Timeouts
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	DeletionTimeout time.Duration
	APITimeout      time.Duration
	APIRateLimit    float64 // requests per second, 0 = unlimited

	// Failure artifacts (S3); disabled when ArtifactBucket is empty
	ArtifactBucket     string
	AWSEndpointS3      string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Metrics export at suite end; disabled when empty
	PushgatewayURL string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.WebAppURL = strings.TrimRight(getEnvOrDefault("WEBAPP_URL", defaultWebAppURL), "/")
	if u, err := url.Parse(cfg.WebAppURL); err == nil {
		cfg.URLRoot = strings.TrimRight(u.Path, "/")
	}

	cfg.Username = getEnvOrDefault("LOGIN_USERNAME", "admin")
	cfg.Password = getEnvOrDefault("LOGIN_PASSWORD", "Admin123")
	cfg.DefaultLocation = parseIntOrDefault("LOGIN_LOCATION", 1)
	cfg.SubmitMode = SubmitMode(strings.ToLower(getEnvOrDefault("LOGIN_SUBMIT_MODE", string(SubmitPost))))

	cfg.DBDriver = getEnvOrDefault("DB_DRIVER", "mysql")
	cfg.DBDSN = strings.TrimSpace(os.Getenv("DB_DSN"))
	cfg.CleanupLockPath = strings.TrimSpace(os.Getenv("CLEANUP_LOCK_PATH"))

	cfg.Browser = strings.ToLower(getEnvOrDefault("BROWSER", "chromium"))
	cfg.Headless = os.Getenv("HEADLESS") != "false"
	cfg.BrowserWSEndpoint = strings.TrimSpace(os.Getenv("BROWSER_WS_ENDPOINT"))

	cfg.WaitTimeout = parseDurationOrDefault("WAIT_TIMEOUT", defaultWaitTimeout)
	cfg.PollInterval = parseDurationOrDefault("POLL_INTERVAL", defaultPollInterval)
	cfg.DeletionTimeout = parseDurationOrDefault("DELETION_TIMEOUT", defaultDeleteTimeout)
	cfg.APITimeout = parseDurationOrDefault("API_TIMEOUT", defaultAPITimeout)
	cfg.APIRateLimit = parseFloat64OrDefault("API_RATE_LIMIT", 0)

	cfg.ArtifactBucket = strings.TrimSpace(os.Getenv("ARTIFACT_BUCKET"))
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultArtifactRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))

	cfg.PushgatewayURL = strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.WebAppURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "WEBAPP_URL must be an absolute URL (e.g. http://localhost:8080/openmrs)")
	}
	if c.Username == "" || c.Password == "" {
		errs = append(errs, "LOGIN_USERNAME and LOGIN_PASSWORD are required")
	}
	if c.DefaultLocation <= 0 {
		errs = append(errs, "LOGIN_LOCATION must be a positive location id")
	}
	if c.SubmitMode != SubmitForm && c.SubmitMode != SubmitPost {
		errs = append(errs, fmt.Sprintf("LOGIN_SUBMIT_MODE must be %q or %q", SubmitForm, SubmitPost))
	}

	if c.DBDSN == "" {
		errs = append(errs, "DB_DSN is required (cleanup deletes rows the API cannot reach)")
	}
	switch c.DBDriver {
	case "mysql", "pgx", "sqlite3_uifixture":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER %q is not supported (mysql, pgx, sqlite3_uifixture)", c.DBDriver))
	}

	switch c.Browser {
	case "chromium", "firefox", "webkit":
	default:
		errs = append(errs, fmt.Sprintf("BROWSER %q is not supported (chromium, firefox, webkit)", c.Browser))
	}

	// Every wait must be bounded.
	if c.WaitTimeout <= 0 {
		errs = append(errs, "WAIT_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 || c.PollInterval >= time.Second {
		errs = append(errs, "POLL_INTERVAL must be positive and below one second")
	}
	if c.DeletionTimeout <= 0 {
		errs = append(errs, "DELETION_TIMEOUT must be positive")
	}
	if c.APITimeout <= 0 {
		errs = append(errs, "API_TIMEOUT must be positive")
	}
	if c.APIRateLimit < 0 {
		errs = append(errs, "API_RATE_LIMIT must not be negative")
	}

	if c.ArtifactBucket != "" && (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "PUSHGATEWAY_URL must be an absolute URL (e.g. http://localhost:9091)")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ArtifactsEnabled reports whether failed tests upload screenshots and page HTML.
func (c *Config) ArtifactsEnabled() bool {
	return c.ArtifactBucket != ""
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
// Use this from TestMain to fail fast on a misconfigured run.
func MustLoadConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
