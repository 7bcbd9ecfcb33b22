// Package config loads pageflow configuration from CLI flags and environment variables,
// validates it, and fills in defaults.
//
// Flags select what a single invocation does (driver, headed mode, upload on or off).
// Environment variables carry credentials and per-environment settings.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/pageflow/internal/ratelimit"
)

const (
	defaultRegion = "auto"

	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
	DriverHTML       = "html"
)

// DefaultNavTimeout bounds page loads, screenshots and other driver calls that
// run without a caller deadline.
const DefaultNavTimeout = 5 * time.Second

// Drivers lists the accepted PAGEFLOW_DRIVER values.
var Drivers = []string{DriverPlaywright, DriverChromedp, DriverRod, DriverHTML}

// Config holds all pageflow configuration.
type Config struct {
	// Target application
	BaseURL  string
	Username string
	Password string

	// Browser
	Driver     string
	Browser    string // chromium, firefox or webkit; playwright only
	Headless   bool
	NoSandbox  bool
	BrowserBin string // rod and chromedp; empty searches PATH
	CDPURL     string // attach chromedp to a running browser instead of launching one
	// NavTimeout bounds navigation, screenshots and driver calls made without a deadline.
	NavTimeout time.Duration

	// Resolver
	CandidateTimeout time.Duration
	KeyDelay         time.Duration
	PhonePrefix      string
	Pacing           ratelimit.Config

	// Artifacts
	ArtifactsDir string
	Trace        bool
	Video        bool

	// Selector history (SQLCipher when HistoryKey is set)
	HistoryDB  string
	HistoryKey string // 64 hex characters (32 bytes)

	// Report upload (uses the AWS_ env vars also set by `fly storage create`)
	NoUpload           bool
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL

	// MCP endpoint
	MCPAddr  string
	MCPToken string

	LogLevel  string
	LogFormat string // json or text

	// parseErrors collects malformed values found while loading.
	parseErrors []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags are the per-invocation overrides shared by every subcommand.
type Flags struct {
	Driver       string
	BaseURL      string
	ArtifactsDir string
	Addr         string
	Headed       bool
	NoUpload     bool
}

// RegisterFlags registers the shared flags on fs. Parse fs before LoadConfig.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Driver, "driver", "", "Browser driver: playwright, chromedp, rod or html (overrides PAGEFLOW_DRIVER)")
	fs.StringVar(&f.BaseURL, "base-url", "", "Target application URL (overrides PAGEFLOW_BASE_URL)")
	fs.StringVar(&f.ArtifactsDir, "artifacts", "", "Directory for screenshots, traces and reports (overrides PAGEFLOW_ARTIFACTS_DIR)")
	fs.StringVar(&f.Addr, "addr", "", "Listen address for demo and mcp (overrides PAGEFLOW_MCP_ADDR)")
	fs.BoolVar(&f.Headed, "headed", false, "Show the browser window")
	fs.BoolVar(&f.NoUpload, "no-upload", false, "Keep reports local even when BUCKET_NAME is set")
	return f
}

// LoadConfig loads configuration from environment variables and flag values.
func LoadConfig(f Flags) (*Config, error) {
	return load(f, os.Getenv)
}

func load(f Flags, getenv func(string) string) (*Config, error) {
	env := &envReader{getenv: getenv}
	cfg := &Config{}

	cfg.BaseURL = strings.TrimRight(env.str("PAGEFLOW_BASE_URL", ""), "/")
	cfg.Username = env.str("PAGEFLOW_USERNAME", "")
	cfg.Password = getenv("PAGEFLOW_PASSWORD")

	cfg.Driver = strings.ToLower(env.str("PAGEFLOW_DRIVER", DriverPlaywright))
	cfg.Browser = strings.ToLower(env.str("PAGEFLOW_BROWSER", "chromium"))
	cfg.Headless = env.boolean("PAGEFLOW_HEADLESS", true)
	cfg.NoSandbox = env.boolean("PAGEFLOW_NO_SANDBOX", false)
	cfg.BrowserBin = env.str("PAGEFLOW_BROWSER_BIN", "")
	cfg.CDPURL = env.str("PAGEFLOW_CDP_URL", "")

	cfg.CandidateTimeout = env.duration("PAGEFLOW_CANDIDATE_TIMEOUT", 1500*time.Millisecond)
	cfg.KeyDelay = env.duration("PAGEFLOW_KEY_DELAY", 50*time.Millisecond)
	cfg.NavTimeout = env.duration("PAGEFLOW_NAV_TIMEOUT", DefaultNavTimeout)
	cfg.PhonePrefix = env.str("PAGEFLOW_PHONE_PREFIX", "")
	cfg.Pacing = ratelimit.Config{
		ActionsPerSecond: env.float("PAGEFLOW_ACTIONS_PER_SECOND", 0),
		Burst:            env.integer("PAGEFLOW_ACTION_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval:  ratelimit.DefaultConfig.CleanupInterval,
	}

	cfg.ArtifactsDir = env.str("PAGEFLOW_ARTIFACTS_DIR", "artifacts")
	cfg.Trace = env.boolean("PAGEFLOW_TRACE", false)
	cfg.Video = env.boolean("PAGEFLOW_VIDEO", false)

	cfg.HistoryDB = env.str("PAGEFLOW_HISTORY_DB", "")
	cfg.HistoryKey = env.str("PAGEFLOW_HISTORY_KEY", "")

	cfg.AWSEndpointS3 = env.str("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = env.str("AWS_REGION", defaultRegion)
	cfg.AWSAccessKeyID = env.str("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = env.str("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = env.str("BUCKET_NAME", "")
	cfg.AWSPublicURL = env.str("S3_PUBLIC_URL", "")
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	cfg.MCPAddr = env.str("PAGEFLOW_MCP_ADDR", ":8091")
	cfg.MCPToken = env.str("PAGEFLOW_MCP_TOKEN", "")
	cfg.LogLevel = env.str("PAGEFLOW_LOG_LEVEL", "info")
	cfg.LogFormat = strings.ToLower(env.str("PAGEFLOW_LOG_FORMAT", "json"))

	// Flag overrides
	if f.Driver != "" {
		cfg.Driver = strings.ToLower(f.Driver)
	}
	if f.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(f.BaseURL, "/")
	}
	if f.ArtifactsDir != "" {
		cfg.ArtifactsDir = f.ArtifactsDir
	}
	if f.Addr != "" {
		cfg.MCPAddr = f.Addr
	}
	if f.Headed {
		cfg.Headless = false
	}
	cfg.NoUpload = f.NoUpload

	cfg.parseErrors = env.problems
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	errs := append([]string(nil), c.parseErrors...)

	if !isDriver(c.Driver) {
		errs = append(errs, fmt.Sprintf("PAGEFLOW_DRIVER must be one of %s, got %q", strings.Join(Drivers, ", "), c.Driver))
	}
	switch c.Browser {
	case "chromium", "chrome", "firefox", "webkit":
	default:
		errs = append(errs, fmt.Sprintf("PAGEFLOW_BROWSER must be chromium, firefox or webkit, got %q", c.Browser))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("PAGEFLOW_LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("PAGEFLOW_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL))
		}
	}
	if c.CDPURL != "" && c.Driver != DriverChromedp {
		errs = append(errs, "PAGEFLOW_CDP_URL is only used by the chromedp driver")
	}

	if c.CandidateTimeout <= 0 {
		errs = append(errs, "PAGEFLOW_CANDIDATE_TIMEOUT must be positive")
	}
	if c.NavTimeout <= 0 {
		errs = append(errs, "PAGEFLOW_NAV_TIMEOUT must be positive")
	}
	if c.KeyDelay < 0 {
		errs = append(errs, "PAGEFLOW_KEY_DELAY must not be negative")
	}
	if c.Pacing.ActionsPerSecond < 0 {
		errs = append(errs, "PAGEFLOW_ACTIONS_PER_SECOND must not be negative (0 disables pacing)")
	}
	if c.Pacing.Burst <= 0 {
		errs = append(errs, "PAGEFLOW_ACTION_BURST must be positive")
	}

	if (c.Trace || c.Video) && c.Driver != DriverPlaywright {
		errs = append(errs, "PAGEFLOW_TRACE and PAGEFLOW_VIDEO need the playwright driver")
	}
	if c.ArtifactsDir == "" {
		errs = append(errs, "PAGEFLOW_ARTIFACTS_DIR must not be empty")
	}

	if c.HistoryKey != "" {
		if c.HistoryDB == "" {
			errs = append(errs, "PAGEFLOW_HISTORY_KEY is set but PAGEFLOW_HISTORY_DB is not")
		}
		if b, err := hex.DecodeString(c.HistoryKey); err != nil || len(b) != 32 {
			errs = append(errs, "PAGEFLOW_HISTORY_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	if c.UploadEnabled() {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BUCKET_NAME is set (or use --no-upload)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BUCKET_NAME is set (or use --no-upload)")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// UploadEnabled reports whether reports should be uploaded to S3.
func (c *Config) UploadEnabled() bool {
	return c.AWSBucketName != "" && !c.NoUpload
}

// HistoryKeyBytes decodes HistoryKey. It returns nil for an unencrypted store.
func (c *Config) HistoryKeyBytes() []byte {
	if c.HistoryKey == "" {
		return nil
	}
	b, _ := hex.DecodeString(c.HistoryKey)
	return b
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary(command string) {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "pageflow %s\n", command)
	fmt.Fprintf(os.Stderr, "  Driver:   %s (headless=%t)\n", c.Driver, c.Headless)
	if c.BaseURL != "" {
		fmt.Fprintf(os.Stderr, "  Target:   %s\n", c.BaseURL)
	}
	fmt.Fprintf(os.Stderr, "  Timeout:  %s per candidate, %s navigation\n", c.CandidateTimeout, c.NavTimeout)
	if c.Pacing.ActionsPerSecond > 0 {
		fmt.Fprintf(os.Stderr, "  Pacing:   %.1f actions/s (burst %d)\n", c.Pacing.ActionsPerSecond, c.Pacing.Burst)
	}
	fmt.Fprintf(os.Stderr, "  Output:   %s\n", c.ArtifactsDir)
	switch {
	case c.HistoryDB != "" && c.HistoryKey != "":
		fmt.Fprintf(os.Stderr, "  History:  %s (encrypted)\n", c.HistoryDB)
	case c.HistoryDB != "":
		fmt.Fprintf(os.Stderr, "  History:  %s\n", c.HistoryDB)
	}
	if c.UploadEnabled() {
		fmt.Fprintf(os.Stderr, "  Upload:   s3://%s\n", c.AWSBucketName)
	}
	fmt.Fprintln(os.Stderr, "")
}

func isDriver(name string) bool {
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}

// envReader reads typed environment values, recording malformed ones instead of
// silently falling back.
type envReader struct {
	getenv   func(string) string
	problems []string
}

func (e *envReader) str(key, defaultValue string) string {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (e *envReader) integer(key string, defaultValue int) int {
	value := e.str(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (e *envReader) float(key string, defaultValue float64) float64 {
	value := e.str(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	value := e.str(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s must be true or false, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// duration accepts Go durations ("750ms") or a bare number of milliseconds.
func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := e.str(key, "")
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s must be a duration such as 750ms, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig(f Flags) *Config {
	cfg, err := LoadConfig(f)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
