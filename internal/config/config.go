// Package config provides configuration types for Fathom.
//
// The root struct is a single YAML-backed struct with viper env overrides
// and validator struct tags, loaded once at startup and passed down
// through constructors.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for a fathom scan.
type Config struct {
	// Scan configures the orchestrator's Options for this run.
	Scan ScanConfig `yaml:"scan" mapstructure:"scan" validate:"required"`

	// HTTPEngine configures the outbound HTTP harvesting engine.
	HTTPEngine HTTPEngineConfig `yaml:"http_engine" mapstructure:"http_engine"`

	// Modules configures which security-check modules run this scan.
	Modules ModulesConfig `yaml:"modules" mapstructure:"modules"`

	// Plugins configures which background plugins run this scan.
	Plugins PluginsConfig `yaml:"plugins" mapstructure:"plugins"`

	// Observability configures tracing/metrics exporters.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// Store configures where the audit-store snapshot is persisted.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "warning", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// DevMode enables development features (verbose logging, permissive defaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ScanConfig is the file-based source of internal/domain/options.Options,
// with validator tags. The two structs do not match field-for-field: some
// fields here (Target, Concurrency, BasicAuth) have no Options counterpart.
type ScanConfig struct {
	// Target is the seed URL the scan starts from.
	Target string `yaml:"target" mapstructure:"target" validate:"required,url"`

	// RestrictPaths, when non-empty, is the explicit seed list: each entry
	// is joined onto Target and queued as-is, and the spider is not started.
	RestrictPaths []string `yaml:"restrict_paths" mapstructure:"restrict_paths"`

	// AuditLinks/Forms/Cookies/Headers toggle which element kinds modules
	// are dispatched against.
	AuditLinks   bool `yaml:"audit_links" mapstructure:"audit_links"`
	AuditForms   bool `yaml:"audit_forms" mapstructure:"audit_forms"`
	AuditCookies bool `yaml:"audit_cookies" mapstructure:"audit_cookies"`
	AuditHeaders bool `yaml:"audit_headers" mapstructure:"audit_headers"`

	// HTTPHarvestLast defers draining the HTTP engine until the URL queue
	// has been fully populated, instead of harvesting eagerly per page.
	HTTPHarvestLast bool `yaml:"http_harvest_last" mapstructure:"http_harvest_last"`

	// Concurrency is validated but not read when a scan is built; the cap on
	// in-flight HTTP requests comes from HTTPEngineConfig.ConcurrencyCap.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"omitempty,min=1"`

	// CookieJar is a path to a cookie jar file. The scan fails to start if
	// the file does not exist; its contents are not read.
	CookieJar string `yaml:"cookie_jar" mapstructure:"cookie_jar"`

	// CookieString is a raw "k=v; k2=v2" cookie header, parsed into the
	// scan's cookie list. It is not merged with CookieJar, which is not read.
	CookieString string `yaml:"cookie_string" mapstructure:"cookie_string"`

	// UserAgent overrides the default "fathom/<version>" user agent.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// AuthedBy names the authorizing party, appended to the user agent.
	AuthedBy string `yaml:"authed_by" mapstructure:"authed_by"`

	// Redundant defines redundancy-suppression rules evaluated per candidate
	// URL/page before dispatching modules.
	Redundant []RedundancyRuleConfig `yaml:"redundant" mapstructure:"redundant" validate:"omitempty,dive"`

	// LsMod/LsRep/LsPlug are the default filter patterns for the
	// corresponding listing operations.
	LsMod  []string `yaml:"lsmod" mapstructure:"lsmod"`
	LsRep  []string `yaml:"lsrep" mapstructure:"lsrep"`
	LsPlug []string `yaml:"lsplug" mapstructure:"lsplug"`

	// BasicAuth optionally authenticates the scanner itself against the
	// target application via HTTP Basic Auth.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth" mapstructure:"basic_auth" validate:"omitempty"`
}

// RedundancyRuleConfig is the file-based form of options.RedundancyRule.
type RedundancyRuleConfig struct {
	// Pattern is a regexp, or a CEL boolean expression prefixed with "cel:".
	Pattern string `yaml:"pattern" mapstructure:"pattern" validate:"required,redundancy_pattern"`
	// Count is the per-rule match budget before matches are treated as redundant.
	Count int `yaml:"count" mapstructure:"count" validate:"omitempty,min=1"`
}

// BasicAuthConfig configures a stored HTTP Basic Auth credential for the target.
type BasicAuthConfig struct {
	Username     string `yaml:"username" mapstructure:"username" validate:"required"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash" validate:"required"`
	Realm        string `yaml:"realm" mapstructure:"realm"`
}

// HTTPEngineConfig configures the outbound HTTP harvesting engine.
type HTTPEngineConfig struct {
	// ConcurrencyCap is the maximum number of in-flight requests.
	// Defaults to 10 if not specified.
	ConcurrencyCap int `yaml:"concurrency_cap" mapstructure:"concurrency_cap" validate:"omitempty,min=1"`

	// RequestTimeout is accepted (e.g., "10s") but not read; the engine's
	// HTTP client uses a fixed 10-second timeout.
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty"`

	// RetryBudget is accepted but not read; the engine does not retry
	// failed requests.
	RetryBudget int `yaml:"retry_budget" mapstructure:"retry_budget" validate:"omitempty,min=0"`

	// RateLimitPerHost is the politeness throttle's requests-per-second
	// budget applied per target host.
	RateLimitPerHost int `yaml:"rate_limit_per_host" mapstructure:"rate_limit_per_host" validate:"omitempty,min=1"`
}

// ModulesConfig enumerates which security-check modules run this scan.
// Module IDs reference the explicit in-process registry, not filesystem
// discovery.
type ModulesConfig struct {
	// Enabled lists the module IDs to register for this scan.
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`

	// Settings is a per-module arbitrary settings map, keyed by module ID.
	Settings map[string]map[string]any `yaml:"settings" mapstructure:"settings"`
}

// PluginsConfig enumerates which background plugins run this scan.
type PluginsConfig struct {
	// Enabled lists the plugin IDs to register for this scan.
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`
}

// ObservabilityConfig configures tracing/metrics exporters.
type ObservabilityConfig struct {
	// TracingEnabled turns on the stdout otel trace exporter.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`

	// MetricsEnabled turns on the stdout otel metric exporter.
	MetricsEnabled bool `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`

	// PrometheusAddr is the listen address for the Prometheus scrape
	// endpoint (e.g., "127.0.0.1:9090"). Empty disables it.
	PrometheusAddr string `yaml:"prometheus_addr" mapstructure:"prometheus_addr" validate:"omitempty,hostname_port"`
}

// StoreConfig configures the audit-store persistence adapter.
type StoreConfig struct {
	// SQLitePath is the path to the sqlite database file used to persist
	// audit-store snapshots. Defaults to "fathom.db" if empty.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SetDevDefaults applies permissive defaults for development mode. Applied
// before validation so required fields are satisfied when DevMode is set.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Scan.Target == "" {
		c.Scan.Target = "http://localhost:8000/"
	}
	if len(c.Modules.Enabled) == 0 {
		c.Modules.Enabled = []string{"all"}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = 10
	}
	if c.Scan.UserAgent == "" {
		c.Scan.UserAgent = "fathom/1.0"
	}
	// Audit all element kinds by default unless the file explicitly turned
	// some off (viper.IsSet distinguishes "not set" from "explicitly false").
	if !viper.IsSet("scan.audit_links") {
		c.Scan.AuditLinks = true
	}
	if !viper.IsSet("scan.audit_forms") {
		c.Scan.AuditForms = true
	}
	if !viper.IsSet("scan.audit_cookies") {
		c.Scan.AuditCookies = true
	}
	if !viper.IsSet("scan.audit_headers") {
		c.Scan.AuditHeaders = true
	}

	if c.HTTPEngine.ConcurrencyCap == 0 {
		c.HTTPEngine.ConcurrencyCap = 10
	}
	if c.HTTPEngine.RequestTimeout == "" {
		c.HTTPEngine.RequestTimeout = "10s"
	}
	if c.HTTPEngine.RateLimitPerHost == 0 {
		c.HTTPEngine.RateLimitPerHost = 5
	}

	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "fathom.db"
	}
}
