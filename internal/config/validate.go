package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"cardql/internal/sqlutil"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Query.validate(result)
	c.Observability.validate(result)
	return result
}

var validSSLModes = map[string]bool{
	"": true, "disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(d.ConnectionString) == "" {
		if d.Port < 1 || d.Port > 65535 {
			result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if strings.TrimSpace(d.Host) == "" {
			result.fail("database.host", "host is required when database.dsn is not set", "")
		}
		if strings.TrimSpace(d.Database) == "" {
			result.fail("database.database", "database name is required when database.dsn is not set", "")
		}
		if !validSSLModes[d.SSLMode] {
			result.fail("database.sslmode", fmt.Sprintf("invalid sslmode %q", d.SSLMode),
				"valid values are: disable, allow, prefer, require, verify-ca, verify-full")
		}
	} else if _, err := d.EffectiveDatabaseName(); err != nil {
		result.fail("database.dsn", err.Error(), "use a postgres:// URL or keyword/value connection string")
	}

	if d.Role != "" && d.Role != strings.TrimSpace(d.Role) {
		result.warn("database.role", "role has surrounding whitespace",
			fmt.Sprintf("it will be applied verbatim as %s", sqlutil.QuoteIdentifier(d.Role)))
	}
	if d.StatementTimeout < 0 {
		result.fail("database.statement_timeout", "statement_timeout cannot be negative", "")
	}

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open",
			"idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.fail("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval <= 0 {
		result.fail("database.connection_retry_interval",
			"connection_retry_interval must be positive when connection_timeout is set", "")
	}
}

func (q *QueryConfig) validate(result *ValidationResult) {
	if q.DefaultLimit < 0 {
		result.fail("query.default_limit", "default_limit cannot be negative", "")
	}
	if q.MaxLimit < 0 {
		result.fail("query.max_limit", "max_limit cannot be negative", "")
	}
	if q.MaxLimit > 0 && q.DefaultLimit > q.MaxLimit {
		result.warn("query.default_limit", "default_limit is greater than max_limit",
			"the default will be capped at max_limit")
	}
	if q.MaxLimit > 0 && q.DefaultLimit == 0 {
		result.warn("query.default_limit", "default_limit is unbounded while max_limit is set",
			"queries without a limit will be capped at max_limit")
	}
	if strings.TrimSpace(q.TextSearchConfig) == "" {
		result.fail("query.text_search_config", "text_search_config cannot be empty", "e.g. english, simple")
	}
	if q.MaxLinks < 0 {
		result.fail("query.max_links", "max_links cannot be negative", "")
	}
	if q.MaxLinkDepth < 0 {
		result.fail("query.max_link_depth", "max_link_depth cannot be negative", "")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", "trace_sample_ratio must be between 0.0 and 1.0", "")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.warn("observability.sqlcommenter_enabled", "sqlcommenter requires tracing",
			"enable observability.tracing_enabled to inject trace context")
	}
	if o.MetricsFile != "" && !o.MetricsEnabled {
		result.warn("observability.metrics_file", "metrics_file is set but metrics are disabled",
			"enable observability.metrics_enabled to write metrics")
	}

	if o.TracingEnabled || o.Logging.ExportsEnabled {
		o.OTLP.validate("observability.otlp", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}

	if !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q", o.Endpoint),
			"use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}

	if (o.TLSClientCertFile == "") != (o.TLSClientKeyFile == "") {
		result.fail(prefix+".tls_client_cert_file", "client certificate and key must be set together", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
