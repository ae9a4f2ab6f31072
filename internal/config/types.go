package config

import "time"

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Query         QueryConfig         `mapstructure:"query"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a libpq-style URL or keyword/value DSN understood by pgx.
	// When set, overrides Host/Port/User/Password/Database/SSLMode.
	// Configured via "dsn" in YAML or CARDQL_DATABASE_DSN env var.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	// Discrete connection fields (used when DSN is not set)
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`
	// SSLMode is passed through as the libpq sslmode parameter.
	SSLMode string `mapstructure:"sslmode"`

	// Role, when set, is applied with SET ROLE on the connection running each query.
	Role string `mapstructure:"role"`
	// StatementTimeout bounds each query on the server side. Zero leaves the server default.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// QueryConfig holds card query defaults and guardrails.
type QueryConfig struct {
	// DefaultLimit is applied when a query does not set a limit. Zero means unbounded.
	DefaultLimit int `mapstructure:"default_limit"`
	// MaxLimit caps any requested limit. Zero disables the cap.
	MaxLimit         int    `mapstructure:"max_limit"`
	TextSearchConfig string `mapstructure:"text_search_config"`
	MaxLinks         int    `mapstructure:"max_links"`
	MaxLinkDepth     int    `mapstructure:"max_link_depth"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string  `mapstructure:"service_name"`
	ServiceVersion      string  `mapstructure:"service_version"`
	Environment         string  `mapstructure:"environment"`
	MetricsEnabled      bool    `mapstructure:"metrics_enabled"`
	MetricsFile         string  `mapstructure:"metrics_file"` // Prometheus text file written on exit
	TracingEnabled      bool    `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64 `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool    `mapstructure:"sqlcommenter_enabled"`

	Logging LoggingConfig `mapstructure:"logging"`
	OTLP    OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter configuration shared by traces and logs.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
}
