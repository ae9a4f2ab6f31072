package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DSN returns a PostgreSQL connection string for the pgx driver.
// If ConnectionString is set, it is used directly.
// Otherwise, builds a postgres:// URL from discrete fields.
func (d *DatabaseConfig) DSN() string {
	if strings.TrimSpace(d.ConnectionString) != "" {
		return strings.TrimSpace(d.ConnectionString)
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

// EffectiveDatabaseName returns the database the connection string targets.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	parsed, err := pgx.ParseConfig(d.DSN())
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return parsed.Database, nil
}
