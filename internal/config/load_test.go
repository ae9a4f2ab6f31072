package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cardql.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(newFlagSet(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "cards", cfg.Database.Database)
	assert.Equal(t, 10, cfg.Database.Pool.MaxOpen)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, 100, cfg.Query.DefaultLimit)
	assert.Equal(t, 1000, cfg.Query.MaxLimit)
	assert.Equal(t, "english", cfg.Query.TextSearchConfig)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "grpc", cfg.Observability.OTLP.Protocol)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfigFile(t, `
database:
  host: filehost
  port: 6000
  statement_timeout: 15s
query:
  default_limit: 25
  text_search_config: simple
observability:
  logging:
    level: debug
`)
	t.Setenv("CARDQL_DATABASE_PORT", "7000")
	t.Setenv("CARDQL_QUERY_DEFAULT_LIMIT", "50")

	fs := newFlagSet(t, "--config", path, "--query.default_limit", "75", "--database.role", "reader")
	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "filehost", cfg.Database.Host, "file beats defaults")
	assert.Equal(t, 7000, cfg.Database.Port, "env beats file")
	assert.Equal(t, 75, cfg.Query.DefaultLimit, "flags beat env")
	assert.Equal(t, "reader", cfg.Database.Role)
	assert.Equal(t, 15*time.Second, cfg.Database.StatementTimeout)
	assert.Equal(t, "simple", cfg.Query.TextSearchConfig)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_UnchangedFlagsDoNotOverride(t *testing.T) {
	path := writeConfigFile(t, "query:\n  max_limit: 42\n")
	cfg, err := Load(newFlagSet(t, "-c", path))
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Query.MaxLimit)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")
	_, err := Load(newFlagSet(t, "--config", path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_SecretsFromFiles(t *testing.T) {
	dir := t.TempDir()
	pwdPath := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(pwdPath, []byte("s3cret\n"), 0o600))
	dsnPath := filepath.Join(dir, "dsn")
	require.NoError(t, os.WriteFile(dsnPath, []byte("postgres://u@db/cards\n"), 0o600))

	cfg, err := Load(newFlagSet(t, "--database.password_file", pwdPath))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)

	cfg, err = Load(newFlagSet(t, "--database.dsn_file", dsnPath))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@db/cards", cfg.Database.ConnectionString)

	_, err = Load(newFlagSet(t, "--database.password_file", filepath.Join(dir, "nope")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read database password file")
}

func TestLoad_PasswordFromStdin(t *testing.T) {
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("  piped \n")

	cfg, err := Load(newFlagSet(t, "--database.password_file", "@-"))
	require.NoError(t, err)
	assert.Equal(t, "piped", cfg.Database.Password)
}

func TestLoad_PasswordPrompt(t *testing.T) {
	orig := promptPassword
	t.Cleanup(func() { promptPassword = orig })

	calls := 0
	promptPassword = func() (string, error) {
		calls++
		return "typed", nil
	}
	cfg, err := Load(newFlagSet(t, "--database.password_prompt"))
	require.NoError(t, err)
	assert.Equal(t, "typed", cfg.Database.Password)
	assert.Equal(t, 1, calls)

	_, err = Load(newFlagSet(t, "--database.password_prompt", "--database.password", "given"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "explicit password skips the prompt")

	promptPassword = func() (string, error) { return "", errors.New("no tty") }
	_, err = Load(newFlagSet(t, "--database.password_prompt"))
	require.ErrorContains(t, err, "failed to read password: no tty")
}

func TestLoad_NilFlagSet(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CARDQL_DATABASE_HOST", "envhost")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "envhost", cfg.Database.Host)
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	v := viper.New()
	v.Set("database.dsn_file", "@-")
	v.Set("database.password_file", "/tmp/password")
	require.NoError(t, validateSingleStdinFileSource(v))

	v.Set("database.password_file", " @- ")
	err := validateSingleStdinFileSource(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
}

func TestStringToStringMapHook(t *testing.T) {
	var out struct {
		Headers map[string]string `mapstructure:"headers"`
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringToStringMapHookFunc(",", "="),
		Result:     &out,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(map[string]any{"headers": "x-team=cards, x-env = dev"}))
	assert.Equal(t, map[string]string{"x-team": "cards", "x-env": "dev"}, out.Headers)

	require.Error(t, decoder.Decode(map[string]any{"headers": "novalue"}))
}
