package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "datalign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "policies", filepath.Base(cfg.PoliciesDir))
	assert.Equal(t, "inbox", filepath.Base(cfg.Inbox))
	assert.Equal(t, "state.db", filepath.Base(cfg.StatePath))
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.False(t, cfg.Verbose)
	assert.Nil(t, cfg.Warehouse)
}

func TestLoadConfig_FromFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, `
policies_dir: my-policies
state_path: var/state.db
output: json
warehouse:
  type: postgres
  host: db.internal
  port: 5433
  database: marts
  schema: reconciled
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	// Relative paths resolve against the config file's directory.
	assert.Equal(t, filepath.Join(dir, "my-policies"), cfg.PoliciesDir)
	assert.Equal(t, filepath.Join(dir, "var", "state.db"), cfg.StatePath)
	assert.Equal(t, "json", cfg.OutputFormat)

	require.NotNil(t, cfg.Warehouse)
	assert.Equal(t, "postgres", cfg.Warehouse.Type)
	assert.Equal(t, 5433, cfg.Warehouse.Port)
	assert.Equal(t, "reconciled", cfg.Warehouse.Schema)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, "output: table\n")

	t.Setenv("DATALIGN_OUTPUT", "markdown")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "markdown", cfg.OutputFormat)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	ResetConfig()
	t.Chdir(t.TempDir())
	t.Setenv("DATALIGN_OUTPUT", "markdown")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", "", "")
	flags.String("state", "", "")
	require.NoError(t, flags.Parse([]string{"--output", "json", "--state", "custom/state.db"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.OutputFormat)
	// The --state flag maps to the state_path key and resolves against CWD.
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.Equal(t, "state.db", filepath.Base(cfg.StatePath))
}

func TestLoadConfig_FindsConfigUpward(t *testing.T) {
	ResetConfig()
	root := t.TempDir()
	writeConfig(t, root, "policies_dir: shared-policies\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "shared-policies", filepath.Base(cfg.PoliciesDir))
}

func TestLoadConfig_ExpandsWarehouseSecrets(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, `
warehouse:
  type: postgres
  password: ${DATALIGN_TEST_PW}
`)
	t.Setenv("DATALIGN_TEST_PW", "s3cret")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg.Warehouse)
	assert.Equal(t, "s3cret", cfg.Warehouse.Password)
}

func TestWarehouseConfig_ToAdapterConfig(t *testing.T) {
	w := &WarehouseConfig{
		Type:     "postgres",
		Host:     "db.internal",
		Port:     5433,
		Database: "marts",
		User:     "svc",
		Password: "pw",
		Schema:   "reconciled",
		Options:  map[string]string{"sslmode": "require"},
	}

	cfg := w.ToAdapterConfig()
	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, "svc", cfg.Username)
	assert.Equal(t, "require", cfg.Options["sslmode"])
}
