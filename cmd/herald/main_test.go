package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/shared/config"
)

func noEnv(string) (string, bool) { return "", false }

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "version"})
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "herald dev\n", out.String())
}

func TestMigrateCommandWithSQLite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "reminders.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  driver: sqlite\n  sqlite_path: "+dbPath+"\n"), 0o600))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "schema ready (sqlite)")

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	v := viper.New()
	root := buildRootCommand(v)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--listen", ":9999", "--log-level", "debug"}))

	cfg, _, err := loadConfig(v, config.WithEnv(noEnv), config.WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.StorageDriverMemory, cfg.Storage.Driver)
}
