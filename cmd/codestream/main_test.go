package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestream/internal/config"
)

func restoreLogLevel(t *testing.T) {
	level := logrus.GetLevel()
	t.Cleanup(func() { logrus.SetLevel(level) })
}

func TestLoadConfig_EnvFile(t *testing.T) {
	restoreLogLevel(t)
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CODESTREAM_HTTP_PORT=4555\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CODESTREAM_HTTP_PORT") })

	cfg, err := loadConfig(&options{envFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, 4555, cfg.HTTP.Port)
}

func TestLoadConfig_MissingEnvFileIgnored(t *testing.T) {
	restoreLogLevel(t)
	cfg, err := loadConfig(&options{envFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().HTTP.Port, cfg.HTTP.Port)
}

func TestLoadConfig_LogLevelOverride(t *testing.T) {
	restoreLogLevel(t)
	cfg, err := loadConfig(&options{logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	_, err = loadConfig(&options{logLevel: "loud"})
	assert.Error(t, err)
}

func TestLoadConfig_BadFile(t *testing.T) {
	restoreLogLevel(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := loadConfig(&options{configFile: path})
	assert.Error(t, err)
}

func TestRootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "env-file", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, ".env", cmd.Flags().Lookup("env-file").DefValue)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "chat.db")
	cfg.Workspace.Root = t.TempDir()
	cfg.Workspace.Watch = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, run(ctx, cfg))
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1
	assert.Error(t, run(context.Background(), cfg))
}
