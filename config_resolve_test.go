package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const sampleConfig = `
default: prod
timeout: 120
servers:
  local:
    api_base: http://localhost:8001/
    markdown: false
  prod:
    api_base: https://council.example.com
    timeout: 900
    headers:
      X-Team: research
    aliases: [p, production]
  staging:
    extend: prod
    api_base: https://staging.council.example.com
    aliases: [p]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigAliases(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg, err := loadConfig(writeConfig(t, sampleConfig), zap.New(core))
	require.NoError(t, err)

	// "p" is claimed by prod first (sorted order); staging's copy is dropped.
	resolved, err := resolveServerConfig(cfg, "p")
	require.NoError(t, err)
	require.NotNil(t, resolved.ApiBase)
	assert.Equal(t, "https://council.example.com", *resolved.ApiBase)
	assert.Equal(t, "research", resolved.Headers["X-Team"])

	resolved, err = resolveServerConfig(cfg, "production")
	require.NoError(t, err)
	assert.Equal(t, 900, *resolved.Timeout)

	require.Equal(t, 1, logs.FilterMessage("duplicate alias, ignoring").Len())

	resolved, err = resolveServerConfig(cfg, "staging")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.council.example.com", *resolved.ApiBase)
	assert.Equal(t, 900, *resolved.Timeout)
}

func TestLoadConfigMissingAndInvalid(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)

	_, err = loadConfig(writeConfig(t, "servers: [not, a, map]"), zap.NewNop())
	assert.Error(t, err)
}

// runConfigFor parses args as flags of a subcommand and resolves them.
func runConfigFor(t *testing.T, cfg *ConfigFile, args ...string) (RunConfig, error) {
	t.Helper()
	cmd, _, err := newRootCmd().Find([]string{"whoami"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(args))
	return getRunConfig(cmd, cfg)
}

func TestGetRunConfigPrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("LLM_COUNCIL_HOME", home)
	t.Setenv("LLM_COUNCIL_API_BASE", "")

	cfg, err := loadConfig(writeConfig(t, sampleConfig), zap.NewNop())
	require.NoError(t, err)

	t.Run("Defaults Without Config", func(t *testing.T) {
		rc, err := runConfigFor(t, &ConfigFile{})
		require.NoError(t, err)
		assert.Equal(t, defaultAPIBase, rc.ApiBase)
		assert.Equal(t, defaultTimeoutSec*time.Second, rc.Timeout)
		assert.True(t, rc.Markdown)
		assert.Equal(t, home, rc.Home)
	})

	t.Run("Default Profile", func(t *testing.T) {
		rc, err := runConfigFor(t, cfg)
		require.NoError(t, err)
		assert.Equal(t, "prod", rc.Server)
		assert.Equal(t, "https://council.example.com", rc.ApiBase)
		assert.Equal(t, 900*time.Second, rc.Timeout)
		assert.Equal(t, map[string]string{"X-Team": "research"}, rc.Headers)
	})

	t.Run("Selected Profile", func(t *testing.T) {
		rc, err := runConfigFor(t, cfg, "-s", "local")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8001", rc.ApiBase, "trailing slash trimmed")
		assert.Equal(t, 120*time.Second, rc.Timeout, "global timeout applies")
		assert.False(t, rc.Markdown)
	})

	t.Run("Env Beats Profile", func(t *testing.T) {
		t.Setenv("LLM_COUNCIL_API_BASE", "http://env.example.com")
		rc, err := runConfigFor(t, cfg)
		require.NoError(t, err)
		assert.Equal(t, "http://env.example.com", rc.ApiBase)
	})

	t.Run("Flags Beat Everything", func(t *testing.T) {
		t.Setenv("LLM_COUNCIL_API_BASE", "http://env.example.com")
		rc, err := runConfigFor(t, cfg, "--api-base", "http://flag.example.com/", "--timeout", "5", "--no-markdown", "-v")
		require.NoError(t, err)
		assert.Equal(t, "http://flag.example.com", rc.ApiBase)
		assert.Equal(t, 5*time.Second, rc.Timeout)
		assert.False(t, rc.Markdown)
		assert.True(t, rc.Verbose)
	})

	t.Run("Unknown Profile", func(t *testing.T) {
		_, err := runConfigFor(t, cfg, "--server", "nope")
		assert.ErrorContains(t, err, `unknown server "nope"`)
	})
}

func strPtr(s string) *string { return &s }
