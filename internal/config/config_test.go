// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/steps"
	"github.com/pdiddy/iwantit/pkg/types"
)

// isolate points every lookup location at a fresh temp tree and returns
// its root.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvSecrets, "")
	t.Setenv(EnvPluginPath, "")
	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	t.Chdir(work)
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_DefaultsOnly(t *testing.T) {
	isolate(t)
	t.Setenv("KAGI_SEARCH_API_KEY", "kagi-key")

	res, err := Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Path)
	assert.Empty(t, res.Unused)

	cfg := res.Config
	assert.Equal(t, "music", cfg.DefaultWorkflow)
	assert.Equal(t, Default().PreSteps, cfg.PreSteps)
	require.Len(t, cfg.Workflows, 4)
	assert.Equal(t, 500*time.Millisecond, cfg.Retries.Backoff)
	assert.Equal(t, types.CacheSQLite, cfg.Cache.Backend)

	ws := cfg.Steps["identify_web_search"]
	assert.Equal(t, "identify_web_search", ws.Builtin)
	assert.Equal(t, 15*time.Second, ws.Timeout)
	assert.True(t, ws.Cache.Enabled)
	assert.Equal(t, time.Hour, ws.Cache.TTL)
	assert.Contains(t, ws.Options, "query_fields")

	assert.Equal(t, "radarr", cfg.Steps["dispatch_radarr"].Options["arr"])
	assert.True(t, cfg.Steps["prowlarr_grab"].SideEffect)
	assert.Equal(t, "kagi-key", cfg.WebSearch.Providers["kagi"].APIKey)
	assert.Equal(t, []int{3000, 3010, 3040}, cfg.Prowlarr.Categories["music"])
}

func TestLoad_FileMergesOverDefaults(t *testing.T) {
	root := isolate(t)
	t.Setenv("TEST_PROWLARR_KEY", "from-env")
	path := filepath.Join(root, "custom.yaml")
	writeFile(t, path, `
prowlarr:
  url: http://indexer:9696
  api_key: ${ENV:TEST_PROWLARR_KEY}
retries:
  timeout: 10
steps:
  fetch_url:
    timeout: 5s
bogus: 1
`)

	res, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, []string{"bogus"}, res.Unused)

	cfg := res.Config
	assert.Equal(t, "http://indexer:9696", cfg.Prowlarr.URL)
	assert.Equal(t, "from-env", cfg.Prowlarr.APIKey)
	assert.Equal(t, 10*time.Second, cfg.Retries.Timeout)
	assert.Equal(t, 2, cfg.Retries.MaxAttempts)

	fetch := cfg.Steps["fetch_url"]
	assert.Equal(t, 5*time.Second, fetch.Timeout)
	assert.Equal(t, "fetch_url", fetch.Builtin)
	assert.True(t, fetch.Cache.Enabled)
}

func TestLoad_LocalFileAndEnvConfig(t *testing.T) {
	root := isolate(t)
	writeFile(t, LocalConfigName, "default_workflow: book\n")

	res, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, LocalConfigName, res.Path)
	assert.Equal(t, "book", res.Config.DefaultWorkflow)

	envPath := filepath.Join(root, "env.yaml")
	writeFile(t, envPath, "default_workflow: tv\n")
	t.Setenv(EnvConfig, envPath)
	res, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "tv", res.Config.DefaultWorkflow)
}

func TestLoad_SecretsAndEnvOverrides(t *testing.T) {
	root := isolate(t)
	cfgDir := filepath.Join(root, "etc")
	path := filepath.Join(cfgDir, "config.yaml")
	writeFile(t, path, "redacted:\n  api_key: placeholder\n")
	writeFile(t, filepath.Join(cfgDir, ".secrets", "redacted.api_key"), "red-secret\n")
	writeFile(t, filepath.Join(root, "work", ".secrets", "radarr.api_key"), "rad-secret")
	secretsYAML := filepath.Join(root, "secrets.yaml")
	writeFile(t, secretsYAML, "web_search:\n  providers:\n    brave:\n      api_key: brave-secret\n")
	t.Setenv(EnvSecrets, secretsYAML)
	t.Setenv("IWANTIT_SONARR_API_KEY", "son-env")

	res, err := Load(path, nil)
	require.NoError(t, err)
	cfg := res.Config
	assert.Equal(t, "red-secret", cfg.Redacted.APIKey)
	assert.Equal(t, "rad-secret", cfg.Radarr.APIKey)
	assert.Equal(t, "brave-secret", cfg.WebSearch.Providers["brave"].APIKey)
	assert.Equal(t, "son-env", cfg.Sonarr.APIKey)
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	root := isolate(t)
	_, err := Load(filepath.Join(root, "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file")
}

func TestExpandEnv(t *testing.T) {
	env := map[string]string{"A": "alpha", "B": "beta"}
	lookup := func(k string) string { return env[k] }

	in := map[string]any{
		"plain":  "x-${ENV:A}-${ENV:B}",
		"unset":  "${ENV:MISSING}",
		"mapped": map[string]any{"_env": "B"},
		"list":   []any{"${ENV:A}", 3},
		"nested": map[string]any{"key": "${ENV:A}", "other": "keep"},
	}
	out := expandEnv(in, lookup).(map[string]any)
	assert.Equal(t, "x-alpha-beta", out["plain"])
	assert.Equal(t, "", out["unset"])
	assert.Equal(t, "beta", out["mapped"])
	assert.Equal(t, []any{"alpha", 3}, out["list"])
	assert.Equal(t, map[string]any{"key": "alpha", "other": "keep"}, out["nested"])
}

func TestDecode_Durations(t *testing.T) {
	cfg, unused, err := Decode(map[string]any{
		"retries": map[string]any{"timeout": "2m", "backoff": 1.5, "max_backoff": 3},
		"steps": map[string]any{
			"x": map[string]any{"builtin": "decide", "top_n": 5},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, unused)
	assert.Equal(t, 2*time.Minute, cfg.Retries.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Retries.Backoff)
	assert.Equal(t, 3*time.Second, cfg.Retries.MaxBackoff)
	assert.Equal(t, map[string]any{"top_n": 5}, cfg.Steps["x"].Options)
}

func TestAddPlugins(t *testing.T) {
	root := isolate(t)
	pluginDir := filepath.Join(root, "plugins", "lyrics")
	writeFile(t, filepath.Join(pluginDir, "plugin.yaml"), `
name: lyrics
version: 1.2.0
steps:
  fetch_lyrics:
    command: ["./fetch.sh", "--fast"]
    emits: [tags.lyrics]
    timeout: 20
  identify:
    command: ["./override.sh"]
`)
	writeFile(t, filepath.Join(root, "plugins", "other", "plugin.json"),
		`{"steps": {"fetch_lyrics": {"command": ["./other.sh"]}, "cover_art": {"command": "art --size 500"}}}`)
	writeFile(t, filepath.Join(root, "plugins", "broken", "plugin.yaml"), "steps: [not, a, map]\n")

	cfg := Default()
	got := AddPlugins(cfg, []string{filepath.Join(root, "plugins")}, discardLogger())

	require.Len(t, got, 2)
	assert.Equal(t, "lyrics", got[0].Name)
	assert.Equal(t, "1.2.0", got[0].Version)
	assert.Equal(t, []string{"fetch_lyrics"}, got[0].Steps)
	assert.Equal(t, "other", got[1].Name)
	assert.Equal(t, []string{"cover_art"}, got[1].Steps)

	assert.Equal(t, "identify", cfg.Steps["identify"].Builtin)
	lyrics := cfg.Steps["fetch_lyrics"]
	assert.Equal(t, []string{filepath.Join(pluginDir, "fetch.sh"), "--fast"}, lyrics.Command)
	assert.Equal(t, []string{"tags.lyrics"}, lyrics.Emits)
	assert.Equal(t, 20*time.Second, lyrics.Timeout)
	assert.Equal(t, []string{"art", "--size", "500"}, cfg.Steps["cover_art"].Command)
}

func TestPluginDirs(t *testing.T) {
	root := isolate(t)
	t.Setenv(EnvPluginPath, "/a"+string(os.PathListSeparator)+"/b")
	cfg := &types.Config{Plugins: types.PluginConfig{Paths: []string{"/c"}}}

	got := PluginDirs(cfg, "/work")
	assert.Equal(t, []string{
		"/a", "/b", "/c",
		filepath.Join(root, "config", AppName, "plugins"),
		filepath.Join("/work", "plugins"),
	}, got)
}

func TestValidate(t *testing.T) {
	catalog := steps.Catalog(steps.Env{})

	t.Run("defaults need prowlarr credentials", func(t *testing.T) {
		r := Validate(Default(), catalog)
		assert.False(t, r.OK())
		assert.Contains(t, strings.Join(r.Errors, "\n"), "prowlarr.api_key")
	})

	t.Run("credentials present", func(t *testing.T) {
		cfg := Default()
		cfg.Prowlarr.APIKey = "k"
		cfg.WebSearch.Providers["kagi"] = types.WebSearchProvider{APIKey: "k"}
		r := Validate(cfg, catalog)
		assert.True(t, r.OK(), "errors: %v", r.Errors)
		warnings := strings.Join(r.Warnings, "\n")
		assert.Contains(t, warnings, "redacted.api_key")
		assert.Contains(t, warnings, "radarr.url")
		assert.Contains(t, warnings, "sonarr.url")
		assert.NotContains(t, warnings, "web_search")
	})

	t.Run("structural errors are all reported", func(t *testing.T) {
		cfg := Default()
		cfg.Prowlarr.APIKey = "k"
		cfg.Workflows[0].Steps = append(cfg.Workflows[0].Steps, "missing_step")
		cfg.DefaultWorkflow = "nope"
		cfg.WebSearch.Order = []string{"altavista"}
		cfg.Decision.NoMatch = "shrug"
		r := Validate(cfg, catalog)
		all := strings.Join(r.Errors, "\n")
		assert.Contains(t, all, `"missing_step"`)
		assert.Contains(t, all, `"nope"`)
		assert.Contains(t, all, "altavista")
		assert.Contains(t, all, "shrug")
	})
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	root := isolate(t)
	path := filepath.Join(root, "out", "config.yaml")
	require.NoError(t, WriteDefault(path, false))
	require.ErrorIs(t, WriteDefault(path, false), ErrExists)
	require.NoError(t, WriteDefault(path, true))

	res, err := Load(path, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Unused)
	def := Default()
	assert.Equal(t, def.PreSteps, res.Config.PreSteps)
	assert.Len(t, res.Config.Steps, len(def.Steps))
	assert.Equal(t, def.QualityRules["music"].Priority.Order, res.Config.QualityRules["music"].Priority.Order)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
