// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config assembles the iwantit configuration. Built-in defaults are
// merged with the user's file, then secrets, then IWANTIT_* environment
// variables, and ${ENV:NAME} references are expanded last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/iwantit/internal/secrets"
	"github.com/pdiddy/iwantit/pkg/types"
)

// LocalConfigName is looked up in the working directory.
const LocalConfigName = "iwantit.yaml"

// EnvPrefix is the prefix of environment overrides: IWANTIT_PROWLARR_API_KEY
// sets prowlarr.api_key.
const EnvPrefix = "IWANTIT"

// Result is a loaded configuration and where it came from.
type Result struct {
	Config *types.Config

	// Path is the user configuration file merged over the defaults, or ""
	// when none was found.
	Path string

	// Unused lists keys that matched no setting.
	Unused []string

	// Plugins describes the plugin manifests whose steps were added.
	Plugins []Plugin
}

// Load builds the configuration. An explicit path must exist; otherwise
// $IWANTIT_CONFIG, ./iwantit.yaml and $XDG_CONFIG_HOME/iwantit/config.yaml
// are tried in that order and a missing file means defaults only.
func Load(path string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	v := viper.New()
	v.SetConfigType("yaml")
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("rendering defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("reading defaults: %w", err)
	}

	used, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if used != "" {
		v.SetConfigFile(used)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", used, err)
		}
		logger.Debug("config loaded", "path", used)
	}

	if err := mergeSecrets(v, used, logger); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	settings := expandEnv(v.AllSettings(), os.Getenv).(map[string]any)
	cfg, unused, err := Decode(settings)
	if err != nil {
		return nil, err
	}

	res := &Result{Config: cfg, Path: used, Unused: unused}
	cwd, _ := os.Getwd()
	res.Plugins = AddPlugins(cfg, PluginDirs(cfg, cwd), logger)
	return res, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		path = ExpandHome(path)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	if p := os.Getenv(EnvConfig); p != "" {
		p = ExpandHome(p)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from %s: %w", EnvConfig, err)
		}
		return p, nil
	}
	for _, p := range []string{LocalConfigName, DefaultConfigPath()} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// mergeSecrets layers secrets.yaml and the .secrets/ directories (next to
// the config file and in the working directory) over v.
func mergeSecrets(v *viper.Viper, configPath string, logger *slog.Logger) error {
	if p := SecretsPath(); fileExists(p) {
		sv := viper.New()
		sv.SetConfigFile(p)
		sv.SetConfigType("yaml")
		if err := sv.ReadInConfig(); err != nil {
			return fmt.Errorf("reading secrets %s: %w", p, err)
		}
		if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
			return fmt.Errorf("merging secrets %s: %w", p, err)
		}
		logger.Debug("secrets file loaded", "path", p)
	}

	dirs := []string{".secrets"}
	if configPath != "" {
		if d := filepath.Join(filepath.Dir(configPath), ".secrets"); d != ".secrets" {
			dirs = append([]string{d}, dirs...)
		}
	}
	for _, dir := range dirs {
		flat, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		if len(flat) == 0 {
			continue
		}
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		logger.Debug("secrets loaded", "dir", dir, "keys", keys)
		if err := v.MergeConfigMap(secrets.Nested(flat)); err != nil {
			return fmt.Errorf("merging secrets from %s: %w", dir, err)
		}
	}
	return nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

var envRef = regexp.MustCompile(`\$\{ENV:([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${ENV:NAME} inside strings and {_env: NAME} maps with
// the variable's value. Unset variables expand to "".
func expandEnv(v any, lookup func(string) string) any {
	switch t := v.(type) {
	case string:
		return envRef.ReplaceAllStringFunc(t, func(m string) string {
			return lookup(envRef.FindStringSubmatch(m)[1])
		})
	case map[string]any:
		if len(t) == 1 {
			if name, ok := t["_env"].(string); ok {
				return lookup(name)
			}
		}
		for k, val := range t {
			t[k] = expandEnv(val, lookup)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = expandEnv(val, lookup)
		}
		return t
	default:
		return v
	}
}

// Decode converts a settings tree into a Config. Durations accept Go
// duration strings or a number of seconds. Keys that match nothing are
// returned rather than rejected.
func Decode(settings map[string]any) (*types.Config, []string, error) {
	var cfg types.Config
	var md mapstructure.Metadata
	if err := decodeInto(settings, &cfg, &md); err != nil {
		return nil, nil, fmt.Errorf("decoding config: %w", err)
	}
	unused := append([]string(nil), md.Unused...)
	sort.Strings(unused)
	return &cfg, unused, nil
}

func decodeInto(input, out any, md *mapstructure.Metadata) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDuration,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Metadata:         md,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDuration reads a bare number as seconds.
func secondsToDuration(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch n := data.(type) {
	case int:
		return time.Duration(n) * time.Second, nil
	case int64:
		return time.Duration(n) * time.Second, nil
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	}
	return data, nil
}

// Render returns cfg as YAML, the format `iwantit init` writes.
func Render(cfg *types.Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrExists is returned by WriteDefault when the target file exists and
// force is not set.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes the default configuration to path.
func WriteDefault(path string, force bool) error {
	if !force && fileExists(path) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	data, err := Render(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
