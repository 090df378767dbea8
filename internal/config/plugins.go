// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/iwantit/internal/external"
	"github.com/pdiddy/iwantit/pkg/types"
)

// manifestNames are the plugin manifest filenames. JSON manifests parse
// with the YAML decoder.
var manifestNames = map[string]bool{
	"plugin.yaml": true,
	"plugin.yml":  true,
	"plugin.json": true,
}

// Plugin records a manifest whose steps were registered.
type Plugin struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Path    string   `json:"path"`
	Steps   []string `json:"steps"`
}

type manifest struct {
	Name    string                    `yaml:"name"`
	Version string                    `yaml:"version"`
	Steps   map[string]map[string]any `yaml:"steps"`
}

// PluginDirs lists the directories searched for manifests, in priority
// order: $IWANTIT_PLUGIN_PATH, plugins.paths, the config directory's
// plugins/ and cwd/plugins/.
func PluginDirs(cfg *types.Config, cwd string) []string {
	var dirs []string
	if env := os.Getenv(EnvPluginPath); env != "" {
		for _, d := range filepath.SplitList(env) {
			if d != "" {
				dirs = append(dirs, ExpandHome(d))
			}
		}
	}
	for _, d := range cfg.Plugins.Paths {
		dirs = append(dirs, ExpandHome(d))
	}
	dirs = append(dirs, filepath.Join(ConfigDir(), "plugins"))
	if cwd != "" {
		dirs = append(dirs, filepath.Join(cwd, "plugins"))
	}
	return dirs
}

// AddPlugins registers the steps of every manifest found under dirs.
// Configured steps always win, and the first manifest to define a step
// name keeps it. Unreadable manifests are logged and skipped.
func AddPlugins(cfg *types.Config, dirs []string, logger *slog.Logger) []Plugin {
	if cfg.Steps == nil {
		cfg.Steps = make(map[string]types.StepConfig)
	}
	var out []Plugin
	seen := make(map[string]bool)
	for _, dir := range dirs {
		for _, path := range findManifests(dir) {
			if seen[path] {
				continue
			}
			seen[path] = true
			p, err := addManifest(cfg, path)
			if err != nil {
				logger.Warn("skipping plugin manifest", "path", path, "error", err)
				continue
			}
			if len(p.Steps) > 0 {
				logger.Debug("plugin loaded", "name", p.Name, "path", path, "steps", p.Steps)
				out = append(out, p)
			}
		}
	}
	return out
}

func findManifests(dir string) []string {
	var found []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && manifestNames[d.Name()] {
			found = append(found, path)
		}
		return nil
	})
	sort.Strings(found)
	return found
}

func addManifest(cfg *types.Config, path string) (Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plugin{}, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Plugin{}, err
	}
	dir := filepath.Dir(path)
	p := Plugin{Name: m.Name, Version: m.Version, Path: path}
	if p.Name == "" {
		p.Name = filepath.Base(dir)
	}

	names := make([]string, 0, len(m.Steps))
	for name := range m.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, exists := cfg.Steps[name]; exists {
			continue
		}
		var sc types.StepConfig
		if err := decodeInto(m.Steps[name], &sc, nil); err != nil {
			return Plugin{}, err
		}
		sc.Command = resolveCommand(sc.Command, dir)
		cfg.Steps[name] = sc
		p.Steps = append(p.Steps, name)
	}
	return p, nil
}

// resolveCommand anchors a relative executable to the plugin directory.
func resolveCommand(argv []string, dir string) []string {
	if len(argv) == 0 {
		return argv
	}
	out := append([]string(nil), external.SplitCommand(argv)...)
	if strings.HasPrefix(out[0], "./") || strings.HasPrefix(out[0], "../") {
		out[0] = filepath.Join(dir, out[0])
	}
	return out
}
