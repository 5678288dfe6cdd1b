// Package workspaceconfig discovers and decodes a workspace's tab.yml (or
// .tab.yml), the optional file a repo can drop at its root to declare the
// tabs that should exist whenever someone runs `tab` inside it. It is
// grounded on the teacher's internal/fs.Workspace, reusing its
// symlink-resolution discipline (EvalSymlinks before comparing paths, so
// a symlinked checkout doesn't fool the walk-up into stopping early or
// never stopping) but turned from "scoped file access" into "walk
// upward looking for one of two filenames."
package workspaceconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Filenames tried at each directory level, in order.
var Filenames = []string{"tab.yml", ".tab.yml"}

// TabSpec is one tab a workspace config wants created.
type TabSpec struct {
	Name string            `yaml:"name"`
	Dir  string            `yaml:"dir,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	Doc  string            `yaml:"doc,omitempty"`
}

// Config is the decoded shape of a tab.yml/.tab.yml file. It comes in two
// forms: a bare Workspace list (each entry a sibling repo/dir to open a
// tab for) or a single Repo block describing one repo's own tabs. Both
// forms may appear; Discover returns whichever fields the file set.
//
// Repo names the workspace for display purposes; Tabs lists the tabs to
// create; Shell names the per-workspace shell; Doc is a free-form
// description. Discover only decodes these fields: it merges nothing from
// the config root into the entries of Tabs.
type Config struct {
	Workspace []string          `yaml:"workspace,omitempty"`
	Repo      string            `yaml:"repo,omitempty"`
	Dir       string            `yaml:"dir,omitempty"`
	Shell     string            `yaml:"shell,omitempty"`
	Doc       string            `yaml:"doc,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Tabs      []TabSpec         `yaml:"tabs,omitempty"`
}

// Discover walks upward from start looking for tab.yml or .tab.yml,
// stopping at the filesystem root. It returns the decoded config and the
// directory it was found in, or ok=false if none was found.
func Discover(start string) (cfg Config, dir string, ok bool, err error) {
	resolved, err := filepath.EvalSymlinks(start)
	if err != nil {
		resolved, err = filepath.Abs(start)
		if err != nil {
			return Config{}, "", false, fmt.Errorf("workspaceconfig: resolve %s: %w", start, err)
		}
	}

	for current := resolved; ; {
		for _, name := range Filenames {
			path := filepath.Join(current, name)
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				if os.IsNotExist(readErr) {
					continue
				}
				return Config{}, "", false, fmt.Errorf("workspaceconfig: read %s: %w", path, readErr)
			}
			var cfg Config
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, "", false, fmt.Errorf("workspaceconfig: parse %s: %w", path, err)
			}
			return cfg, current, true, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return Config{}, "", false, nil
		}
		current = parent
	}
}
