// Package config loads the snippy configuration.
//
// Configuration is assembled from, in increasing priority:
//   - built-in defaults (see Default)
//   - a TOML or YAML file, chosen by extension
//   - SNIPPY_* environment variables
//
// Example config.toml:
//
//	bridge = "embedded"
//
//	[lua]
//	runtime_path = ["~/.config/nvim", "~/.local/share/nvim/site/pack/*/start/*"]
//	timeout = "2s"
//	capabilities = ["filesystem.read"]
//	watch = true
//
//	[log]
//	level = "debug"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/dshills/snippy/internal/bridge"
	"github.com/dshills/snippy/internal/plugin/lua"
)

// Config is the complete snippy configuration.
type Config struct {
	Bridge string     `toml:"bridge" yaml:"bridge"`
	Nvim   NvimConfig `toml:"nvim" yaml:"nvim"`
	Lua    LuaConfig  `toml:"lua" yaml:"lua"`
	Log    LogConfig  `toml:"log" yaml:"log"`
}

// NvimConfig configures the Neovim bridge.
type NvimConfig struct {
	// Address is the listen address of a running Neovim.
	Address string `toml:"address" yaml:"address"`
	// Embed starts a headless Neovim child process when Address is empty.
	Embed bool `toml:"embed" yaml:"embed"`
	// Command is the Neovim executable used with Embed.
	Command string `toml:"command" yaml:"command"`
	// Args are extra arguments for the embedded Neovim.
	Args []string `toml:"args" yaml:"args"`
}

// LuaConfig configures the embedded Lua runtime.
type LuaConfig struct {
	RuntimePath  []string `toml:"runtime_path" yaml:"runtime_path"`
	Timeout      Duration `toml:"timeout" yaml:"timeout"`
	Capabilities []string `toml:"capabilities" yaml:"capabilities"`
	Watch        bool     `toml:"watch" yaml:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Duration is a time.Duration read from strings such as "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bridge: string(bridge.KindEmbedded),
		Nvim: NvimConfig{
			Command: "nvim",
		},
		Lua: LuaConfig{
			Timeout: Duration{lua.DefaultTimeout},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	kind, err := bridge.ParseKind(c.Bridge)
	if err != nil {
		errs = append(errs, &ValidationError{Path: "bridge", Message: err.Error(), Value: c.Bridge})
	}
	if kind == bridge.KindNvim && c.Nvim.Address == "" && !c.Nvim.Embed {
		errs = append(errs, &ValidationError{Path: "nvim.address", Message: "required when bridge is nvim and embed is off", Value: c.Nvim.Address})
	}
	if c.Lua.Timeout.Duration <= 0 {
		errs = append(errs, &ValidationError{Path: "lua.timeout", Message: "must be positive", Value: c.Lua.Timeout})
	}
	for _, name := range c.Lua.Capabilities {
		if _, err := lua.ParseCapability(name); err != nil {
			errs = append(errs, &ValidationError{Path: "lua.capabilities", Message: err.Error(), Value: name})
		}
	}
	if _, err := logrus.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, &ValidationError{Path: "log.level", Message: err.Error(), Value: c.Log.Level})
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		errs = append(errs, &ValidationError{Path: "log.format", Message: `must be "text" or "json"`, Value: c.Log.Format})
	}

	return errors.Join(errs...)
}

// BridgeKind returns the validated bridge kind.
func (c *Config) BridgeKind() bridge.Kind {
	kind, err := bridge.ParseKind(c.Bridge)
	if err != nil {
		return bridge.KindEmbedded
	}
	return kind
}

// Capabilities returns the parsed Lua capabilities, skipping unknown names.
func (c *Config) Capabilities() []lua.Capability {
	caps := make([]lua.Capability, 0, len(c.Lua.Capabilities))
	for _, name := range c.Lua.Capabilities {
		if capability, err := lua.ParseCapability(name); err == nil {
			caps = append(caps, capability)
		}
	}
	return caps
}

// RuntimePath expands the configured runtime path.
//
// Each entry has a leading "~" replaced by the home directory and environment
// variables expanded. Entries containing glob patterns are replaced by the
// directories they match, in lexical order. Entries without patterns are kept
// even when they don't exist. Duplicates are removed.
func (c *Config) RuntimePath() ([]string, error) {
	var dirs []string
	seen := make(map[string]bool)
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, entry := range c.Lua.RuntimePath {
		path, err := expandPath(entry)
		if err != nil {
			return nil, err
		}
		if !hasGlobMeta(path) {
			add(path)
			continue
		}

		matches, err := doublestar.FilepathGlob(path)
		if err != nil {
			return nil, fmt.Errorf("runtime path %q: %w", entry, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				add(m)
			}
		}
	}
	return dirs, nil
}

func expandPath(p string) (string, error) {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p, nil
}

func hasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
