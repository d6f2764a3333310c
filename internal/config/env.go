package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "SNIPPY_"

// envSetters maps variable names (without prefix) to the setting they
// override. Empty values are treated as set.
var envSetters = map[string]func(*Config, string) error{
	"BRIDGE": func(c *Config, v string) error {
		c.Bridge = v
		return nil
	},
	"NVIM_ADDRESS": func(c *Config, v string) error {
		c.Nvim.Address = v
		return nil
	},
	"NVIM_EMBED": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Nvim.Embed = b
		return nil
	},
	"RUNTIME_PATH": func(c *Config, v string) error {
		c.Lua.RuntimePath = splitNonEmpty(filepath.SplitList(v))
		return nil
	},
	"TIMEOUT": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.Lua.Timeout = Duration{d}
		return nil
	},
	"CAPABILITIES": func(c *Config, v string) error {
		c.Lua.Capabilities = splitNonEmpty(strings.Split(v, ","))
		return nil
	},
	"WATCH": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Lua.Watch = b
		return nil
	},
	"LOG_LEVEL": func(c *Config, v string) error {
		c.Log.Level = v
		return nil
	},
	"LOG_FORMAT": func(c *Config, v string) error {
		c.Log.Format = v
		return nil
	},
}

func (l *Loader) applyEnv(cfg *Config) error {
	for name, set := range envSetters {
		val, ok := l.env(l.prefix + name)
		if !ok {
			continue
		}
		if err := set(cfg, val); err != nil {
			return fmt.Errorf("environment %s%s=%q: %w", l.prefix, name, val, err)
		}
	}
	return nil
}

func splitNonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
