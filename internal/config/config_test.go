package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/snippy/internal/bridge"
	"github.com/dshills/snippy/internal/plugin/lua"
)

// mapFS is an in-memory FileSystem.
type mapFS map[string]string

func (m mapFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return []byte(data), nil
}

// env returns a lookup function over a fixed environment.
func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func newTestLoader(files mapFS, vars map[string]string) *Loader {
	return NewLoader(WithFileSystem(files), WithLookupEnv(env(vars)))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, bridge.KindEmbedded, cfg.BridgeKind())
	assert.Equal(t, lua.DefaultTimeout, cfg.Lua.Timeout.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadTOML(t *testing.T) {
	files := mapFS{"/etc/snippy.toml": `
bridge = "nvim"

[nvim]
address = "/tmp/nvim.sock"

[lua]
runtime_path = ["/opt/nvim", "/opt/pack/*/start/*"]
timeout = "2s"
capabilities = ["filesystem.read"]
watch = true

[log]
level = "debug"
format = "json"
`}

	cfg, err := newTestLoader(files, nil).Load("/etc/snippy.toml")
	require.NoError(t, err)

	assert.Equal(t, bridge.KindNvim, cfg.BridgeKind())
	assert.Equal(t, "/tmp/nvim.sock", cfg.Nvim.Address)
	assert.Equal(t, "nvim", cfg.Nvim.Command, "unset keys keep defaults")
	assert.Equal(t, []string{"/opt/nvim", "/opt/pack/*/start/*"}, cfg.Lua.RuntimePath)
	assert.Equal(t, 2*time.Second, cfg.Lua.Timeout.Duration)
	assert.Equal(t, []lua.Capability{lua.CapabilityFileRead}, cfg.Capabilities())
	assert.True(t, cfg.Lua.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadYAML(t *testing.T) {
	files := mapFS{"/etc/snippy.yaml": `
bridge: embedded
lua:
  runtime_path:
    - /opt/nvim
  timeout: 750ms
  capabilities: [unsafe]
log:
  level: warn
`}

	cfg, err := newTestLoader(files, nil).Load("/etc/snippy.yaml")
	require.NoError(t, err)

	assert.Equal(t, bridge.KindEmbedded, cfg.BridgeKind())
	assert.Equal(t, []string{"/opt/nvim"}, cfg.Lua.RuntimePath)
	assert.Equal(t, 750*time.Millisecond, cfg.Lua.Timeout.Duration)
	assert.Equal(t, []lua.Capability{lua.CapabilityUnsafe}, cfg.Capabilities())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEmptyYAML(t *testing.T) {
	files := mapFS{"/etc/snippy.yml": ""}

	cfg, err := newTestLoader(files, nil).Load("/etc/snippy.yml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		data  string
		check func(t *testing.T, perr *ParseError)
	}{
		{
			name: "toml syntax",
			path: "/c.toml",
			data: "bridge = \n",
			check: func(t *testing.T, perr *ParseError) {
				assert.Positive(t, perr.Line)
			},
		},
		{
			name: "toml unknown key",
			path: "/c.toml",
			data: "[lua]\nruntimepath = []\n",
			check: func(t *testing.T, perr *ParseError) {
				assert.Contains(t, perr.Message, "lua.runtimepath")
			},
		},
		{
			name: "toml bad duration",
			path: "/c.toml",
			data: "[lua]\ntimeout = \"soon\"\n",
		},
		{
			name: "yaml unknown key",
			path: "/c.yaml",
			data: "bridge: embedded\nbrige: nvim\n",
			check: func(t *testing.T, perr *ParseError) {
				assert.Equal(t, 2, perr.Line)
			},
		},
		{
			name: "yaml bad duration",
			path: "/c.yaml",
			data: "lua:\n  timeout: soon\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(mapFS{tt.path: tt.data}, nil).Load(tt.path)
			require.Error(t, err)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.path, perr.Path)
			assert.Contains(t, err.Error(), tt.path)
			if tt.check != nil {
				tt.check(t, perr)
			}
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := newTestLoader(mapFS{"/c.json": "{}"}, nil).Load("/c.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadMissingFile(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		_, err := newTestLoader(mapFS{}, nil).Load("/nope.toml")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("default location", func(t *testing.T) {
		cfg, err := newTestLoader(mapFS{}, nil).Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestLoadReadError(t *testing.T) {
	dir := t.TempDir()

	// Reading a directory fails with something other than ErrNotExist.
	_, err := NewLoader(WithLookupEnv(env(nil))).Load(dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFileNotFound)
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	cfg, err := NewLoader(WithLookupEnv(env(nil))).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	files := mapFS{"/c.toml": `
bridge = "embedded"
[lua]
runtime_path = ["/from/file"]
timeout = "1s"
`}
	vars := map[string]string{
		"SNIPPY_BRIDGE":       "nvim",
		"SNIPPY_NVIM_ADDRESS": "127.0.0.1:6666",
		"SNIPPY_RUNTIME_PATH": "/a" + string(os.PathListSeparator) + string(os.PathListSeparator) + "/b",
		"SNIPPY_TIMEOUT":      "250ms",
		"SNIPPY_CAPABILITIES": "filesystem.read, unsafe",
		"SNIPPY_WATCH":        "true",
		"SNIPPY_LOG_LEVEL":    "debug",
		"SNIPPY_LOG_FORMAT":   "json",
	}

	cfg, err := newTestLoader(files, vars).Load("/c.toml")
	require.NoError(t, err)

	assert.Equal(t, bridge.KindNvim, cfg.BridgeKind())
	assert.Equal(t, "127.0.0.1:6666", cfg.Nvim.Address)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Lua.RuntimePath)
	assert.Equal(t, 250*time.Millisecond, cfg.Lua.Timeout.Duration)
	assert.Equal(t, []string{"filesystem.read", "unsafe"}, cfg.Lua.Capabilities)
	assert.True(t, cfg.Lua.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"timeout", map[string]string{"SNIPPY_TIMEOUT": "later"}},
		{"watch", map[string]string{"SNIPPY_WATCH": "sometimes"}},
		{"embed", map[string]string{"SNIPPY_NVIM_EMBED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(mapFS{}, tt.vars).Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "SNIPPY_")
		})
	}
}

func TestEnvFromProcess(t *testing.T) {
	t.Setenv("SNIPPY_LOG_LEVEL", "error")

	cfg, err := NewLoader(WithFileSystem(mapFS{})).Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown bridge", func(c *Config) { c.Bridge = "vim" }, "bridge"},
		{"nvim without address", func(c *Config) { c.Bridge = "nvim" }, "nvim.address"},
		{"nvim embedded", func(c *Config) { c.Bridge = "nvim"; c.Nvim.Embed = true }, ""},
		{"nvim with address", func(c *Config) { c.Bridge = "nvim"; c.Nvim.Address = "/tmp/s" }, ""},
		{"zero timeout", func(c *Config) { c.Lua.Timeout = Duration{} }, "lua.timeout"},
		{"negative timeout", func(c *Config) { c.Lua.Timeout = Duration{-time.Second} }, "lua.timeout"},
		{"unknown capability", func(c *Config) { c.Lua.Capabilities = []string{"network"} }, "lua.capabilities"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"empty log level", func(c *Config) { c.Log.Level = "" }, "log.level"},
		{"upper case log level", func(c *Config) { c.Log.Level = "WARN" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.wantErr)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantErr, verr.Path)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Bridge = "vim"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge")
	assert.Contains(t, err.Error(), "log.format")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}

func TestRuntimePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SNIPPY_TEST_DIR", home)

	for _, dir := range []string{
		".config/nvim",
		"pack/a/start/one",
		"pack/b/start/two",
		"pack/b/opt/three",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(home, dir), 0o755))
	}
	// Files matched by a pattern are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(home, "pack/b/start/file.lua"), nil, 0o644))

	cfg := Default()
	cfg.Lua.RuntimePath = []string{
		"~/.config/nvim",
		"$SNIPPY_TEST_DIR/pack/*/start/*",
		"~/.config/nvim/",
		"/does/not/exist",
		"~/nothing/*",
	}

	got, err := cfg.RuntimePath()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(home, ".config/nvim"),
		filepath.Join(home, "pack/a/start/one"),
		filepath.Join(home, "pack/b/start/two"),
		"/does/not/exist",
	}, got)
}

func TestRuntimePathDoubleStar(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a/b/snippets"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c/snippets"), 0o755))

	cfg := Default()
	cfg.Lua.RuntimePath = []string{filepath.Join(root, "**/snippets")}

	got, err := cfg.RuntimePath()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a/b/snippets"),
		filepath.Join(root, "c/snippets"),
	}, got)
}

func TestRuntimePathBadPattern(t *testing.T) {
	cfg := Default()
	cfg.Lua.RuntimePath = []string{"/tmp/[unclosed"}

	_, err := cfg.RuntimePath()
	assert.Error(t, err)
}

func TestReadSkipsValidation(t *testing.T) {
	files := mapFS{"/c.toml": "bridge = \"nvim\"\n"}
	l := newTestLoader(files, nil)

	cfg, err := l.Read("/c.toml")
	require.NoError(t, err)
	assert.Equal(t, "nvim", cfg.Bridge)

	_, err = l.Load("/c.toml")
	assert.ErrorIs(t, err, ErrValidationFailed)
}
