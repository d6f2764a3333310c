package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/snippy/internal/app"
	"github.com/dshills/snippy/internal/config"
	"github.com/dshills/snippy/internal/logger"
)

// globalOptions holds the flags shared by every command.
type globalOptions struct {
	configPath string
	bridge     string
	nvimAddr   string
	logLevel   string
}

// NewRootCommand builds the snippy command tree.
func NewRootCommand(version, commit, date string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "snippy",
		Short: "Snippet completion source backed by a Lua engine",
		Long: `snippy offers the completion items of a Lua snippet engine to a completion
framework. The engine is reached through a scripting bridge: an embedded,
sandboxed Lua runtime or a running Neovim instance.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML or YAML config file")
	flags.StringVar(&opts.bridge, "bridge", "", `scripting bridge: "embedded" or "nvim"`)
	flags.StringVar(&opts.nvimAddr, "nvim", "", "listen address of a running Neovim (implies --bridge nvim)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newInfoCommand(opts),
		newGatherCommand(opts),
		newServeCommand(opts),
	)

	return rootCmd
}

// loadConfig loads the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Read(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.nvimAddr != "" {
		cfg.Nvim.Address = o.nvimAddr
		if o.bridge == "" {
			cfg.Bridge = "nvim"
		}
	}
	if o.bridge != "" {
		cfg.Bridge = o.bridge
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp starts a session from the command's configuration, logging to the
// command's stderr.
func (o *globalOptions) openApp(ctx context.Context, cmd *cobra.Command) (*app.Application, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cmd, cfg)
}

func newApp(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*app.Application, error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return app.New(ctx, cfg, app.WithLogger(log))
}
