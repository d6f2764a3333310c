package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/snippy/internal/app"
	"github.com/dshills/snippy/internal/bridge"
	"github.com/dshills/snippy/internal/source"
	"github.com/dshills/snippy/internal/source/snippy"
)

// errSourceFailed makes gather exit non-zero after printing its results.
var errSourceFailed = errors.New("a completion source failed")

func newInfoCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the snippy source descriptor and bridge settings",
		Long: `info prints the snippy source descriptor and the configured bridge. For the
embedded runtime it also prints the module search path and the granted
capabilities. A Neovim bridge is not contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := snippy.New(nil)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "name:               %s\n", s.Name())
			fmt.Fprintf(out, "mark:               %s\n", s.Mark())
			fmt.Fprintf(out, "rank:               %d\n", s.Rank())
			fmt.Fprintf(out, "input pattern:      %s\n", s.InputPattern())
			fmt.Fprintf(out, "min pattern length: %d\n", s.MinPatternLength())

			vars := s.Vars()
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "var %s = %v\n", k, vars[k])
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "bridge:             %s\n", cfg.BridgeKind())
			if cfg.BridgeKind() != bridge.KindEmbedded {
				fmt.Fprintf(out, "nvim address:       %s\n", cfg.Nvim.Address)
				return nil
			}

			a, err := newApp(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rt := a.Runtime()
			caps, err := rt.Capabilities(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(caps))
			for _, c := range caps {
				names = append(names, string(c))
			}
			if len(names) == 0 {
				names = append(names, "none")
			}
			fmt.Fprintf(out, "runtime path:       %s\n", strings.Join(rt.RuntimePath(), string(filepath.ListSeparator)))
			fmt.Fprintf(out, "capabilities:       %s\n", strings.Join(names, ", "))
			return nil
		},
	}
}

func newGatherCommand(opts *globalOptions) *cobra.Command {
	var c source.Context

	cmd := &cobra.Command{
		Use:   "gather",
		Short: "Gather completion candidates once and print them as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.Gather(cmd.Context(), &c)

			records := app.NewResultRecords(results)
			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding results: %w", err)
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data); err != nil {
				return err
			}

			for _, r := range records {
				if r.Error != "" {
					cmd.SilenceErrors = true
					return errSourceFailed
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&c.Input, "input", "i", "", "line text before the cursor")
	cmd.Flags().StringVar(&c.Filetype, "filetype", "", "filetype of the buffer")
	return cmd
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer newline-delimited JSON completion requests on stdin",
		Long: `serve reads one JSON request per line from stdin:

  {"id": "1", "input": "fo", "filetype": "lua"}

and writes one response per line to stdout:

  {"id": "1", "results": [{"source": "snippy", "mark": "[snippy]", "rank": 1000, "candidates": [...]}]}

Requests without an id get a generated one. A failing source reports its
error in its result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Logger().Info().
				Str("bridge", a.Config().Bridge).
				Bool("watch", a.Config().Lua.Watch).
				Msg("serving")
			return a.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
