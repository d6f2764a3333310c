// Package snippy provides the completion source backed by the snippy Lua
// engine.
package snippy

import (
	"context"

	"github.com/dshills/snippy/internal/bridge"
	"github.com/dshills/snippy/internal/source"
)

// Descriptor values.
const (
	Name             = "snippy"
	Mark             = "[snippy]"
	Rank             = 1000
	InputPattern     = `\w+$`
	MinPatternLength = 1
)

// GatherExpr is the Lua chunk evaluated to obtain candidates.
const GatherExpr = `return require "snippy".get_completion_items()`

// Source is the snippy completion source.
type Source struct {
	source.Descriptor
	host bridge.Host
}

var _ source.Source = (*Source)(nil)

// New creates the snippy source for the given host.
func New(host bridge.Host) *Source {
	return &Source{
		Descriptor: source.NewDescriptor(Name, Mark, Rank, InputPattern, MinPatternLength, nil),
		host:       host,
	}
}

// GatherCandidates returns the completion items produced by the snippy
// engine. The completion context is not used. Errors from the bridge are
// returned unchanged.
func (s *Source) GatherCandidates(ctx context.Context, _ *source.Context) (any, error) {
	return s.host.ExecLua(ctx, GatherExpr)
}
