package source

import (
	"context"
	"maps"
	"regexp"
	"unicode/utf8"
)

// Source is a completion source.
type Source interface {
	// Name returns the unique identifier of the source.
	Name() string
	// Mark returns the tag displayed beside candidates from this source.
	Mark() string
	// Rank returns the source priority. Higher ranks sort first.
	Rank() int
	// InputPattern returns the pattern matched against the text before the cursor.
	InputPattern() *regexp.Regexp
	// MinPatternLength returns the minimum length of the matched text.
	MinPatternLength() int
	// Vars returns source specific options.
	Vars() map[string]any

	// GatherCandidates returns completion candidates for the context.
	// The shape of the returned value is defined by whatever produces the
	// candidates; callers must not assume a concrete type.
	GatherCandidates(ctx context.Context, c *Context) (any, error)
}

// Position is a cursor position. Line and Column are 1-based.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Context describes the situation in which completion was requested.
type Context struct {
	// Input is the text of the current line before the cursor.
	Input string `json:"input"`
	// CompleteStr is the keyword being completed.
	CompleteStr string `json:"complete_str,omitempty"`
	// Position is the cursor position.
	Position Position `json:"position"`
	// Filetype is the filetype of the current buffer.
	Filetype string `json:"filetype,omitempty"`
	// Buffer is the current buffer number.
	Buffer int `json:"buffer,omitempty"`
	// Event names what triggered completion (e.g. "manual", "TextChangedI").
	Event string `json:"event,omitempty"`
}

// Descriptor holds the static metadata of a source.
//
// A Descriptor is immutable: its fields are unexported and accessors return
// copies where the underlying value is mutable.
type Descriptor struct {
	name             string
	mark             string
	rank             int
	inputPattern     *regexp.Regexp
	minPatternLength int
	vars             map[string]any
}

// NewDescriptor creates a descriptor. The pattern must be a valid RE2
// expression; an invalid pattern panics, as patterns are program constants.
// A minPatternLength below 1 is raised to 1.
func NewDescriptor(name, mark string, rank int, pattern string, minPatternLength int, vars map[string]any) Descriptor {
	if minPatternLength < 1 {
		minPatternLength = 1
	}
	return Descriptor{
		name:             name,
		mark:             mark,
		rank:             rank,
		inputPattern:     regexp.MustCompile(pattern),
		minPatternLength: minPatternLength,
		vars:             maps.Clone(vars),
	}
}

// Name returns the source identifier.
func (d Descriptor) Name() string { return d.name }

// Mark returns the display marker.
func (d Descriptor) Mark() string { return d.mark }

// Rank returns the source priority.
func (d Descriptor) Rank() int { return d.rank }

// InputPattern returns the trigger pattern.
// Regexp values are safe for concurrent use and have no mutators.
func (d Descriptor) InputPattern() *regexp.Regexp { return d.inputPattern }

// MinPatternLength returns the minimum trigger length.
func (d Descriptor) MinPatternLength() int { return d.minPatternLength }

// Vars returns a copy of the source options. It never returns nil.
func (d Descriptor) Vars() map[string]any {
	if d.vars == nil {
		return map[string]any{}
	}
	return maps.Clone(d.vars)
}

// Triggers reports whether s should be asked for candidates for input.
//
// The source's input pattern must match input and the matched text must be at
// least MinPatternLength runes long. A source without a pattern never
// triggers.
func Triggers(s Source, input string) bool {
	re := s.InputPattern()
	if re == nil {
		return false
	}
	loc := re.FindStringIndex(input)
	if loc == nil {
		return false
	}
	return utf8.RuneCountInString(input[loc[0]:loc[1]]) >= s.MinPatternLength()
}
