// Package source defines the completion source protocol.
//
// A source is a plugin unit that supplies completion candidates to the host
// completion framework. The framework treats every value that satisfies
// [Source] as interchangeable: it reads the descriptor fields to decide when a
// source should be asked for candidates and how its candidates rank against
// other sources, and calls GatherCandidates to obtain them.
//
// # Descriptor
//
// The static part of a source is a [Descriptor]:
//
//   - Name: unique identifier among registered sources
//   - Mark: short tag displayed beside the source's candidates
//   - Rank: priority used when candidates from several sources are shown
//   - InputPattern: matched against the text before the cursor
//   - MinPatternLength: minimum length of the matched text
//   - Vars: source specific options
//
// Descriptors are immutable. Sources embed one and add GatherCandidates.
//
// # Triggering
//
// [Triggers] reports whether a source should be asked for candidates for a
// given input. The [Registry] uses it to select eligible sources and gathers
// their candidates in rank order. The registry does not merge, filter or score
// candidates; each source's result is returned as the source produced it.
package source
