package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/snippy/internal/logger"
)

// Errors returned by the registry.
var (
	// ErrDuplicateSource indicates a source with the same name is registered.
	ErrDuplicateSource = errors.New("source already registered")

	// ErrInvalidSource indicates a source with an unusable descriptor.
	ErrInvalidSource = errors.New("invalid source")
)

// Result is the outcome of gathering candidates from one source.
type Result struct {
	Source     string `json:"source"`
	Mark       string `json:"mark"`
	Rank       int    `json:"rank"`
	Candidates any    `json:"candidates"`
	Err        error  `json:"-"`
}

// Registry holds the registered sources of a host session.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	log     *logger.Logger
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		sources: make(map[string]Source),
		log:     log,
	}
}

// Register adds a source.
func (r *Registry) Register(s Source) error {
	if s == nil {
		return fmt.Errorf("%w: nil source", ErrInvalidSource)
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSource)
	}
	if s.MinPatternLength() < 1 {
		return fmt.Errorf("%w: %s: min pattern length %d", ErrInvalidSource, name, s.MinPatternLength())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	r.sources[name] = s

	r.log.Debug().Str("source", name).Int("rank", s.Rank()).Msg("source registered")
	return nil
}

// Unregister removes a source. It reports whether the source was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; !exists {
		return false
	}
	delete(r.sources, name)
	return true
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[name]
	return s, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// List returns all sources ordered by rank (highest first), then name.
func (r *Registry) List() []Source {
	r.mu.RLock()
	list := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sortByRank(list)
	return list
}

// Eligible returns the sources that trigger for input, in rank order.
func (r *Registry) Eligible(input string) []Source {
	all := r.List()
	eligible := all[:0]
	for _, s := range all {
		if Triggers(s, input) {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

// Gather asks every eligible source for candidates and returns one result per
// source in rank order. Sources are called sequentially. A failing source does
// not stop the others; its error is stored in the result as returned.
func (r *Registry) Gather(ctx context.Context, c *Context) []Result {
	if c == nil {
		c = &Context{}
	}

	reqID := uuid.NewString()
	sources := r.Eligible(c.Input)
	results := make([]Result, 0, len(sources))

	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			results = append(results, newResult(s, nil, err))
			continue
		}

		start := time.Now()
		candidates, err := s.GatherCandidates(ctx, c)
		took := time.Since(start)

		if err != nil {
			r.log.Warn().
				Str("request", reqID).
				Str("source", s.Name()).
				Dur("took", took).
				Err(err).
				Msg("gather candidates failed")
		} else {
			r.log.Debug().
				Str("request", reqID).
				Str("source", s.Name()).
				Dur("took", took).
				Msg("gathered candidates")
		}

		results = append(results, newResult(s, candidates, err))
	}

	return results
}

func newResult(s Source, candidates any, err error) Result {
	return Result{
		Source:     s.Name(),
		Mark:       s.Mark(),
		Rank:       s.Rank(),
		Candidates: candidates,
		Err:        err,
	}
}

func sortByRank(list []Source) {
	slices.SortFunc(list, func(a, b Source) int {
		if a.Rank() != b.Rank() {
			return b.Rank() - a.Rank()
		}
		return strings.Compare(a.Name(), b.Name())
	})
}
