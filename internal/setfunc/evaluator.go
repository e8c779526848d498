// Package setfunc evaluates zone-set membership functions such as
// dggsChildren(zoneId, '0', 1) with a bounded per-invocation cache and a
// bounded fallback scan.
package setfunc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
)

const (
	DefaultCacheLimit     = 10000
	DefaultIterationLimit = 50000
)

// Limits bound one invocation. CacheLimit <= 0 caches without bound;
// IterationLimit <= 0 scans without bound.
type Limits struct {
	CacheLimit     int
	IterationLimit int
}

func DefaultLimits() Limits {
	return Limits{CacheLimit: DefaultCacheLimit, IterationLimit: DefaultIterationLimit}
}

// LimitsFromEnv reads DGGS_CACHE_LIMIT and DGGS_ITERATION_LIMIT once,
// keeping the defaults for unset or malformed values.
func LimitsFromEnv() Limits {
	l := DefaultLimits()
	if v, err := strconv.Atoi(os.Getenv("DGGS_CACHE_LIMIT")); err == nil {
		l.CacheLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("DGGS_ITERATION_LIMIT")); err == nil {
		l.IterationLimit = v
	}
	return l
}

// Evaluator answers membership for one occurrence of a set function in one
// query. It is not safe for concurrent use.
type Evaluator struct {
	rel    relation
	index  dggs.Index
	limits Limits
	stable bool
	logger *slog.Logger

	bound   bool
	params  []any
	key     string
	matched map[string]struct{}
	tooBig  bool
}

// NewEvaluator builds an evaluator for relation name. stable declares that
// every parameter except the tested zone id is constant for the query.
func NewEvaluator(name string, idx dggs.Index, limits Limits, stable bool, logger *slog.Logger) (*Evaluator, error) {
	rel, ok := relations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if idx == nil {
		return nil, fmt.Errorf("%s: no zone index configured", name)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{rel: rel, index: idx, limits: limits, stable: stable, logger: logger}, nil
}

func (e *Evaluator) Name() string      { return e.rel.name }
func (e *Evaluator) Index() dggs.Index { return e.index }
func (e *Evaluator) Stable() bool      { return e.stable }
func (e *Evaluator) Limits() Limits    { return e.limits }
func (e *Evaluator) Cached() bool      { return e.matched != nil }
func (e *Evaluator) Abandoned() bool   { return e.tooBig }

// Call implements filter.Callable: args are the tested zone id followed by the
// relation parameters.
func (e *Evaluator) Call(args []any) (any, error) {
	if len(args) < e.rel.minArgs+1 || len(args) > e.rel.maxArgs+1 {
		return nil, fmt.Errorf("%w: %s takes %d to %d arguments, got %d",
			dggs.ErrInvalidArgument, e.rel.name, e.rel.minArgs+1, e.rel.maxArgs+1, len(args))
	}
	if args[0] == nil {
		return false, nil
	}
	tested, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: tested zone id must be a string, got %T", dggs.ErrInvalidArgument, args[0])
	}
	return e.Matches(tested, args[1:])
}

// Matches reports whether tested belongs to the set defined by params.
func (e *Evaluator) Matches(tested string, params []any) (bool, error) {
	e.bind(params)

	if e.matched != nil {
		metrics.ObserveSetFuncCache(e.rel.name, metrics.CacheHit)
		_, ok := e.matched[tested]
		return ok, nil
	}

	if e.stable && !e.tooBig {
		set, err := e.materialize()
		if errors.Is(err, errNull) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if set != nil {
			metrics.ObserveSetFuncCache(e.rel.name, metrics.CacheMiss)
			e.matched = set
			_, ok := set[tested]
			return ok, nil
		}
	}
	return e.scan(tested)
}

// bind resets the cache whenever the parameter values change. Stable
// evaluators normally see one binding per query, but the values are still
// compared so a rebound evaluator never answers from a stale set.
func (e *Evaluator) bind(params []any) {
	key := fmt.Sprintf("%#v", params)
	if e.bound && key == e.key {
		return
	}
	e.bound = true
	e.key = key
	e.params = slices.Clone(params)
	e.matched = nil
	e.tooBig = false
}

// Reset drops any binding so the evaluator can serve another query.
func (e *Evaluator) Reset() {
	e.bound = false
	e.key = ""
	e.params = nil
	e.matched = nil
	e.tooBig = false
}

// materialize collects the defining set, or returns nil and marks the binding
// too big once the cache limit is exceeded.
func (e *Evaluator) materialize() (map[string]struct{}, error) {
	seq, err := e.rel.seq(e.index, e.params)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for z, err := range seq {
		if err != nil {
			return nil, err
		}
		if e.limits.CacheLimit > 0 && len(set) >= e.limits.CacheLimit {
			e.tooBig = true
			metrics.ObserveSetFuncCache(e.rel.name, metrics.CacheAbandoned)
			e.logger.Warn("set function cache abandoned",
				"function", e.rel.name,
				"cache_limit", e.limits.CacheLimit,
				"binding", e.fingerprint())
			return nil, nil
		}
		set[z.ID] = struct{}{}
	}
	return set, nil
}

// scan walks the defining sequence looking for tested, failing once more than
// IterationLimit zones would have to be visited.
func (e *Evaluator) scan(tested string) (bool, error) {
	seq, err := e.rel.seq(e.index, e.params)
	if errors.Is(err, errNull) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !e.stable {
		metrics.ObserveSetFuncCache(e.rel.name, metrics.CacheBypass)
	}
	n := 0
	defer func() { metrics.ObserveFallbackScan(e.rel.name, n) }()
	for z, err := range seq {
		if err != nil {
			return false, err
		}
		if e.limits.IterationLimit > 0 && n >= e.limits.IterationLimit {
			metrics.IncIterationLimitExceeded(e.rel.name)
			lerr := &IterationLimitError{Function: e.rel.name, Reference: e.reference(), Limit: e.limits.IterationLimit}
			e.logger.Error("set function iteration limit exceeded",
				"function", e.rel.name,
				"iteration_limit", e.limits.IterationLimit,
				"binding", e.fingerprint())
			return false, lerr
		}
		n++
		if z.ID == tested {
			return true, nil
		}
	}
	return false, nil
}

// Matched returns the full defining set for the current binding, or ok=false
// when it exceeds the cache limit.
func (e *Evaluator) Matched(params []any) (ids []string, ok bool, err error) {
	e.bind(params)
	if e.matched == nil && !e.tooBig {
		set, err := e.materialize()
		if errors.Is(err, errNull) {
			return nil, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		e.matched = set
	}
	if e.matched == nil {
		return nil, false, nil
	}
	ids = make([]string, 0, len(e.matched))
	for id := range e.matched {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, true, nil
}

func (e *Evaluator) reference() string {
	if len(e.params) == 0 {
		return ""
	}
	return fmt.Sprint(e.params[0])
}

func (e *Evaluator) fingerprint() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(e.key))
}
