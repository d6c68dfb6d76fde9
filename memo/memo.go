package memo

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/modelops/cache"
	"github.com/jonwraymond/modelops/observe"
)

// Errors returned by New.
var (
	ErrNilStore     = errors.New("memo: store is required")
	ErrNilScheduler = errors.New("memo: scheduler is required")
)

// Store is the subset of cache.Store a Memoizer uses.
type Store[R any] interface {
	Get(ctx context.Context, key string) (R, bool)
	SetWithTTL(ctx context.Context, key string, value R, ttl time.Duration) error
	Delete(ctx context.Context, key string) bool
}

// Scheduler is the subset of batch.Scheduler a Memoizer uses.
type Scheduler[I, R any] interface {
	SubmitAndWait(ctx context.Context, input I, priority int) (R, error)
}

// SkipRule reports whether a request must bypass the cache entirely.
type SkipRule func(namespace string, tags []string) bool

// UncacheableTags mark requests whose results must not be reused.
var UncacheableTags = []string{"nocache", "nondeterministic", "stream", "sensitive"}

// DefaultSkipRule skips requests carrying any of UncacheableTags.
// Tag matching is case-insensitive.
func DefaultSkipRule(_ string, tags []string) bool {
	for _, tag := range tags {
		for _, skip := range UncacheableTags {
			if strings.EqualFold(tag, skip) {
				return true
			}
		}
	}
	return false
}

// Request is one memoizable call.
type Request[I any] struct {
	// Namespace separates key spaces, e.g. one per model.
	Namespace string

	// Descriptor is the request identity hashed into the key. Nil uses Input.
	Descriptor any

	// Params are hashed into the key alongside Descriptor.
	Params map[string]any

	// Input is what the scheduler's processor receives.
	Input I

	// Priority is passed to the scheduler unchanged.
	Priority int

	// TTL for the stored result: 0 selects the store's default and
	// cache.NoExpiration keeps it until evicted.
	TTL time.Duration

	Tags []string
}

// Option configures a Memoizer.
type Option func(*options)

type options struct {
	logger observe.Logger
	skip   SkipRule
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSkipRule replaces DefaultSkipRule.
func WithSkipRule(rule SkipRule) Option {
	return func(o *options) { o.skip = rule }
}

// Memoizer answers requests from a cache and fills it from a scheduler.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Coalescing: concurrent misses with the same key run one scheduler task.
//   - Errors: scheduler errors are returned to every waiter and never cached;
//     a failure to store a result is logged and the result still returned.
type Memoizer[I, R any] struct {
	store  Store[R]
	sched  Scheduler[I, R]
	keyer  cache.Keyer
	skip   SkipRule
	logger observe.Logger
	group  singleflight.Group
}

// New creates a Memoizer. A nil keyer selects cache.DefaultKeyer.
func New[I, R any](store Store[R], sched Scheduler[I, R], keyer cache.Keyer, opts ...Option) (*Memoizer[I, R], error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if sched == nil {
		return nil, ErrNilScheduler
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}

	o := options{skip: DefaultSkipRule, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Memoizer[I, R]{
		store:  store,
		sched:  sched,
		keyer:  keyer,
		skip:   o.skip,
		logger: o.logger,
	}, nil
}

// Key returns the cache key for req.
func (m *Memoizer[I, R]) Key(req Request[I]) (string, error) {
	desc := req.Descriptor
	if desc == nil {
		desc = req.Input
	}
	return m.keyer.Key(req.Namespace, desc, req.Params)
}

// Do returns the cached result for req, or computes it through the
// scheduler and caches it. If ctx ends first Do returns ctx's error, but a
// computation already submitted still completes and is cached.
func (m *Memoizer[I, R]) Do(ctx context.Context, req Request[I]) (R, error) {
	if m.skip != nil && m.skip(req.Namespace, req.Tags) {
		return m.sched.SubmitAndWait(ctx, req.Input, req.Priority)
	}

	key, err := m.Key(req)
	if err != nil {
		m.logger.Warn(ctx, "memo key derivation failed, bypassing cache",
			observe.Field{Key: "namespace", Value: req.Namespace},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return m.sched.SubmitAndWait(ctx, req.Input, req.Priority)
	}

	if v, ok := m.store.Get(ctx, key); ok {
		return v, nil
	}

	// The flight outlives any single caller's ctx so followers are not
	// failed by the leader giving up.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		v, err := m.sched.SubmitAndWait(flightCtx, req.Input, req.Priority)
		if err != nil {
			return v, err
		}
		if err := m.store.SetWithTTL(flightCtx, key, v, req.TTL); err != nil {
			m.logger.Warn(flightCtx, "memo store failed",
				observe.Field{Key: "namespace", Value: req.Namespace},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero R
			return zero, res.Err
		}
		// A nil interface result comes back as a nil any.
		v, _ := res.Val.(R)
		return v, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Forget drops the cached result for req and reports whether one existed.
func (m *Memoizer[I, R]) Forget(ctx context.Context, req Request[I]) (bool, error) {
	key, err := m.Key(req)
	if err != nil {
		return false, err
	}
	m.group.Forget(key)
	return m.store.Delete(ctx, key), nil
}
