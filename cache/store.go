package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/modelops/observe"
)

// Config configures a Store.
type Config struct {
	// Name identifies the store in logs and metrics.
	// Default: "model-cache"
	Name string `mapstructure:"name"`

	// MaxItems is the item budget.
	// Default: 500
	MaxItems int `mapstructure:"max_items" validate:"gte=0"`

	// MaxMemoryMB is the memory budget in MiB of estimated value size.
	// Default: 100
	MaxMemoryMB int `mapstructure:"max_memory_mb" validate:"gte=0"`

	// DefaultTTL applies when Set is used or SetWithTTL gets 0.
	// Zero means entries never expire by default.
	DefaultTTL time.Duration `mapstructure:"default_ttl" validate:"gte=0"`

	// MaxTTL clamps every TTL, including NoExpiration. Zero disables clamping.
	MaxTTL time.Duration `mapstructure:"max_ttl" validate:"gte=0"`

	// PersistPath is the snapshot directory. Empty disables file snapshots.
	PersistPath string `mapstructure:"persist_path"`

	// LoadOnStart loads the snapshot in New.
	LoadOnStart bool `mapstructure:"load_on_start"`

	// SaveOnExit saves a snapshot in Close.
	SaveOnExit bool `mapstructure:"save_on_exit"`

	// SaveInterval is the periodic snapshot interval. Zero disables it.
	SaveInterval time.Duration `mapstructure:"save_interval" validate:"gte=0"`

	// EvictionPolicy is "lru" or "lfu".
	// Default: "lru"
	EvictionPolicy string `mapstructure:"eviction_policy" validate:"omitempty,oneof=lru lfu"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Name:           "model-cache",
		MaxItems:       500,
		MaxMemoryMB:    100,
		DefaultTTL:     24 * time.Hour,
		PersistPath:    filepath.Join(os.TempDir(), "modelops", "cache"),
		LoadOnStart:    true,
		SaveOnExit:     true,
		SaveInterval:   5 * time.Minute,
		EvictionPolicy: string(EvictLRU),
	}
}

// Validate rejects negative budgets and unknown eviction policies.
func (c Config) Validate() error {
	if c.MaxItems < 0 || c.MaxMemoryMB < 0 {
		return fmt.Errorf("%w: budgets must not be negative", ErrInvalidConfig)
	}
	if c.DefaultTTL < 0 || c.MaxTTL < 0 || c.SaveInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	_, err := ParseEvictionPolicy(c.EvictionPolicy)
	return err
}

// Sizer estimates the memory footprint of a value in bytes.
type Sizer[V any] func(V) (int64, error)

// JSONSizer sizes a value by the length of its JSON encoding.
func JSONSizer[V any](v V) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Option configures a Store.
type Option func(*options)

type options struct {
	clock       clockwork.Clock
	inst        *observe.Instrumentation
	logger      observe.Logger
	metrics     observe.Metrics
	snapshotter Snapshotter
	sizer       any
}

// WithClock sets the time source. Default: the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithInstrumentation sets logger and metrics from one bundle.
func WithInstrumentation(inst *observe.Instrumentation) Option {
	return func(o *options) { o.inst = inst }
}

// WithLogger overrides the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics overrides the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSnapshotter replaces the file snapshotter derived from PersistPath.
func WithSnapshotter(s Snapshotter) Option {
	return func(o *options) { o.snapshotter = s }
}

// WithSizer replaces JSONSizer. The function's argument type must match
// the Store's value type.
func WithSizer[V any](fn func(V) (int64, error)) Option {
	return func(o *options) { o.sizer = Sizer[V](fn) }
}

// Status is a point-in-time view of a Store.
type Status struct {
	ItemCount   int
	MemoryBytes int64
	HitCount    uint64
	MissCount   uint64
	HitRate     float64

	// AvgAccessLatency is the mean time spent in Get on hits.
	AvgAccessLatency time.Duration
}

// Store is a generic TTL cache bounded by an item budget and a memory budget.
//
// Contract:
// - Concurrency: safe for concurrent use; Get and Set never block on I/O.
// - Capacity: after every Set, Len() <= MaxItems and memory <= the memory budget.
// - Errors: snapshot failures are logged and never returned.
type Store[V any] struct {
	cfg      Config
	meta     observe.Component
	policy   Policy
	eviction EvictionPolicy
	maxItems int
	maxBytes int64
	clock    clockwork.Clock
	sizer    Sizer[V]
	snap     Snapshotter
	logger   observe.Logger
	metrics  observe.Metrics

	mu             sync.Mutex
	entries        map[string]*entry[V]
	memBytes       int64
	hits           uint64
	misses         uint64
	hitLatency     time.Duration
	seq            uint64
	closed         bool
	lastPersistErr error

	stop chan struct{}
	done chan struct{}
}

// New creates a Store. Zero MaxItems, MaxMemoryMB, Name and EvictionPolicy
// take their defaults. If LoadOnStart is set the snapshot is loaded before
// New returns, and if SaveInterval is positive a background saver starts.
func New[V any](ctx context.Context, cfg Config, opts ...Option) (*Store[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = defaults.MaxItems
	}
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = defaults.MaxMemoryMB
	}
	eviction, _ := ParseEvictionPolicy(cfg.EvictionPolicy)
	cfg.EvictionPolicy = string(eviction)

	sizer := Sizer[V](JSONSizer[V])
	if o.sizer != nil {
		fn, ok := o.sizer.(Sizer[V])
		if !ok {
			return nil, fmt.Errorf("%w: sizer %T does not accept the store's value type", ErrInvalidConfig, o.sizer)
		}
		sizer = fn
	}

	inst := o.inst
	if inst == nil {
		inst = observe.Nop()
	}
	logger, metrics := inst.Logger, inst.Metrics
	if o.logger != nil {
		logger = o.logger
	}
	if o.metrics != nil {
		metrics = o.metrics
	}

	clock := o.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	snap := o.snapshotter
	if snap == nil && cfg.PersistPath != "" {
		snap = NewFileSnapshotter(cfg.PersistPath)
	}

	meta := observe.Component{Kind: observe.KindCache, Name: cfg.Name}
	s := &Store[V]{
		cfg:      cfg,
		meta:     meta,
		policy:   Policy{DefaultTTL: cfg.DefaultTTL, MaxTTL: cfg.MaxTTL},
		eviction: eviction,
		maxItems: cfg.MaxItems,
		maxBytes: int64(cfg.MaxMemoryMB) * 1024 * 1024,
		clock:    clock,
		sizer:    sizer,
		snap:     snap,
		logger:   logger.WithComponent(meta),
		metrics:  metrics,
		entries:  make(map[string]*entry[V]),
	}

	fields := []observe.Field{
		{Key: "max_items", Value: cfg.MaxItems},
		{Key: "max_memory_mb", Value: cfg.MaxMemoryMB},
		{Key: "default_ttl", Value: cfg.DefaultTTL.String()},
		{Key: "eviction_policy", Value: cfg.EvictionPolicy},
	}
	if snap != nil {
		fields = append(fields, observe.Field{Key: "snapshot", Value: snap.Location()})
	}
	s.logger.Info(ctx, "cache initialised", fields...)

	if snap != nil && cfg.LoadOnStart {
		s.LoadFromDisk(ctx)
	}

	if snap != nil && cfg.SaveInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		ticker := clock.NewTicker(cfg.SaveInterval)
		go s.runSaver(ticker)
	}

	return s, nil
}

// Get returns the value for key. An expired entry is deleted and reported
// as a miss. A hit bumps the entry's access count and recency.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool) {
	wall := time.Now()
	start := s.clock.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && e.expired(start) {
		s.removeLocked(e)
		ok = false
	}
	if !ok {
		s.misses++
		s.mu.Unlock()
		s.metrics.RecordCacheAccess(ctx, s.meta, false)
		var zero V
		return zero, false
	}

	e.accessCount++
	e.lastAccessedAt = start
	s.seq++
	e.touchSeq = s.seq
	s.hits++
	s.hitLatency += time.Since(wall)
	value := e.value
	s.mu.Unlock()

	s.metrics.RecordCacheAccess(ctx, s.meta, true)
	return value, true
}

// Set stores value under key with the default TTL.
func (s *Store[V]) Set(ctx context.Context, key string, value V) error {
	return s.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL stores value under key. A ttl of 0 selects the default TTL and
// NoExpiration stores the value without expiry. If the budgets would be
// exceeded, entries are evicted first.
func (s *Store[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	size, err := s.sizer(value)
	if err != nil {
		return fmt.Errorf("cache: size value: %w", err)
	}
	if size < 0 {
		size = 0
	}
	if size > s.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrValueTooLarge, size, s.maxBytes)
	}

	now := s.clock.Now()
	expiresAt := s.policy.ExpiresAt(now, s.policy.EffectiveTTL(ttl))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if old, ok := s.entries[key]; ok {
		s.removeLocked(old)
	}

	var evicted int
	var evictedBytes int64
	if len(s.entries)+1 > s.maxItems || s.memBytes+size > s.maxBytes {
		evicted, evictedBytes = s.evictLocked(size)
	}

	s.seq++
	s.entries[key] = &entry[V]{
		key:            key,
		value:          value,
		expiresAt:      expiresAt,
		createdAt:      now,
		lastAccessedAt: now,
		sizeBytes:      size,
		insertSeq:      s.seq,
		touchSeq:       s.seq,
	}
	s.memBytes += size
	items, bytes := len(s.entries), s.memBytes
	s.mu.Unlock()

	if evicted > 0 {
		s.reportEviction(ctx, evicted, evictedBytes, items, bytes)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	return true
}

// Clear removes every entry. Hit and miss counters are kept.
func (s *Store[V]) Clear(ctx context.Context) {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*entry[V])
	s.memBytes = 0
	s.mu.Unlock()

	s.logger.Info(ctx, "cache cleared", observe.Field{Key: "items", Value: n})
}

// PurgeExpired deletes expired entries without counting misses and
// returns how many were removed.
func (s *Store[V]) PurgeExpired(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.Lock()
	purged := 0
	for _, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(e)
			purged++
		}
	}
	s.mu.Unlock()

	if purged > 0 {
		s.logger.Debug(ctx, "expired entries purged", observe.Field{Key: "items", Value: purged})
	}
	return purged
}

// Status returns counters and usage.
func (s *Store[V]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ItemCount:   len(s.entries),
		MemoryBytes: s.memBytes,
		HitCount:    s.hits,
		MissCount:   s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	if s.hits > 0 {
		st.AvgAccessLatency = s.hitLatency / time.Duration(s.hits)
	}
	return st
}

// Len returns the number of stored entries, expired or not.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Budget reports current usage against both budgets.
func (s *Store[V]) Budget() (items, maxItems int, bytes, maxBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), s.maxItems, s.memBytes, s.maxBytes
}

// LastPersistenceError returns the most recent snapshot failure, or nil if
// the last save or load succeeded.
func (s *Store[V]) LastPersistenceError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersistErr
}

// Close stops the background saver, saves once if SaveOnExit is set, and
// drops all entries. Later Sets return ErrClosed. If ctx ends before the
// saver stops, Close still saves and clears, then returns ctx.Err().
func (s *Store[V]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.stop != nil {
		close(s.stop)
		select {
		case <-s.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	// The store cannot be closed twice, so the exit save ignores
	// cancellation of ctx.
	if s.snap != nil && s.cfg.SaveOnExit {
		s.SaveToDisk(context.WithoutCancel(ctx))
	}

	s.mu.Lock()
	s.entries = make(map[string]*entry[V])
	s.memBytes = 0
	s.mu.Unlock()

	s.logger.Info(ctx, "cache closed")
	return err
}

func (s *Store[V]) runSaver(ticker clockwork.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			ctx := context.Background()
			s.PurgeExpired(ctx)
			s.SaveToDisk(ctx)
		}
	}
}

func (s *Store[V]) reportEviction(ctx context.Context, items int, bytes int64, remainingItems int, remainingBytes int64) {
	s.metrics.RecordEviction(ctx, s.meta, items, bytes)
	s.logger.Info(ctx, "cache eviction",
		observe.Field{Key: "policy", Value: string(s.eviction)},
		observe.Field{Key: "evicted_items", Value: items},
		observe.Field{Key: "evicted_bytes", Value: bytes},
		observe.Field{Key: "remaining_items", Value: remainingItems},
		observe.Field{Key: "remaining_bytes", Value: remainingBytes},
	)
}

// record is one snapshot entry.
type record[V any] struct {
	Key            string     `json:"key"`
	Value          V          `json:"value"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	AccessCount    uint64     `json:"accessCount"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	SizeBytes      int64      `json:"sizeBytes"`
}

// SaveToDisk writes every live entry to the snapshotter. It returns false
// if there is no snapshotter or the write failed.
func (s *Store[V]) SaveToDisk(ctx context.Context) bool {
	if s.snap == nil {
		return false
	}
	now := s.clock.Now()

	s.mu.Lock()
	live := make([]*entry[V], 0, len(s.entries))
	for _, e := range s.entries {
		if !e.expired(now) {
			live = append(live, e)
		}
	}
	slices.SortFunc(live, compareAge[V])

	records := make([]record[V], len(live))
	for i, e := range live {
		records[i] = record[V]{
			Key:            e.key,
			Value:          e.value,
			AccessCount:    e.accessCount,
			LastAccessedAt: e.lastAccessedAt,
			CreatedAt:      e.createdAt,
			SizeBytes:      e.sizeBytes,
		}
		if !e.expiresAt.IsZero() {
			at := e.expiresAt
			records[i].ExpiresAt = &at
		}
	}
	s.mu.Unlock()

	data, err := json.Marshal(records)
	if err == nil {
		err = s.snap.Write(ctx, data)
	}
	if err != nil {
		s.persistFailed(ctx, "save", err)
		return false
	}

	s.persistOK()
	s.logger.Info(ctx, "cache snapshot saved",
		observe.Field{Key: "items", Value: len(records)},
		observe.Field{Key: "location", Value: s.snap.Location()},
	)
	return true
}

// LoadFromDisk replaces the store's contents with the snapshot's unexpired
// entries. On any failure the in-memory contents are left untouched and
// false is returned.
func (s *Store[V]) LoadFromDisk(ctx context.Context) bool {
	if s.snap == nil {
		return false
	}

	data, err := s.snap.Read(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.logger.Info(ctx, "cache snapshot not found", observe.Field{Key: "location", Value: s.snap.Location()})
		return false
	}
	if err != nil {
		s.persistFailed(ctx, "load", err)
		return false
	}

	var records []record[V]
	if err := json.Unmarshal(data, &records); err != nil {
		s.persistFailed(ctx, "load", err)
		return false
	}

	now := s.clock.Now()
	var expired, skipped int

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	fresh := make(map[string]*entry[V], len(records))
	var mem int64
	for _, r := range records {
		if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
			expired++
			continue
		}
		if ValidateKey(r.Key) != nil {
			skipped++
			continue
		}
		size, err := s.sizer(r.Value)
		if err != nil || size > s.maxBytes {
			skipped++
			continue
		}
		if old, dup := fresh[r.Key]; dup {
			mem -= old.sizeBytes
		}

		s.seq++
		e := &entry[V]{
			key:            r.Key,
			value:          r.Value,
			createdAt:      r.CreatedAt,
			lastAccessedAt: r.LastAccessedAt,
			accessCount:    r.AccessCount,
			sizeBytes:      size,
			insertSeq:      s.seq,
			touchSeq:       s.seq,
		}
		if r.ExpiresAt != nil {
			e.expiresAt = *r.ExpiresAt
		}
		fresh[r.Key] = e
		mem += size
	}
	s.entries = fresh
	s.memBytes = mem

	var evicted int
	var evictedBytes int64
	if len(s.entries) > s.maxItems || s.memBytes > s.maxBytes {
		evicted, evictedBytes = s.evictLocked(0)
	}
	items, bytes := len(s.entries), s.memBytes
	s.mu.Unlock()

	s.persistOK()
	if evicted > 0 {
		s.reportEviction(ctx, evicted, evictedBytes, items, bytes)
	}
	s.logger.Info(ctx, "cache snapshot loaded",
		observe.Field{Key: "loaded", Value: items},
		observe.Field{Key: "expired", Value: expired},
		observe.Field{Key: "skipped", Value: skipped},
		observe.Field{Key: "total_bytes", Value: bytes},
	)
	return true
}

func (s *Store[V]) persistFailed(ctx context.Context, op string, err error) {
	perr := &PersistenceError{Op: op, Location: s.snap.Location(), Err: err}

	s.mu.Lock()
	s.lastPersistErr = perr
	s.mu.Unlock()

	s.logger.Error(ctx, "cache snapshot "+op+" failed", observe.Field{Key: "error", Value: perr.Error()})
}

func (s *Store[V]) persistOK() {
	s.mu.Lock()
	s.lastPersistErr = nil
	s.mu.Unlock()
}
