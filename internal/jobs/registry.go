package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCacheKeyPrefix namespaces persisted timestamps.
	DefaultCacheKeyPrefix = "jobs."
	// DefaultPoolCoolDown is the default pool cooldown in minutes.
	DefaultPoolCoolDown = 1
)

// NamedJob pairs a registered name with its materialized job.
type NamedJob struct {
	Name string
	Job  Job
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTypes adds constructors available to TypeName builders.
func WithTypes(types map[string]Constructor) Option {
	return func(r *Registry) {
		for name, ctor := range types {
			if name != "" && ctor != nil {
				r.types[name] = ctor
			}
		}
	}
}

// WithHooks sets observability callbacks.
func WithHooks(h Hooks) Option {
	return func(r *Registry) { r.hooks = h }
}

// Registry is a pool of jobs sharing one TimestampStore.
//
// All methods are safe for concurrent use. Run calls are serialized within
// one Registry; across processes only EnableAtomicGate narrows the race.
type Registry struct {
	store TimestampStore
	log   *slog.Logger
	now   func() time.Time
	hooks Hooks

	runMu sync.Mutex

	mu         sync.Mutex
	types      map[string]Constructor
	order      []string
	entries    map[string]*entry
	prefix     string
	coolDown   int
	atomicGate bool
}

// New creates an empty registry backed by store.
func New(store TimestampStore, opts ...Option) *Registry {
	if store == nil {
		panic("jobs: nil TimestampStore")
	}
	r := &Registry{
		store:    store,
		log:      slog.Default(),
		now:      time.Now,
		types:    make(map[string]Constructor),
		entries:  make(map[string]*entry),
		prefix:   DefaultCacheKeyPrefix,
		coolDown: DefaultPoolCoolDown,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(slog.String("component", "jobs"))
	return r
}

// DefineType adds a constructor for TypeName builders.
func (r *Registry) DefineType(name string, ctor Constructor) error {
	if name == "" {
		return configErrorf("type name is empty")
	}
	if ctor == nil {
		return configErrorf("constructor for type %q is nil", name)
	}
	r.mu.Lock()
	// copy on write: builds in flight keep reading the previous table
	types := maps.Clone(r.types)
	types[name] = ctor
	r.types = types
	r.mu.Unlock()
	return nil
}

// Register adds a job. A job registered under an existing name replaces the
// previous entry.
func (r *Registry) Register(job Job) error {
	if err := checkContract(job); err != nil {
		return configErrorf("%v", err)
	}
	r.mu.Lock()
	r.put(job.Name(), &entry{job: job})
	r.mu.Unlock()
	return nil
}

// RegisterLazy adds a job that is built on first use.
func (r *Registry) RegisterLazy(name string, b Builder) error {
	if name == "" {
		return configErrorf("job name is empty")
	}
	if b == nil {
		return configErrorf("job %q: builder is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := b.validate(r.types); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	r.put(name, &entry{builder: b})
	return nil
}

func (r *Registry) put(name string, e *entry) {
	if _, ok := r.entries[name]; !ok {
		r.order = append(r.order, name)
	}
	r.entries[name] = e
}

// Has reports whether name is registered. It never builds a job.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the job registered under name, building it if needed.
func (r *Registry) Get(name string) (Job, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	types := r.types
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	job, err := e.materialize(types)
	if err != nil {
		return nil, &JobError{Name: name, Op: OpMaterialize, Err: err}
	}
	return job, nil
}

// Remove unregisters name and deletes its persisted timestamp. Removing an
// unknown name only deletes the timestamp.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		delete(r.entries, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	key := r.prefix + name
	r.mu.Unlock()

	if err := r.store.Delete(ctx, key); err != nil {
		return storeError("delete", key, err)
	}
	return nil
}

// Clear unregisters every job and deletes their timestamps. The pool
// timestamp is kept.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	names := r.order
	prefix := r.prefix
	r.order = nil
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := r.store.Delete(ctx, prefix+name); err != nil {
			errs = append(errs, storeError("delete", prefix+name, err))
		}
	}
	return errors.Join(errs...)
}

// Reset deletes the pool timestamp and the timestamps of every registered
// job, keeping the entries. The next Run executes every active job.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	prefix := r.prefix
	keys := make([]string, 0, len(r.order)+1)
	keys = append(keys, prefix)
	for _, name := range r.order {
		keys = append(keys, prefix+name)
	}
	r.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			errs = append(errs, storeError("delete", key, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of entries, built or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Names returns the registered names in insertion order without building
// anything.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// All builds every entry and returns the jobs in insertion order. Entries
// that fail to build are left out and reported in the returned error.
func (r *Registry) All() ([]NamedJob, error) {
	r.mu.Lock()
	slots := make([]slot, 0, len(r.order))
	for _, name := range r.order {
		slots = append(slots, slot{name: name, entry: r.entries[name]})
	}
	types := r.types
	r.mu.Unlock()

	out := make([]NamedJob, 0, len(slots))
	var errs []error
	for _, s := range slots {
		job, err := s.entry.materialize(types)
		if err != nil {
			errs = append(errs, &JobError{Name: s.name, Op: OpMaterialize, Err: err})
			continue
		}
		out = append(out, NamedJob{Name: s.name, Job: job})
	}
	return out, errors.Join(errs...)
}

// SetPoolCoolDown sets the minimum spacing between two cycles in minutes.
func (r *Registry) SetPoolCoolDown(minutes int) error {
	if minutes < 1 {
		return configErrorf("pool cooldown %d must not be less than 1 minute", minutes)
	}
	r.mu.Lock()
	r.coolDown = minutes
	r.mu.Unlock()
	return nil
}

// PoolCoolDown returns the pool cooldown in minutes.
func (r *Registry) PoolCoolDown() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coolDown
}

// SetCacheKeyPrefix changes the namespace of persisted timestamps.
// Timestamps written under the old prefix are not migrated.
func (r *Registry) SetCacheKeyPrefix(prefix string) error {
	if prefix == "" {
		return configErrorf("cache key prefix is empty")
	}
	r.mu.Lock()
	r.prefix = prefix
	r.mu.Unlock()
	return nil
}

// CacheKeyPrefix returns the timestamp key prefix.
func (r *Registry) CacheKeyPrefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// EnableAtomicGate makes Run check and mark the pool timestamp in one
// store operation. The store must implement GateStore.
func (r *Registry) EnableAtomicGate() error {
	if _, ok := r.store.(GateStore); !ok {
		return configErrorf("store %T does not support an atomic gate", r.store)
	}
	r.mu.Lock()
	r.atomicGate = true
	r.mu.Unlock()
	return nil
}

// RemainingCoolDown returns how long the pool gate stays closed. It is zero
// when the pool never ran or the cooldown has elapsed.
func (r *Registry) RemainingCoolDown(ctx context.Context) (time.Duration, error) {
	r.mu.Lock()
	prefix, coolDown := r.prefix, r.coolDown
	r.mu.Unlock()
	return r.remaining(ctx, prefix, coolDown, r.clock())
}

func (r *Registry) remaining(ctx context.Context, prefix string, coolDown int, now time.Time) (time.Duration, error) {
	last, ok, err := r.store.Get(ctx, prefix)
	if err != nil {
		return 0, storeError("get", prefix, err)
	}
	if !ok {
		return 0, nil
	}
	left := last.Unix() + int64(coolDown)*60 - now.Unix()
	if left <= 0 {
		return 0, nil
	}
	return time.Duration(left) * time.Second, nil
}

// LastRunAt returns the time of the last cycle that passed the pool gate.
func (r *Registry) LastRunAt(ctx context.Context) (time.Time, bool, error) {
	prefix := r.CacheKeyPrefix()
	t, ok, err := r.store.Get(ctx, prefix)
	if err != nil {
		return time.Time{}, false, storeError("get", prefix, err)
	}
	return t, ok, nil
}

// JobLastRunAt returns the time of the last successful run of name. The
// name does not have to be registered.
func (r *Registry) JobLastRunAt(ctx context.Context, name string) (time.Time, bool, error) {
	key := r.CacheKeyPrefix() + name
	t, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, storeError("get", key, err)
	}
	return t, ok, nil
}

// Forget deletes the timestamp of name without unregistering it, so the job
// runs on the next cycle that passes the pool gate. It reports whether a
// timestamp existed.
func (r *Registry) Forget(ctx context.Context, name string) (bool, error) {
	key := r.CacheKeyPrefix() + name
	ok, err := r.store.Has(ctx, key)
	if err != nil {
		return false, storeError("has", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return false, storeError("delete", key, err)
	}
	return true, nil
}

// String lists the registered names, e.g. "[cleanup, mailer]".
func (r *Registry) String() string {
	return "[" + strings.Join(r.Names(), ", ") + "]"
}

// clock returns the current time truncated to whole seconds, the
// resolution of persisted timestamps.
func (r *Registry) clock() time.Time {
	return time.Unix(r.now().Unix(), 0)
}
