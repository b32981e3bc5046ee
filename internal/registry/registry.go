// Package registry owns the stores of one session and is the single
// ingestion point for events.
//
// Apply routes an envelope to its store once the store's dependencies
// are ready. Until then the envelope waits in a per-store FIFO; it is
// never dropped. Whenever readiness changes the waiting queues are
// flushed in dependency order.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/livestore/internal/dispatch"
	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/resolver"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/value"
)

// Readiness notifications.
const (
	EventReady       = "ready"
	EventInvalidated = "invalidated"
)

// Resyncer asks the transport to redeliver the snapshots of stores that
// were reset. It must not block; redelivered events come back through
// Apply.
type Resyncer interface {
	Resync(stores []string) error
}

// ResyncerFunc adapts a function to Resyncer.
type ResyncerFunc func(stores []string) error

// Resync implements Resyncer.
func (f ResyncerFunc) Resync(stores []string) error { return f(stores) }

// IndexDecl declares a member index between two registered stores.
type IndexDecl struct {
	Name      string
	Parent    string
	Child     string
	Key       string
	Secondary string
	Orphans   string // "backfill", "skip", or "" for the registry default
}

type fetchConfig struct {
	policy  store.FetchPolicy
	fetcher store.Fetcher
}

type options struct {
	logger   *slog.Logger
	report   dispatch.ErrorReporter
	resyncer Resyncer
	orphans  store.OrphanPolicy
	indexes  []IndexDecl
	fetch    map[string]fetchConfig
}

// Option configures a Registry.
type Option func(*options)

// WithLogger sets the logger for the registry and its stores.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithErrorReporter sets where listener failures of every store and of
// readiness listeners go.
func WithErrorReporter(report dispatch.ErrorReporter) Option {
	return func(o *options) { o.report = report }
}

// WithResyncer sets the collaborator asked to redeliver snapshots after
// a reset.
func WithResyncer(r Resyncer) Option {
	return func(o *options) { o.resyncer = r }
}

// WithOrphanPolicy sets the orphan policy of indexes that do not name
// one. Default: store.Backfill.
func WithOrphanPolicy(p store.OrphanPolicy) Option {
	return func(o *options) { o.orphans = p }
}

// WithIndexes declares member indexes maintained by the registry.
func WithIndexes(decls ...IndexDecl) Option {
	return func(o *options) { o.indexes = append(o.indexes, decls...) }
}

// WithFetchPolicy enables missing-record requests for one store.
func WithFetchPolicy(storeName string, policy store.FetchPolicy, f store.Fetcher) Option {
	return func(o *options) {
		if o.fetch == nil {
			o.fetch = make(map[string]fetchConfig)
		}
		o.fetch[storeName] = fetchConfig{policy: policy, fetcher: f}
	}
}

// Registry holds every store of a session. It has a single writer: Apply
// and the methods that read stores must be called from one goroutine
// (see the engine package). Readiness listeners may be added from any
// goroutine.
type Registry struct {
	stores    map[string]*store.Store
	graph     *resolver.Graph
	readiness *resolver.Readiness
	deferred  map[string][]event.Envelope
	indexes   map[string]*store.MemberIndex
	ready     *dispatch.Dispatcher[string]
	resyncer  Resyncer
	logger    *slog.Logger
	flushing  bool
	fetching  []string // stores with a fetch policy, in dependency order
}

// New builds the stores, validates the dependency graph and builds the
// declared indexes. Every problem is a configuration error.
func New(schemas []store.Schema, opts ...Option) (*Registry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.report == nil {
		o.report = dispatch.LogReporter(o.logger)
	}

	decls := make([]resolver.Decl, len(schemas))
	var awaiting []string
	for i, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		decls[i] = resolver.Decl{Name: s.Name, Dependencies: s.Dependencies}
		if s.AwaitSnapshot {
			awaiting = append(awaiting, s.Name)
		}
	}
	graph, err := resolver.Build(decls)
	if err != nil {
		return nil, err
	}
	for name := range o.fetch {
		if !graph.Has(name) {
			return nil, &store.ConfigError{Code: store.ErrCodeUnknownStore, Store: name, Message: "fetch policy for unknown store"}
		}
	}

	r := &Registry{
		stores:    make(map[string]*store.Store, len(schemas)),
		graph:     graph,
		readiness: resolver.NewReadiness(graph, awaiting),
		deferred:  make(map[string][]event.Envelope),
		indexes:   make(map[string]*store.MemberIndex),
		ready:     dispatch.New[string](o.report),
		resyncer:  o.resyncer,
		logger:    o.logger,
	}

	for _, s := range schemas {
		storeOpts := []store.Option{store.WithLogger(o.logger), store.WithErrorReporter(o.report)}
		if fc, ok := o.fetch[s.Name]; ok {
			storeOpts = append(storeOpts, store.WithFetcher(fc.policy, fc.fetcher))
		}
		st, err := store.New(s, storeOpts...)
		if err != nil {
			return nil, err
		}
		r.stores[s.Name] = st
	}
	for _, name := range graph.Order() {
		if _, ok := o.fetch[name]; ok {
			r.fetching = append(r.fetching, name)
		}
	}

	for _, decl := range o.indexes {
		if err := r.addIndex(decl, o.orphans); err != nil {
			return nil, err
		}
	}

	r.logger.Info("registry ready", "stores", len(r.stores), "indexes", len(r.indexes), "awaiting", len(awaiting))
	return r, nil
}

func (r *Registry) addIndex(decl IndexDecl, def store.OrphanPolicy) error {
	if decl.Name == "" {
		return &store.ConfigError{Code: store.ErrCodeInvalidSchema, Store: decl.Child, Message: "index name is required"}
	}
	if _, dup := r.indexes[decl.Name]; dup {
		return &store.ConfigError{Code: store.ErrCodeInvalidSchema, Store: decl.Child, Message: fmt.Sprintf("index %q declared twice", decl.Name)}
	}
	parent, ok := r.stores[decl.Parent]
	if !ok {
		return &store.ConfigError{Code: store.ErrCodeUnknownStore, Store: decl.Parent, Message: fmt.Sprintf("index %q: unknown parent store", decl.Name)}
	}
	child, ok := r.stores[decl.Child]
	if !ok {
		return &store.ConfigError{Code: store.ErrCodeUnknownStore, Store: decl.Child, Message: fmt.Sprintf("index %q: unknown child store", decl.Name)}
	}

	policy := def
	if decl.Orphans != "" {
		p, err := store.ParseOrphanPolicy(decl.Orphans)
		if err != nil {
			return &store.ConfigError{Code: store.ErrCodeInvalidSchema, Store: decl.Child, Message: fmt.Sprintf("index %q: %v", decl.Name, err)}
		}
		policy = p
	}

	idx, err := store.NewMemberIndex(parent, child, store.IndexConfig{
		Name:      decl.Name,
		Key:       decl.Key,
		Secondary: decl.Secondary,
		Orphans:   policy,
	})
	if err != nil {
		return err
	}
	r.indexes[decl.Name] = idx
	return nil
}

// Apply is the ingestion point: it applies env to its store now, or
// defers it until the store's dependencies are ready.
//
// Stale and malformed-but-ignorable events return nil. An envelope for an
// unknown store, or a create without id or required fields, returns a
// *store.ConfigError.
func (r *Registry) Apply(env event.Envelope) error {
	if env.Event == nil {
		return fmt.Errorf("envelope for %s has no event", env.Store)
	}
	if _, ok := r.stores[env.Store]; !ok {
		return &store.ConfigError{
			Code:    store.ErrCodeUnknownStore,
			Store:   env.Store,
			Message: fmt.Sprintf("event %s for unregistered store", event.TypeName(env.Event)),
		}
	}

	if _, isReset := env.Event.(event.Reset); isReset {
		return r.reset(env.Store)
	}

	if !r.readiness.CanApply(env.Store) || len(r.deferred[env.Store]) > 0 {
		r.deferred[env.Store] = append(r.deferred[env.Store], env)
		r.logger.Debug("deferring event", "envelope", env.String(), "queued", len(r.deferred[env.Store]))
		return nil
	}

	if err := r.applyNow(env); err != nil {
		return err
	}
	if err := r.flush(); err != nil {
		return err
	}
	r.FlushRequests()
	return nil
}

// FlushRequests hands the missing-record requests queued while applying
// to the stores' fetchers, so a partial batch does not wait for more ids.
// Apply calls it after every applied envelope. It returns how many ids
// were handed off.
func (r *Registry) FlushRequests() int {
	n := 0
	for _, name := range r.fetching {
		n += r.stores[name].FlushRequests()
	}
	return n
}

func (r *Registry) applyNow(env event.Envelope) error {
	if _, ok := env.Event.(event.Synced); ok {
		r.markSynced(env.Store)
		return nil
	}
	return r.stores[env.Store].Apply(env.Event)
}

func (r *Registry) markSynced(name string) {
	became := r.readiness.MarkSynced(name)
	r.logger.Debug("store synced", "store", name, "ready", became)
	for _, n := range became {
		r.ready.Dispatch(EventReady, n)
	}
}

// flush applies deferred envelopes whose stores can now apply them, in
// topological order, until no queue makes progress. Configuration errors
// stop the flush; other errors are logged.
func (r *Registry) flush() error {
	if r.flushing {
		return nil
	}
	r.flushing = true
	defer func() { r.flushing = false }()

	for progress := true; progress; {
		progress = false
		for _, name := range r.graph.Order() {
			for len(r.deferred[name]) > 0 && r.readiness.CanApply(name) {
				env := r.deferred[name][0]
				r.deferred[name] = r.deferred[name][1:]
				progress = true
				if err := r.applyNow(env); err != nil {
					if IsConfigError(err) {
						return err
					}
					r.logger.Warn("deferred event failed", "envelope", env.String(), "error", err)
				}
			}
			if len(r.deferred[name]) == 0 {
				delete(r.deferred, name)
			}
		}
	}
	return nil
}

// reset clears name and every transitive dependent, drops their deferred
// pre-reset events, and asks the Resyncer for fresh snapshots.
func (r *Registry) reset(name string) error {
	wasReady := make(map[string]bool)
	for _, n := range append([]string{name}, r.graph.Dependents(name)...) {
		wasReady[n] = r.readiness.Ready(n)
	}

	affected := r.readiness.Invalidate(name)
	for _, n := range slices.Backward(affected) {
		if dropped := len(r.deferred[n]); dropped > 0 {
			r.logger.Debug("dropping deferred events superseded by reset", "store", n, "dropped", dropped)
			delete(r.deferred, n)
		}
		r.stores[n].Reset()
	}
	r.logger.Info("stores reset", "stores", affected)

	for _, n := range affected {
		if wasReady[n] {
			r.ready.Dispatch(EventInvalidated, n)
		}
	}

	if r.resyncer != nil {
		if err := r.resyncer.Resync(slices.Clone(affected)); err != nil {
			return fmt.Errorf("resync %v: %w", affected, err)
		}
	}
	return nil
}

// Store returns a registered store.
func (r *Registry) Store(name string) (*store.Store, bool) {
	s, ok := r.stores[name]
	return s, ok
}

// MustStore returns a registered store and panics otherwise. It is meant
// for wiring code whose store names are fixed at compile time.
func (r *Registry) MustStore(name string) *store.Store {
	s, ok := r.stores[name]
	if !ok {
		panic(fmt.Sprintf("registry: unknown store %q", name))
	}
	return s
}

// Index returns a declared member index.
func (r *Registry) Index(name string) (*store.MemberIndex, bool) {
	idx, ok := r.indexes[name]
	return idx, ok
}

// Indexes returns the declared index names, sorted.
func (r *Registry) Indexes() []string {
	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Ready reports whether name is synced and all its dependencies are
// ready.
func (r *Registry) Ready(name string) bool {
	return r.readiness.Ready(name)
}

// Deferred returns how many envelopes wait for name's dependencies.
func (r *Registry) Deferred(name string) int {
	return len(r.deferred[name])
}

// Order returns the store names in dependency order.
func (r *Registry) Order() []string {
	return r.graph.Order()
}

// Dependents returns the stores that depend on name, directly or not.
func (r *Registry) Dependents(name string) []string {
	return r.graph.Dependents(name)
}

// Stores returns every store in dependency order.
func (r *Registry) Stores() []*store.Store {
	out := make([]*store.Store, 0, len(r.stores))
	for _, name := range r.graph.Order() {
		out = append(out, r.stores[name])
	}
	return out
}

// Snapshot returns the fields of every record, keyed by store name, with
// records in id order.
func (r *Registry) Snapshot() value.Object {
	snap := make(value.Object, len(r.stores))
	for name, s := range r.stores {
		recs := s.All()
		arr := make(value.Array, len(recs))
		for i, rec := range recs {
			arr[i] = rec.Fields()
		}
		snap[name] = arr
	}
	return snap
}

// Digest returns a canonical digest of Snapshot. Two registries that
// converged to the same records have the same digest.
func (r *Registry) Digest() (string, error) {
	return value.Digest(value.DomainSnapshot, r.Snapshot())
}

// AddReadyListener subscribes fn to readiness changes. fn receives
// EventReady or EventInvalidated and the store name.
func (r *Registry) AddReadyListener(fn dispatch.Listener[string]) dispatch.Handle {
	return r.ready.AddListener(fn, EventReady, EventInvalidated)
}

// RemoveReadyListener cancels a readiness subscription.
func (r *Registry) RemoveReadyListener(h dispatch.Handle) bool {
	return r.ready.RemoveListener(h)
}

// IsConfigError reports whether err is a configuration error: a
// *store.ConfigError or a *resolver.GraphError. The engine stops on them.
func IsConfigError(err error) bool {
	var ce *store.ConfigError
	var ge *resolver.GraphError
	return errors.As(err, &ce) || errors.As(err, &ge)
}
