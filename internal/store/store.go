// Package store implements the reactive object store: an in-memory,
// id-indexed table of records of one kind, mutated by events and observed
// through listeners.
//
// A Store has a single writer. Every Apply* call mutates the table and
// then notifies listeners synchronously, in the calling goroutine, so a
// listener always observes the store in its post-mutation state.
package store

import (
	"fmt"
	"log/slog"

	"github.com/roach88/livestore/internal/dispatch"
	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/value"
)

// Names of the notifications a store dispatches. Custom events are
// dispatched under their own name after their handler ran.
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
	EventReset  = "reset"
)

// Notification is the payload delivered to store listeners.
type Notification struct {
	Store  string
	Record *Record       // nil for reset and for custom events without an id
	Diff   Diff          // set for update
	Custom *event.Custom // set for custom events
}

// Listener receives store notifications.
type Listener = dispatch.Listener[Notification]

// Store holds the records of one kind.
type Store struct {
	schema  Schema
	records map[value.ID]*Record
	events  *dispatch.Dispatcher[Notification]
	logger  *slog.Logger
	fetch   *fetchQueue
}

type options struct {
	logger  *slog.Logger
	report  dispatch.ErrorReporter
	policy  FetchPolicy
	fetcher Fetcher
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithErrorReporter sets where listener failures go. Default: an error
// log on the store's logger.
func WithErrorReporter(report dispatch.ErrorReporter) Option {
	return func(o *options) {
		o.report = report
	}
}

// WithFetcher enables GetOrRequest: ids missing from the store are
// batched according to policy and handed to f.
func WithFetcher(policy FetchPolicy, f Fetcher) Option {
	return func(o *options) {
		o.policy = policy
		o.fetcher = f
	}
}

// New creates an empty store for schema.
func New(schema Schema, opts ...Option) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("store", schema.Name)
	if o.report == nil {
		o.report = dispatch.LogReporter(logger)
	}

	s := &Store{
		schema:  schema,
		records: make(map[value.ID]*Record),
		events:  dispatch.New[Notification](o.report),
		logger:  logger,
	}
	if o.fetcher != nil {
		s.fetch = newFetchQueue(schema.Name, o.policy, o.fetcher)
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.schema.Name }

// Schema returns the store's schema.
func (s *Store) Schema() Schema { return s.schema }

// Get returns the record with the given id. A missing id is a normal
// outcome, not an error.
func (s *Store) Get(id value.ID) (*Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// All returns the current records sorted by id.
func (s *Store) All() []*Record {
	recs := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	SortByID(recs)
	return recs
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Apply applies one event to the store. Synced is a no-op at this level;
// readiness is tracked by the registry.
func (s *Store) Apply(ev event.Event) error {
	switch e := ev.(type) {
	case event.Create:
		return s.ApplyCreate(e.Data)
	case event.Update:
		return s.ApplyUpdate(e.ID, e.Data)
	case event.Delete:
		return s.ApplyDelete(e.ID)
	case event.Custom:
		return s.ApplyCustom(e)
	case event.Reset:
		s.Reset()
		return nil
	case event.Synced:
		return nil
	default:
		return fmt.Errorf("store %s: unsupported event %T", s.schema.Name, ev)
	}
}

// ApplyCreate inserts a record built from data. When a record with the
// same id exists the payload is merged into it instead, keeping the
// existing *Record, and a fake record becomes real.
//
// A payload without an id is a *ConfigError, and so is a new record
// without a required field; a merge only needs the id. A payload whose
// field kinds contradict the schema is dropped.
func (s *Store) ApplyCreate(data value.Object) error {
	id, err := s.payloadID(data)
	if err != nil {
		return err
	}
	if err := s.schema.checkKinds(data); err != nil {
		s.logger.Warn("dropping create", "id", id.String(), "reason", err.Error())
		return nil
	}

	if rec, ok := s.records[id]; ok {
		wasFake := rec.fake
		rec.fake = false
		s.fetchDone(id)
		diff := rec.merge(data)
		if len(diff) > 0 || wasFake {
			s.events.Dispatch(EventUpdate, Notification{Store: s.schema.Name, Record: rec, Diff: diff})
		}
		return nil
	}

	for _, field := range s.schema.Required {
		if _, ok := data[field]; !ok {
			return configErrorf(ErrCodeMissingField, s.schema.Name,
				"create %s#%s: missing required field %q", s.schema.Name, id, field)
		}
	}
	rec := newRecord(s.schema.Name, id, data)
	s.records[id] = rec
	s.fetchDone(id)
	s.events.Dispatch(EventCreate, Notification{Store: s.schema.Name, Record: rec})
	return nil
}

// ApplyUpdate merges patch into the record with the given id. An update
// for an unknown id is stale: it is logged at debug level and dropped.
func (s *Store) ApplyUpdate(id value.ID, patch value.Object) error {
	if !id.Valid() {
		return configErrorf(ErrCodeMissingID, s.schema.Name, "update without id")
	}
	if _, ok := s.records[id]; !ok {
		s.logger.Debug("dropping stale update", "id", id.String())
		return nil
	}
	s.Patch(id, patch)
	return nil
}

// Patch merges fields into an existing record and notifies update
// listeners when anything changed. Custom handlers mutate records through
// it. It reports false when the id is unknown.
func (s *Store) Patch(id value.ID, fields value.Object) (Diff, bool) {
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	if err := s.schema.checkKinds(fields); err != nil {
		s.logger.Warn("dropping update", "id", id.String(), "reason", err.Error())
		return nil, true
	}
	diff := rec.merge(fields)
	if len(diff) > 0 {
		s.events.Dispatch(EventUpdate, Notification{Store: s.schema.Name, Record: rec, Diff: diff})
	}
	return diff, true
}

// ApplyDelete removes the record with the given id and notifies delete
// listeners with the removed record. Deleting an unknown id is a no-op.
func (s *Store) ApplyDelete(id value.ID) error {
	if !id.Valid() {
		return configErrorf(ErrCodeMissingID, s.schema.Name, "delete without id")
	}
	rec, ok := s.records[id]
	if !ok {
		s.logger.Debug("dropping stale delete", "id", id.String())
		return nil
	}
	delete(s.records, id)
	s.events.Dispatch(EventDelete, Notification{Store: s.schema.Name, Record: rec})
	return nil
}

// ApplyCustom runs the schema's handler for ev and then dispatches ev's
// name to listeners. Unknown event names are dropped with a warning; an
// event targeting an unknown id is stale and dropped.
func (s *Store) ApplyCustom(ev event.Custom) error {
	handler, ok := s.schema.Custom[ev.Name]
	if !ok {
		s.logger.Warn("dropping unknown custom event", "event", ev.Name)
		return nil
	}

	var rec *Record
	if ev.ID.Valid() {
		rec, ok = s.records[ev.ID]
		if !ok {
			s.logger.Debug("dropping stale custom event", "event", ev.Name, "id", ev.ID.String())
			return nil
		}
	}

	if err := handler(s, rec, ev); err != nil {
		return fmt.Errorf("custom event %s on %s: %w", ev.Name, s.schema.Name, err)
	}
	s.events.Dispatch(ev.Name, Notification{Store: s.schema.Name, Record: rec, Custom: &ev})
	return nil
}

// FakeCreate synthesizes a local record outside the event pipeline, for
// example the session's own user before the server confirms it. A later
// create for the same id merges into the same *Record.
func (s *Store) FakeCreate(data value.Object) (*Record, error) {
	id, err := s.payloadID(data)
	if err != nil {
		return nil, err
	}
	if err := s.schema.checkKinds(data); err != nil {
		return nil, configErrorf(ErrCodeInvalidSchema, s.schema.Name, "fake create %s: %v", id, err)
	}

	if rec, ok := s.records[id]; ok {
		s.Patch(id, data)
		return rec, nil
	}

	rec := newRecord(s.schema.Name, id, data)
	rec.fake = true
	s.records[id] = rec
	s.events.Dispatch(EventCreate, Notification{Store: s.schema.Name, Record: rec})
	return rec, nil
}

// Reset drops every record and notifies reset listeners. Derived indices
// rebuild on it.
func (s *Store) Reset() {
	s.records = make(map[value.ID]*Record)
	if s.fetch != nil {
		s.fetch.reset()
	}
	s.logger.Debug("store reset")
	s.events.Dispatch(EventReset, Notification{Store: s.schema.Name})
}

// AddCreateListener subscribes fn to record creation.
func (s *Store) AddCreateListener(fn Listener) dispatch.Handle {
	return s.events.AddListener(fn, EventCreate)
}

// AddUpdateListener subscribes fn to record updates.
func (s *Store) AddUpdateListener(fn Listener) dispatch.Handle {
	return s.events.AddListener(fn, EventUpdate)
}

// AddDeleteListener subscribes fn to record deletion.
func (s *Store) AddDeleteListener(fn Listener) dispatch.Handle {
	return s.events.AddListener(fn, EventDelete)
}

// AddListener subscribes fn to the named notifications: create, update,
// delete, reset or a custom event name.
func (s *Store) AddListener(fn Listener, types ...string) dispatch.Handle {
	return s.events.AddListener(fn, types...)
}

// AddListenerOnce subscribes fn to the first of the named notifications.
func (s *Store) AddListenerOnce(fn Listener, types ...string) dispatch.Handle {
	return s.events.AddListenerOnce(fn, types...)
}

// RemoveListener cancels a subscription.
func (s *Store) RemoveListener(h dispatch.Handle) bool {
	return s.events.RemoveListener(h)
}

func (s *Store) payloadID(data value.Object) (value.ID, error) {
	raw, ok := data["id"]
	if !ok {
		return value.ID{}, configErrorf(ErrCodeMissingID, s.schema.Name, "create payload has no id")
	}
	id, err := value.IDFromValue(raw)
	if err != nil {
		return value.ID{}, configErrorf(ErrCodeMissingID, s.schema.Name, "create payload id: %v", err)
	}
	return id, nil
}
