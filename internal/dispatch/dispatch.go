// Package dispatch implements a small synchronous publish/subscribe
// facility. Stores use it to notify derived indices and UI consumers of
// record changes; the registry uses it for readiness changes.
//
// Dispatch runs every listener of an event name in subscription order, in
// the calling goroutine. A failing listener (returned error or panic) does
// not stop the others; the failure goes to the dispatcher's ErrorReporter.
package dispatch

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Listener receives a dispatched payload. A returned error is reported,
// never propagated to the dispatching caller.
type Listener[T any] func(event string, payload T) error

// Handle identifies a subscription. The zero Handle is never issued.
type Handle uint64

// ErrorReporter receives listener failures.
type ErrorReporter func(err *ListenerError)

// ListenerError describes one failed listener invocation.
type ListenerError struct {
	Event  string
	Handle Handle
	Err    error // set when the listener returned an error
	Panic  any   // set when the listener panicked
}

func (e *ListenerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("listener %d for %q panicked: %v", e.Handle, e.Event, e.Panic)
	}
	return fmt.Sprintf("listener %d for %q failed: %v", e.Handle, e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// LogReporter returns an ErrorReporter that logs failures at error level.
func LogReporter(logger *slog.Logger) ErrorReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err *ListenerError) {
		logger.Error("listener failed",
			"event", err.Event,
			"handle", uint64(err.Handle),
			"error", err,
		)
	}
}

type subscription[T any] struct {
	handle  Handle
	fn      Listener[T]
	events  []string
	once    bool
	removed bool
}

// Dispatcher fans out named events to subscribers.
//
// The subscription table is guarded by a mutex so listeners may be added
// or removed from any goroutine. Listeners themselves run outside the lock
// and may subscribe, unsubscribe or dispatch re-entrantly.
type Dispatcher[T any] struct {
	mu     sync.Mutex
	next   Handle
	byName map[string][]*subscription[T]
	byID   map[Handle]*subscription[T]
	report ErrorReporter
}

// New creates a dispatcher. A nil reporter logs through slog.Default().
func New[T any](report ErrorReporter) *Dispatcher[T] {
	if report == nil {
		report = LogReporter(nil)
	}
	return &Dispatcher[T]{
		byName: make(map[string][]*subscription[T]),
		byID:   make(map[Handle]*subscription[T]),
		report: report,
	}
}

// AddListener subscribes fn to every named event. One handle covers all
// the names.
func (d *Dispatcher[T]) AddListener(fn Listener[T], events ...string) Handle {
	return d.add(fn, events, false)
}

// AddListenerOnce subscribes fn to the named events and removes the
// subscription before its first invocation, whichever name fires first.
func (d *Dispatcher[T]) AddListenerOnce(fn Listener[T], events ...string) Handle {
	return d.add(fn, events, true)
}

func (d *Dispatcher[T]) add(fn Listener[T], events []string, once bool) Handle {
	if fn == nil {
		panic("dispatch: nil listener")
	}
	if len(events) == 0 {
		panic("dispatch: listener registered without event names")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	sub := &subscription[T]{
		handle: d.next,
		fn:     fn,
		events: slices.Compact(slices.Sorted(slices.Values(events))),
		once:   once,
	}
	d.byID[sub.handle] = sub
	for _, name := range sub.events {
		d.byName[name] = append(d.byName[name], sub)
	}
	return sub.handle
}

// RemoveListener cancels a subscription. It reports whether the handle
// was still subscribed. A listener removed during a dispatch is not
// invoked by the remainder of that dispatch.
func (d *Dispatcher[T]) RemoveListener(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(h)
}

func (d *Dispatcher[T]) removeLocked(h Handle) bool {
	sub, ok := d.byID[h]
	if !ok {
		return false
	}
	sub.removed = true
	delete(d.byID, h)
	for _, name := range sub.events {
		subs := slices.DeleteFunc(slices.Clone(d.byName[name]), func(s *subscription[T]) bool {
			return s.handle == h
		})
		if len(subs) == 0 {
			delete(d.byName, name)
		} else {
			d.byName[name] = subs
		}
	}
	return true
}

// Dispatch invokes the listeners of event in subscription order and
// returns how many were invoked. Listeners added during the dispatch are
// not invoked by it.
func (d *Dispatcher[T]) Dispatch(event string, payload T) int {
	d.mu.Lock()
	subs := d.byName[event]
	d.mu.Unlock()

	invoked := 0
	for _, sub := range subs {
		if !d.claim(sub) {
			continue
		}
		invoked++
		if err := d.invoke(sub, event, payload); err != nil {
			d.report(err)
		}
	}
	return invoked
}

// claim checks that sub is still live and, for once-listeners, removes it
// so that a re-entrant dispatch cannot invoke it a second time.
func (d *Dispatcher[T]) claim(sub *subscription[T]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub.removed {
		return false
	}
	if sub.once {
		d.removeLocked(sub.handle)
	}
	return true
}

func (d *Dispatcher[T]) invoke(sub *subscription[T], event string, payload T) (lerr *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			lerr = &ListenerError{Event: event, Handle: sub.handle, Panic: r}
		}
	}()
	if err := sub.fn(event, payload); err != nil {
		return &ListenerError{Event: event, Handle: sub.handle, Err: err}
	}
	return nil
}

// Len returns the number of live listeners for event.
func (d *Dispatcher[T]) Len(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byName[event])
}
