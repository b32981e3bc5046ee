package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/value"
)

// CustomHandler interprets a store-specific event. rec is the target
// record when the event carries an id, nil otherwise. Handlers mutate
// through Store.Patch so that update listeners observe the change.
type CustomHandler func(s *Store, rec *Record, ev event.Custom) error

// Schema describes one kind of record and the store that holds it.
type Schema struct {
	// Name is the unique store name, e.g. "GroupMember".
	Name string

	// Dependencies lists stores whose records this store references.
	// Events for this store are held back until every dependency is ready.
	Dependencies []string

	// Required lists fields every create payload must carry. The id is
	// always required and need not be listed.
	Required []string

	// Fields optionally declares the kind of a field. Payloads carrying a
	// different non-null kind are dropped.
	Fields map[string]value.Kind

	// AwaitSnapshot makes the store unsynced until its "synced" control
	// event arrives. Stores without it are synced from the start.
	AwaitSnapshot bool

	// Custom maps custom event names to their handlers.
	Custom map[string]CustomHandler
}

// Validate checks the schema on its own. Cross-store problems (unknown
// dependencies, cycles) are the resolver's concern.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return configErrorf(ErrCodeInvalidSchema, "", "store name is required")
	}
	for _, dep := range s.Dependencies {
		if dep == "" {
			return configErrorf(ErrCodeInvalidSchema, s.Name, "empty dependency name")
		}
	}
	if d := firstDuplicate(s.Dependencies); d != "" {
		return configErrorf(ErrCodeInvalidSchema, s.Name, "dependency %q listed twice", d)
	}
	for _, f := range s.Required {
		if f == "" {
			return configErrorf(ErrCodeInvalidSchema, s.Name, "empty required field name")
		}
	}
	for name, kind := range s.Fields {
		if _, err := value.ParseKind(string(kind)); err != nil {
			return configErrorf(ErrCodeInvalidSchema, s.Name, "field %q: %v", name, err)
		}
	}
	if k, ok := s.Fields["id"]; ok && k != value.KindInt && k != value.KindString {
		return configErrorf(ErrCodeInvalidSchema, s.Name, "field \"id\" must be int or string, got %s", k)
	}
	for name, h := range s.Custom {
		if h == nil {
			return configErrorf(ErrCodeInvalidSchema, s.Name, "custom event %q has no handler", name)
		}
		switch event.Kind(name) {
		case event.KindCreate, event.KindUpdate, event.KindDelete, event.KindCustom,
			event.KindSynced, event.KindReset:
			return configErrorf(ErrCodeInvalidSchema, s.Name, "custom event %q shadows a built-in event", name)
		}
	}
	return nil
}

// checkKinds reports the first field whose kind contradicts the schema.
func (s Schema) checkKinds(data value.Object) error {
	if len(s.Fields) == 0 {
		return nil
	}
	for _, name := range data.SortedKeys() {
		want, ok := s.Fields[name]
		if !ok {
			continue
		}
		got := value.KindOf(data[name])
		if got != value.KindNull && got != want {
			return fmt.Errorf("field %q: want %s, got %s", name, want, got)
		}
	}
	return nil
}

func firstDuplicate(names []string) string {
	sorted := slices.Sorted(slices.Values(names))
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return sorted[i]
		}
	}
	return ""
}
