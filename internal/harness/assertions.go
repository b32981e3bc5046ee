package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual)
}

func evaluate(reg *registry.Registry, result *Result, a Assertion) error {
	switch a.Type {
	case AssertRecord:
		return assertRecord(reg, a)
	case AssertAbsent:
		return assertAbsent(reg, a)
	case AssertCount:
		return assertCount(reg, a)
	case AssertMembers:
		return assertMembers(reg, a)
	case AssertLookup:
		return assertLookup(reg, a)
	case AssertOrphans:
		return assertOrphans(reg, a)
	case AssertReady:
		return assertReady(reg, a)
	case AssertDeferred:
		return assertDeferred(reg, a)
	case AssertResync:
		return assertResync(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func lookupStore(reg *registry.Registry, name string) (*store.Store, error) {
	s, ok := reg.Store(name)
	if !ok {
		return nil, fmt.Errorf("unknown store %q", name)
	}
	return s, nil
}

func lookupIndex(reg *registry.Registry, name string) (*store.MemberIndex, error) {
	idx, ok := reg.Index(name)
	if !ok {
		return nil, fmt.Errorf("unknown index %q", name)
	}
	return idx, nil
}

// assertRecord checks that the record exists and that every expected
// field matches (subset semantics).
func assertRecord(reg *registry.Registry, a Assertion) error {
	s, err := lookupStore(reg, a.Store)
	if err != nil {
		return err
	}
	id, err := toID(a.ID)
	if err != nil {
		return err
	}
	rec, ok := s.Get(id)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record %s#%s", a.Store, id), Actual: "no record"}
	}

	want, err := value.ObjectFromMap(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	for _, field := range want.SortedKeys() {
		got, ok := rec.Get(field)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s.%s = %s", rec.Label(), field, render(want[field])), Actual: "field missing"}
		}
		if !value.Equal(got, want[field]) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s.%s = %s", rec.Label(), field, render(want[field])), Actual: render(got)}
		}
	}
	return nil
}

func assertAbsent(reg *registry.Registry, a Assertion) error {
	s, err := lookupStore(reg, a.Store)
	if err != nil {
		return err
	}
	id, err := toID(a.ID)
	if err != nil {
		return err
	}
	if rec, ok := s.Get(id); ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("no record %s#%s", a.Store, id), Actual: render(rec.Fields())}
	}
	return nil
}

func assertCount(reg *registry.Registry, a Assertion) error {
	s, err := lookupStore(reg, a.Store)
	if err != nil {
		return err
	}
	if n := s.Len(); n != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d records in %s", *a.Count, a.Store), Actual: fmt.Sprintf("%d", n)}
	}
	return nil
}

func assertMembers(reg *registry.Registry, a Assertion) error {
	idx, err := lookupIndex(reg, a.Index)
	if err != nil {
		return err
	}
	parent, err := toID(a.Parent)
	if err != nil {
		return err
	}
	want, err := toIDs(a.IDs)
	if err != nil {
		return err
	}
	got := recordIDs(idx.Members(parent))
	if !slices.Equal(got, want) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s[%s] = %s", a.Index, parent, formatIDs(want)), Actual: formatIDs(got)}
	}
	return nil
}

func assertLookup(reg *registry.Registry, a Assertion) error {
	idx, err := lookupIndex(reg, a.Index)
	if err != nil {
		return err
	}
	parent, err := toID(a.Parent)
	if err != nil {
		return err
	}
	key, err := toID(a.Key)
	if err != nil {
		return err
	}
	want, err := toID(a.ID)
	if err != nil {
		return err
	}
	expected := fmt.Sprintf("%s[%s][%s] = %s", a.Index, parent, key, want)
	rec, ok := idx.Lookup(parent, key)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: "no entry"}
	}
	if rec.ID() != want {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: rec.ID().String()}
	}
	return nil
}

func assertOrphans(reg *registry.Registry, a Assertion) error {
	idx, err := lookupIndex(reg, a.Index)
	if err != nil {
		return err
	}
	want, err := toIDs(a.IDs)
	if err != nil {
		return err
	}
	got := idx.Orphans()
	if !slices.Equal(got, want) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("orphans of %s = %s", a.Index, formatIDs(want)), Actual: formatIDs(got)}
	}
	return nil
}

func assertReady(reg *registry.Registry, a Assertion) error {
	if _, err := lookupStore(reg, a.Store); err != nil {
		return err
	}
	if got := reg.Ready(a.Store); got != *a.Ready {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s ready = %t", a.Store, *a.Ready), Actual: fmt.Sprintf("%t", got)}
	}
	return nil
}

func assertDeferred(reg *registry.Registry, a Assertion) error {
	if _, err := lookupStore(reg, a.Store); err != nil {
		return err
	}
	if n := reg.Deferred(a.Store); n != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d deferred for %s", *a.Count, a.Store), Actual: fmt.Sprintf("%d", n)}
	}
	return nil
}

func assertResync(result *Result, a Assertion) error {
	for _, stores := range result.Resyncs {
		if slices.Equal(stores, a.Stores) {
			return nil
		}
	}
	got := make([]string, len(result.Resyncs))
	for i, stores := range result.Resyncs {
		got[i] = "[" + strings.Join(stores, " ") + "]"
	}
	return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("resync [%s]", strings.Join(a.Stores, " ")), Actual: fmt.Sprintf("%v", got)}
}

func recordIDs(recs []*store.Record) []value.ID {
	ids := make([]value.ID, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID()
	}
	return ids
}

func formatIDs(ids []value.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func render(v value.Value) string {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
