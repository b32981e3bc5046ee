package store

import (
	"slices"

	"github.com/roach88/livestore/internal/value"
)

// Record is one domain object held by a store.
//
// A Record is mutated in place by its owning store; every *Record handed
// out stays valid and observes later updates until the record is deleted.
// Readers must not retain values returned by Get across mutations if they
// need a stable copy; use Fields for that.
type Record struct {
	kind   string
	id     value.ID
	fields value.Object
	fake   bool
}

func newRecord(kind string, id value.ID, data value.Object) *Record {
	fields := data.Clone()
	fields["id"] = id.Value()
	return &Record{kind: kind, id: id, fields: fields}
}

// Kind returns the name of the owning store.
func (r *Record) Kind() string { return r.kind }

// ID returns the record id.
func (r *Record) ID() value.ID { return r.id }

// IsFake reports whether the record was synthesized locally and has not
// yet been confirmed by a server create.
func (r *Record) IsFake() bool { return r.fake }

// Get returns a field value.
func (r *Record) Get(field string) (value.Value, bool) {
	v, ok := r.fields[field]
	return v, ok
}

// String returns a string field, or "" when absent or not a string.
func (r *Record) String(field string) string {
	s, _ := r.fields[field].(value.String)
	return string(s)
}

// Int returns an integer field.
func (r *Record) Int(field string) (int64, bool) {
	n, ok := r.fields[field].(value.Int)
	return int64(n), ok
}

// Bool returns a boolean field, false when absent.
func (r *Record) Bool(field string) bool {
	b, _ := r.fields[field].(value.Bool)
	return bool(b)
}

// Ref returns a foreign id stored in field (by convention a "...Id"
// field). It reports false when the field is absent, null or not an id.
func (r *Record) Ref(field string) (value.ID, bool) {
	v, ok := r.fields[field]
	if !ok {
		return value.ID{}, false
	}
	id, err := value.IDFromValue(v)
	if err != nil {
		return value.ID{}, false
	}
	return id, true
}

// Fields returns a deep copy of the record's fields, id included.
func (r *Record) Fields() value.Object {
	return r.fields.Clone()
}

// Label renders the record as "Kind#id" for logs.
func (r *Record) Label() string { return r.kind + "#" + r.id.String() }

// merge folds patch into the record. The id field is immutable and is
// skipped. Fields whose value does not change are not reported.
func (r *Record) merge(patch value.Object) Diff {
	var diff Diff
	for _, name := range patch.SortedKeys() {
		if name == "id" {
			continue
		}
		next := patch[name]
		prev, had := r.fields[name]
		if had && value.Equal(prev, next) {
			continue
		}
		if diff == nil {
			diff = make(Diff)
		}
		r.fields[name] = value.Clone(next)
		diff[name] = FieldChange{Old: prev, New: r.fields[name]}
	}
	return diff
}

// FieldChange is the old and new value of one field. Old is nil when the
// field was absent before the change.
type FieldChange struct {
	Old value.Value
	New value.Value
}

// Diff lists the fields changed by one mutation.
type Diff map[string]FieldChange

// Has reports whether any of the named fields changed.
func (d Diff) Has(fields ...string) bool {
	for _, f := range fields {
		if _, ok := d[f]; ok {
			return true
		}
	}
	return false
}

// Fields returns the changed field names in sorted order.
func (d Diff) Fields() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SortByID sorts records by id: integer ids numerically, then string ids.
func SortByID(recs []*Record) {
	slices.SortFunc(recs, func(a, b *Record) int {
		return value.CompareIDs(a.id, b.id)
	})
}
