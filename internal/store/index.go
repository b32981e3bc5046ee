package store

import (
	"fmt"
	"slices"

	"github.com/roach88/livestore/internal/dispatch"
	"github.com/roach88/livestore/internal/value"
)

// OrphanPolicy decides what happens to a child whose parent is absent
// when the child is indexed.
type OrphanPolicy int

const (
	// Backfill remembers orphaned children and attaches them once their
	// parent is created. The index then always equals a rebuild.
	Backfill OrphanPolicy = iota

	// Skip leaves orphaned children out of the index until the next
	// Rebuild, even after their parent arrives.
	Skip
)

func (p OrphanPolicy) String() string {
	switch p {
	case Backfill:
		return "backfill"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("OrphanPolicy(%d)", int(p))
	}
}

// ParseOrphanPolicy converts "backfill" or "skip". The empty string
// selects Backfill.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch s {
	case "", "backfill":
		return Backfill, nil
	case "skip":
		return Skip, nil
	default:
		return 0, fmt.Errorf("unknown orphan policy %q", s)
	}
}

// IndexConfig declares a MemberIndex.
type IndexConfig struct {
	Name      string
	Key       string // child field holding the parent id
	Secondary string // optional child field for reverse lookup
	Orphans   OrphanPolicy
}

type placement struct {
	parent       value.ID
	secondary    value.ID
	hasSecondary bool
}

type members struct {
	byChild     map[value.ID]*Record
	bySecondary map[value.ID]map[value.ID]*Record
}

// MemberIndex groups the records of a child store by a foreign key into a
// parent store, e.g. group members by group. It is maintained from the
// stores' notifications and can always be rebuilt from their contents.
//
// Parent and child may be the same store (tags by parent tag).
type MemberIndex struct {
	cfg     IndexConfig
	parent  *Store
	child   *Store
	entries map[value.ID]*members
	placed  map[value.ID]placement
	orphans map[value.ID]map[value.ID]struct{} // missing parent id -> child ids
	handles []handleRef
}

type handleRef struct {
	store  *Store
	handle dispatch.Handle
}

// NewMemberIndex builds an index over the current contents of parent and
// child and subscribes to their notifications.
func NewMemberIndex(parent, child *Store, cfg IndexConfig) (*MemberIndex, error) {
	if parent == nil || child == nil {
		return nil, configErrorf(ErrCodeInvalidSchema, "", "index %q: parent and child stores are required", cfg.Name)
	}
	if cfg.Key == "" {
		return nil, configErrorf(ErrCodeInvalidSchema, child.Name(), "index %q: key field is required", cfg.Name)
	}
	if cfg.Key == "id" || cfg.Secondary == "id" {
		return nil, configErrorf(ErrCodeInvalidSchema, child.Name(), "index %q: the id field cannot be an index key", cfg.Name)
	}
	if cfg.Orphans != Backfill && cfg.Orphans != Skip {
		return nil, configErrorf(ErrCodeInvalidSchema, child.Name(), "index %q: invalid orphan policy %s", cfg.Name, cfg.Orphans)
	}

	idx := &MemberIndex{cfg: cfg, parent: parent, child: child}
	idx.Rebuild()

	if parent == child {
		idx.subscribe(child, idx.onSelf, EventCreate, EventUpdate, EventDelete, EventReset)
	} else {
		idx.subscribe(child, idx.onChild, EventCreate, EventUpdate, EventDelete, EventReset)
		idx.subscribe(parent, idx.onParent, EventCreate, EventDelete, EventReset)
	}
	return idx, nil
}

// Config returns the index declaration.
func (idx *MemberIndex) Config() IndexConfig { return idx.cfg }

func (idx *MemberIndex) subscribe(s *Store, fn Listener, types ...string) {
	h := s.AddListener(fn, types...)
	idx.handles = append(idx.handles, handleRef{store: s, handle: h})
}

// Close unsubscribes the index from both stores.
func (idx *MemberIndex) Close() {
	for _, ref := range idx.handles {
		ref.store.RemoveListener(ref.handle)
	}
	idx.handles = nil
}

func (idx *MemberIndex) onChild(name string, n Notification) error {
	switch name {
	case EventCreate:
		idx.place(n.Record)
	case EventUpdate:
		if n.Diff.Has(idx.cfg.Key) || (idx.cfg.Secondary != "" && n.Diff.Has(idx.cfg.Secondary)) {
			idx.unplace(n.Record.ID())
			idx.place(n.Record)
		}
	case EventDelete:
		idx.unplace(n.Record.ID())
	case EventReset:
		idx.Rebuild()
	}
	return nil
}

func (idx *MemberIndex) onParent(name string, n Notification) error {
	switch name {
	case EventCreate:
		idx.adopt(n.Record.ID())
	case EventDelete:
		idx.dropParent(n.Record.ID())
	case EventReset:
		idx.Rebuild()
	}
	return nil
}

func (idx *MemberIndex) onSelf(name string, n Notification) error {
	switch name {
	case EventCreate:
		idx.place(n.Record)
		idx.adopt(n.Record.ID())
	case EventUpdate:
		return idx.onChild(name, n)
	case EventDelete:
		idx.unplace(n.Record.ID())
		idx.dropParent(n.Record.ID())
	case EventReset:
		idx.Rebuild()
	}
	return nil
}

// place indexes rec under its parent, or records it as an orphan. A
// missing parent is requested when the parent store has a fetcher.
func (idx *MemberIndex) place(rec *Record) {
	parentID, ok := rec.Ref(idx.cfg.Key)
	if !ok {
		return
	}
	if _, ok := idx.parent.GetOrRequest(parentID); !ok {
		if idx.cfg.Orphans == Backfill {
			set := idx.orphans[parentID]
			if set == nil {
				set = make(map[value.ID]struct{})
				idx.orphans[parentID] = set
			}
			set[rec.ID()] = struct{}{}
		}
		return
	}

	p := placement{parent: parentID}
	if idx.cfg.Secondary != "" {
		p.secondary, p.hasSecondary = rec.Ref(idx.cfg.Secondary)
	}

	m := idx.entries[parentID]
	if m == nil {
		m = &members{
			byChild:     make(map[value.ID]*Record),
			bySecondary: make(map[value.ID]map[value.ID]*Record),
		}
		idx.entries[parentID] = m
	}
	m.byChild[rec.ID()] = rec
	if p.hasSecondary {
		bucket := m.bySecondary[p.secondary]
		if bucket == nil {
			bucket = make(map[value.ID]*Record)
			m.bySecondary[p.secondary] = bucket
		}
		bucket[rec.ID()] = rec
	}
	idx.placed[rec.ID()] = p
}

// unplace removes a child from the index and from the orphan set.
func (idx *MemberIndex) unplace(childID value.ID) {
	for parentID, set := range idx.orphans {
		if _, ok := set[childID]; ok {
			delete(set, childID)
			if len(set) == 0 {
				delete(idx.orphans, parentID)
			}
		}
	}

	p, ok := idx.placed[childID]
	if !ok {
		return
	}
	delete(idx.placed, childID)
	m := idx.entries[p.parent]
	if m == nil {
		return
	}
	delete(m.byChild, childID)
	if p.hasSecondary {
		if bucket := m.bySecondary[p.secondary]; bucket != nil {
			delete(bucket, childID)
			if len(bucket) == 0 {
				delete(m.bySecondary, p.secondary)
			}
		}
	}
	if len(m.byChild) == 0 {
		delete(idx.entries, p.parent)
	}
}

// adopt attaches children that were waiting for parentID.
func (idx *MemberIndex) adopt(parentID value.ID) {
	set, ok := idx.orphans[parentID]
	if !ok {
		return
	}
	delete(idx.orphans, parentID)
	ids := make([]value.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, value.CompareIDs)
	for _, id := range ids {
		if rec, ok := idx.child.Get(id); ok {
			idx.place(rec)
		}
	}
}

// dropParent forgets a deleted parent's entry. Under Backfill its
// children become orphans again so a recreated parent gets them back.
func (idx *MemberIndex) dropParent(parentID value.ID) {
	m, ok := idx.entries[parentID]
	if !ok {
		return
	}
	for childID := range m.byChild {
		delete(idx.placed, childID)
		if idx.cfg.Orphans == Backfill {
			set := idx.orphans[parentID]
			if set == nil {
				set = make(map[value.ID]struct{})
				idx.orphans[parentID] = set
			}
			set[childID] = struct{}{}
		}
	}
	delete(idx.entries, parentID)
}

// Rebuild discards the index and reconstructs it from the current
// contents of the child store.
func (idx *MemberIndex) Rebuild() {
	idx.entries = make(map[value.ID]*members)
	idx.placed = make(map[value.ID]placement)
	idx.orphans = make(map[value.ID]map[value.ID]struct{})
	for _, rec := range idx.child.All() {
		idx.place(rec)
	}
}

// Members returns the children of parentID sorted by child id.
func (idx *MemberIndex) Members(parentID value.ID) []*Record {
	m, ok := idx.entries[parentID]
	if !ok {
		return nil
	}
	recs := make([]*Record, 0, len(m.byChild))
	for _, rec := range m.byChild {
		recs = append(recs, rec)
	}
	SortByID(recs)
	return recs
}

// MembersBy returns the children of parentID ordered by cmp, with ties
// broken by id.
func (idx *MemberIndex) MembersBy(parentID value.ID, cmp func(a, b *Record) int) []*Record {
	recs := idx.Members(parentID)
	slices.SortStableFunc(recs, cmp)
	return recs
}

// Lookup returns the child of parentID whose secondary field equals key.
// When several children share the key the lowest id wins.
func (idx *MemberIndex) Lookup(parentID, key value.ID) (*Record, bool) {
	m, ok := idx.entries[parentID]
	if !ok {
		return nil, false
	}
	bucket := m.bySecondary[key]
	var best *Record
	for _, rec := range bucket {
		if best == nil || value.CompareIDs(rec.ID(), best.ID()) < 0 {
			best = rec
		}
	}
	return best, best != nil
}

// Parents returns the ids of parents with at least one member, sorted.
func (idx *MemberIndex) Parents() []value.ID {
	ids := make([]value.ID, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, value.CompareIDs)
	return ids
}

// Orphans returns the ids of children waiting for an absent parent,
// sorted. It is always empty under Skip.
func (idx *MemberIndex) Orphans() []value.ID {
	var ids []value.ID
	for _, set := range idx.orphans {
		for id := range set {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, value.CompareIDs)
	return ids
}

// Snapshot returns parent id -> sorted child ids.
func (idx *MemberIndex) Snapshot() map[value.ID][]value.ID {
	out := make(map[value.ID][]value.ID, len(idx.entries))
	for parentID := range idx.entries {
		recs := idx.Members(parentID)
		ids := make([]value.ID, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID()
		}
		out[parentID] = ids
	}
	return out
}

// Remove is the domain deletion of a membership: the child leaves the
// index and a delete is applied to the child store so that every other
// listener observes it. It reports false when childID is not a member of
// parentID.
func (idx *MemberIndex) Remove(parentID, childID value.ID) (bool, error) {
	p, ok := idx.placed[childID]
	if !ok || p.parent != parentID {
		return false, nil
	}
	idx.unplace(childID)
	if err := idx.child.ApplyDelete(childID); err != nil {
		return true, err
	}
	return true, nil
}
