// Package domain is the application's store catalog: the stores, indexes
// and custom events of a group chat client, with typed accessors over
// them.
package domain

import (
	"cmp"
	_ "embed"
	"fmt"
	"slices"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/schema"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/value"
)

//go:embed catalog.cue
var catalogCUE []byte

// Store names.
const (
	StoreCountry     = "Country"
	StoreTheme       = "Theme"
	StoreUser        = "User"
	StoreGroup       = "Group"
	StoreGroupMember = "GroupMember"
	StoreForum       = "Forum"
	StoreForumThread = "ForumThread"
	StoreTag         = "Tag"
)

// Index names.
const (
	IndexMembers     = "members"
	IndexThreads     = "threads"
	IndexTagChildren = "tagChildren"
)

// Custom events.
const (
	EventSetOnline  = "setOnline"
	EventNewMessage = "newMessage"
)

// Declarations returns the catalog schema with its custom handlers
// attached.
func Declarations() (*schema.Result, error) {
	res, err := schema.Compile("catalog.cue", catalogCUE)
	if err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	if err := res.Attach(StoreUser, EventSetOnline, setOnline); err != nil {
		return nil, err
	}
	if err := res.Attach(StoreForumThread, EventNewMessage, newMessage); err != nil {
		return nil, err
	}
	return res, nil
}

// setOnline sets a user's presence: {"online": bool}.
func setOnline(s *store.Store, rec *store.Record, ev event.Custom) error {
	if rec == nil {
		return fmt.Errorf("%s requires a target user", EventSetOnline)
	}
	online, ok := ev.Data["online"].(value.Bool)
	if !ok {
		return fmt.Errorf("%s: online must be a bool", EventSetOnline)
	}
	s.Patch(rec.ID(), value.Object{"online": online})
	return nil
}

// newMessage counts a message posted to a thread: {"messageId": int}.
func newMessage(s *store.Store, rec *store.Record, ev event.Custom) error {
	if rec == nil {
		return fmt.Errorf("%s requires a target thread", EventNewMessage)
	}
	id, ok := ev.Data["messageId"].(value.Int)
	if !ok {
		return fmt.Errorf("%s: messageId must be an int", EventNewMessage)
	}
	n, _ := rec.Int("numMessages")
	s.Patch(rec.ID(), value.Object{
		"numMessages":   value.Int(n + 1),
		"lastMessageId": id,
	})
	return nil
}

// Catalog wraps a registry built from the catalog schema.
type Catalog struct {
	reg         *registry.Registry
	members     *store.MemberIndex
	threads     *store.MemberIndex
	tagChildren *store.MemberIndex
	currentUser value.ID
}

// New builds a catalog. opts are appended to the catalog's own registry
// options, so callers can add a logger, resyncer or fetch policies.
func New(opts ...registry.Option) (*Catalog, error) {
	res, err := Declarations()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(res.Schemas, append(res.Options(nil), opts...)...)
	if err != nil {
		return nil, err
	}

	c := &Catalog{reg: reg}
	c.members, _ = reg.Index(IndexMembers)
	c.threads, _ = reg.Index(IndexThreads)
	c.tagChildren, _ = reg.Index(IndexTagChildren)
	return c, nil
}

// Registry returns the underlying registry.
func (c *Catalog) Registry() *registry.Registry { return c.reg }

// Apply routes an envelope through the registry.
func (c *Catalog) Apply(env event.Envelope) error { return c.reg.Apply(env) }

// Members returns a group's members by id.
func (c *Catalog) Members(groupID value.ID) []*store.Record {
	return c.members.Members(groupID)
}

// MemberByUser returns the membership of userID in a group.
func (c *Catalog) MemberByUser(groupID, userID value.ID) (*store.Record, bool) {
	return c.members.Lookup(groupID, userID)
}

// RemoveMember deletes a membership locally, ahead of the server's
// delete event.
func (c *Catalog) RemoveMember(groupID, memberID value.ID) (bool, error) {
	return c.members.Remove(groupID, memberID)
}

// Threads returns a forum's threads, most recently active first.
func (c *Catalog) Threads(forumID value.ID) []*store.Record {
	return c.threads.MembersBy(forumID, func(a, b *store.Record) int {
		la, _ := a.Int("lastMessageId")
		lb, _ := b.Int("lastMessageId")
		return cmp.Compare(lb, la)
	})
}

// TagChildren returns the direct children of a tag by rank.
func (c *Catalog) TagChildren(tagID value.ID) []*store.Record {
	return c.tagChildren.MembersBy(tagID, func(a, b *store.Record) int {
		ra, _ := a.Int("rank")
		rb, _ := b.Int("rank")
		return cmp.Compare(ra, rb)
	})
}

// TagPath returns the ids from the root tag down to tagID. A missing
// ancestor ends the path.
func (c *Catalog) TagPath(tagID value.ID) []value.ID {
	tags := c.reg.MustStore(StoreTag)
	var path []value.ID
	seen := make(map[value.ID]bool)
	for id := tagID; ; {
		rec, ok := tags.Get(id)
		if !ok || seen[id] {
			break
		}
		seen[id] = true
		path = append(path, id)
		parent, ok := rec.Ref("parentId")
		if !ok {
			break
		}
		id = parent
	}
	slices.Reverse(path)
	return path
}

// SetCurrentUser records the session's own user before the server
// confirms it. The server's create later merges into the same record.
func (c *Catalog) SetCurrentUser(fields value.Object) (*store.Record, error) {
	rec, err := c.reg.MustStore(StoreUser).FakeCreate(fields)
	if err != nil {
		return nil, err
	}
	c.currentUser = rec.ID()
	return rec, nil
}

// CurrentUser returns the session's own user, if set and still present.
func (c *Catalog) CurrentUser() (*store.Record, bool) {
	if !c.currentUser.Valid() {
		return nil, false
	}
	return c.reg.MustStore(StoreUser).Get(c.currentUser)
}
