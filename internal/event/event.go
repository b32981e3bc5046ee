// Package event defines the events applied to stores and the wire
// envelope that carries them from the transport.
//
// Events are tagged variants: Create, Update, Delete and Custom mutate a
// store's records; Synced and Reset are control events interpreted by the
// registry.
package event

import (
	"fmt"

	"github.com/roach88/livestore/internal/value"
)

// Kind distinguishes event variants.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindCustom Kind = "custom"
	KindSynced Kind = "synced"
	KindReset  Kind = "reset"
)

// Event is implemented by the variants in this package only.
type Event interface {
	Kind() Kind
	isEvent()
}

// Create inserts a record, or merges into the existing record with the
// same id. The id travels inside Data.
type Create struct {
	Data value.Object
}

// Update merges Data into the record with the given id.
type Update struct {
	ID   value.ID
	Data value.Object
}

// Delete removes the record with the given id.
type Delete struct {
	ID value.ID
}

// Custom is a store-specific event interpreted by a handler registered in
// the store's schema. ID is optional.
type Custom struct {
	Name string
	ID   value.ID
	Data value.Object
}

// Synced marks the end of a store's snapshot.
type Synced struct{}

// Reset discards a store's contents ahead of a fresh snapshot.
type Reset struct{}

func (Create) Kind() Kind { return KindCreate }
func (Update) Kind() Kind { return KindUpdate }
func (Delete) Kind() Kind { return KindDelete }
func (Custom) Kind() Kind { return KindCustom }
func (Synced) Kind() Kind { return KindSynced }
func (Reset) Kind() Kind  { return KindReset }

func (Create) isEvent() {}
func (Update) isEvent() {}
func (Delete) isEvent() {}
func (Custom) isEvent() {}
func (Synced) isEvent() {}
func (Reset) isEvent() {}

// TypeName returns the wire "type" of ev: the kind for built-in variants,
// the handler name for Custom.
func TypeName(ev Event) string {
	switch e := ev.(type) {
	case nil:
		return ""
	case Custom:
		return e.Name
	default:
		return string(ev.Kind())
	}
}

// ObjectID returns the id an event targets, if it has one.
func ObjectID(ev Event) (value.ID, bool) {
	switch e := ev.(type) {
	case Create:
		v, ok := e.Data["id"]
		if !ok {
			return value.ID{}, false
		}
		id, err := value.IDFromValue(v)
		return id, err == nil
	case Update:
		return e.ID, e.ID.Valid()
	case Delete:
		return e.ID, e.ID.Valid()
	case Custom:
		return e.ID, e.ID.Valid()
	default:
		return value.ID{}, false
	}
}

// IsMutation reports whether ev changes records (as opposed to a control
// event).
func IsMutation(ev Event) bool {
	switch ev.Kind() {
	case KindSynced, KindReset:
		return false
	default:
		return true
	}
}

// Envelope addresses an event to a store.
type Envelope struct {
	Store   string
	Channel string // opaque subscription key from the transport
	Event   Event
}

func (e Envelope) String() string {
	if e.Event == nil {
		return e.Store + " (no event)"
	}
	if id, ok := ObjectID(e.Event); ok {
		return fmt.Sprintf("%s %s#%s", TypeName(e.Event), e.Store, id)
	}
	return fmt.Sprintf("%s %s", TypeName(e.Event), e.Store)
}
