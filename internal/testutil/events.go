package testutil

import (
	"fmt"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/value"
)

// Obj builds an object from alternating keys and values. Values go
// through value.FromAny, so plain Go ints, strings, bools, nil, slices and
// maps work. Obj panics on malformed input; it is meant for test literals.
//
//	testutil.Obj("id", 10, "groupId", 1, "userId", 7)
func Obj(kv ...any) value.Object {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("testutil.Obj: odd number of arguments (%d)", len(kv)))
	}
	obj := make(value.Object, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("testutil.Obj: key %d is %T, want string", i/2, kv[i]))
		}
		v, err := value.FromAny(kv[i+1])
		if err != nil {
			panic(fmt.Sprintf("testutil.Obj: %s: %v", key, err))
		}
		obj[key] = v
	}
	return obj
}

// ID converts an int or string into an id.
func ID(v any) value.ID {
	switch id := v.(type) {
	case int:
		return value.IntID(int64(id))
	case int64:
		return value.IntID(id)
	case string:
		return value.StringID(id)
	case value.ID:
		return id
	default:
		panic(fmt.Sprintf("testutil.ID: unsupported id type %T", v))
	}
}

// Create builds a create envelope; the id belongs in kv.
func Create(store string, kv ...any) event.Envelope {
	return event.Envelope{Store: store, Event: event.Create{Data: Obj(kv...)}}
}

// Update builds an update envelope.
func Update(store string, id any, kv ...any) event.Envelope {
	return event.Envelope{Store: store, Event: event.Update{ID: ID(id), Data: Obj(kv...)}}
}

// Delete builds a delete envelope.
func Delete(store string, id any) event.Envelope {
	return event.Envelope{Store: store, Event: event.Delete{ID: ID(id)}}
}

// Custom builds a custom event envelope. A nil id leaves the event
// without a target record.
func Custom(store, name string, id any, kv ...any) event.Envelope {
	ev := event.Custom{Name: name, Data: Obj(kv...)}
	if id != nil {
		ev.ID = ID(id)
	}
	return event.Envelope{Store: store, Event: ev}
}

// Synced builds a synced control envelope.
func Synced(store string) event.Envelope {
	return event.Envelope{Store: store, Event: event.Synced{}}
}

// Reset builds a reset control envelope.
func Reset(store string) event.Envelope {
	return event.Envelope{Store: store, Event: event.Reset{}}
}
