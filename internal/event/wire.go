package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/livestore/internal/value"
)

// DecodeError reports a malformed wire message.
type DecodeError struct {
	Index   int // position within a batch, -1 for a single envelope
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	prefix := "decode envelope"
	if e.Index >= 0 {
		prefix = fmt.Sprintf("decode envelope [%d]", e.Index)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type wireEnvelope struct {
	Store    string          `json:"store"`
	Type     string          `json:"type"`
	ObjectID json.RawMessage `json:"object_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Channel  string          `json:"channel,omitempty"`
}

// Decode parses one wire message. A message is a single envelope object
// or an array of envelopes.
//
// A malformed entry of a batch does not discard the batch: Decode
// returns the entries it could decode, in order, together with an error
// joining one *DecodeError per skipped entry. Unknown envelope keys are
// ignored.
func Decode(data []byte) ([]Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Index: -1, Message: "empty message"}
	}

	if trimmed[0] != '[' {
		env, err := decodeOne(trimmed, -1)
		if err != nil {
			return nil, err
		}
		return []Envelope{env}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, &DecodeError{Index: -1, Message: "invalid batch", Err: err}
	}
	envs := make([]Envelope, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		env, err := decodeOne(raw, i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		envs = append(envs, env)
	}
	return envs, errors.Join(errs...)
}

func decodeOne(data []byte, index int) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, &DecodeError{Index: index, Message: "invalid envelope", Err: err}
	}

	var id value.ID
	if len(w.ObjectID) > 0 {
		if err := id.UnmarshalJSON(w.ObjectID); err != nil {
			return Envelope{}, &DecodeError{Index: index, Message: "invalid object_id", Err: err}
		}
	}

	var payload value.Object
	if len(w.Data) > 0 && !bytes.Equal(bytes.TrimSpace(w.Data), []byte("null")) {
		obj, err := value.ParseObject(w.Data)
		if err != nil {
			return Envelope{}, &DecodeError{Index: index, Message: "invalid data", Err: err}
		}
		payload = obj
	}

	env, err := Build(w.Store, w.Type, id, payload)
	if err != nil {
		return Envelope{}, &DecodeError{Index: index, Message: err.Error()}
	}
	env.Channel = w.Channel
	return env, nil
}

// Build assembles an envelope from its wire parts. The journal and the
// scenario harness use it to turn stored rows back into events.
//
// For create events an object id is copied into the payload when the
// payload has no id of its own; a create with no id at all is returned as
// is, and rejected by the store. Update and delete require an id, from
// objectID or from the payload.
func Build(store, typ string, objectID value.ID, data value.Object) (Envelope, error) {
	if store == "" {
		return Envelope{}, fmt.Errorf("store is required")
	}
	if typ == "" {
		return Envelope{}, fmt.Errorf("type is required")
	}

	if !objectID.Valid() {
		if v, ok := data["id"]; ok {
			if id, err := value.IDFromValue(v); err == nil {
				objectID = id
			}
		}
	}

	env := Envelope{Store: store}
	switch Kind(typ) {
	case KindCreate:
		payload := data.Clone()
		if payload == nil {
			payload = value.Object{}
		}
		if _, ok := payload["id"]; !ok && objectID.Valid() {
			payload["id"] = objectID.Value()
		}
		env.Event = Create{Data: payload}
	case KindUpdate:
		if !objectID.Valid() {
			return Envelope{}, fmt.Errorf("update on %s requires object_id", store)
		}
		env.Event = Update{ID: objectID, Data: data.Clone()}
	case KindDelete:
		if !objectID.Valid() {
			return Envelope{}, fmt.Errorf("delete on %s requires object_id", store)
		}
		env.Event = Delete{ID: objectID}
	case KindSynced:
		env.Event = Synced{}
	case KindReset:
		env.Event = Reset{}
	case KindCustom:
		return Envelope{}, fmt.Errorf("custom events are sent under their own type name")
	default:
		env.Event = Custom{Name: typ, ID: objectID, Data: data.Clone()}
	}
	return env, nil
}

// Payload returns the data object an event carries, or nil.
func Payload(ev Event) value.Object {
	switch e := ev.(type) {
	case Create:
		return e.Data
	case Update:
		return e.Data
	case Custom:
		return e.Data
	default:
		return nil
	}
}

// MarshalJSON encodes the envelope in wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("envelope for %q has no event", e.Store)
	}
	w := struct {
		Store    string       `json:"store"`
		Type     string       `json:"type"`
		ObjectID *value.ID    `json:"object_id,omitempty"`
		Data     value.Object `json:"data,omitempty"`
		Channel  string       `json:"channel,omitempty"`
	}{
		Store:   e.Store,
		Type:    TypeName(e.Event),
		Data:    Payload(e.Event),
		Channel: e.Channel,
	}
	if _, isCreate := e.Event.(Create); !isCreate {
		if id, ok := ObjectID(e.Event); ok {
			w.ObjectID = &id
		}
	}
	return json.Marshal(w)
}
