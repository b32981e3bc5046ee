package journal

import (
	"database/sql"
	"fmt"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/value"
)

// row is the column form of one envelope.
type row struct {
	store    string
	typ      string
	objectID sql.NullString
	data     sql.NullString
	channel  string
}

// toRow encodes an envelope. Payloads are canonical JSON so identical
// envelopes produce identical rows.
func toRow(env event.Envelope) (row, error) {
	if env.Event == nil {
		return row{}, fmt.Errorf("envelope for %s has no event", env.Store)
	}
	r := row{store: env.Store, typ: event.TypeName(env.Event), channel: env.Channel}

	if id, ok := event.ObjectID(env.Event); ok {
		raw, err := id.MarshalJSON()
		if err != nil {
			return row{}, fmt.Errorf("marshal object id: %w", err)
		}
		r.objectID = sql.NullString{String: string(raw), Valid: true}
	}

	if payload := event.Payload(env.Event); payload != nil {
		data, err := value.MarshalCanonical(payload)
		if err != nil {
			return row{}, fmt.Errorf("marshal data: %w", err)
		}
		r.data = sql.NullString{String: string(data), Valid: true}
	}
	return r, nil
}

// fromRow decodes a stored row back into an envelope.
func fromRow(r row) (event.Envelope, error) {
	var id value.ID
	if r.objectID.Valid {
		if err := id.UnmarshalJSON([]byte(r.objectID.String)); err != nil {
			return event.Envelope{}, fmt.Errorf("unmarshal object id: %w", err)
		}
	}

	var data value.Object
	if r.data.Valid {
		obj, err := value.ParseObject([]byte(r.data.String))
		if err != nil {
			return event.Envelope{}, fmt.Errorf("unmarshal data: %w", err)
		}
		data = obj
	}

	env, err := event.Build(r.store, r.typ, id, data)
	if err != nil {
		return event.Envelope{}, err
	}
	env.Channel = r.channel
	return env, nil
}
