package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestore/internal/value"
)

func TestDecode_SingleCreate(t *testing.T) {
	envs, err := Decode([]byte(`{"store":"Group","type":"create","data":{"id":1,"name":"X"},"channel":"groups"}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, "Group", env.Store)
	assert.Equal(t, "groups", env.Channel)
	assert.Equal(t, Create{Data: value.Object{"id": value.Int(1), "name": value.String("X")}}, env.Event)
}

func TestDecode_CreateTakesIDFromObjectID(t *testing.T) {
	envs, err := Decode([]byte(`{"store":"Country","type":"create","object_id":"fr","data":{"name":"France"}}`))
	require.NoError(t, err)

	c, ok := envs[0].Event.(Create)
	require.True(t, ok)
	assert.Equal(t, value.String("fr"), c.Data["id"])
}

func TestDecode_CreateWithoutIDPassesThrough(t *testing.T) {
	envs, err := Decode([]byte(`{"store":"Group","type":"create","data":{"name":"X"}}`))
	require.NoError(t, err)
	_, ok := ObjectID(envs[0].Event)
	assert.False(t, ok, "the store, not the decoder, rejects a create without id")
}

func TestDecode_Batch(t *testing.T) {
	msg := `[
		{"store":"Group","type":"update","object_id":1,"data":{"name":"Y"}},
		{"store":"Group","type":"delete","object_id":2},
		{"store":"Group","type":"synced"},
		{"store":"Group","type":"reset"},
		{"store":"ForumThread","type":"newMessage","object_id":5,"data":{"messageId":9}}
	]`
	envs, err := Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, envs, 5)

	assert.Equal(t, Update{ID: value.IntID(1), Data: value.Object{"name": value.String("Y")}}, envs[0].Event)
	assert.Equal(t, Delete{ID: value.IntID(2)}, envs[1].Event)
	assert.Equal(t, Synced{}, envs[2].Event)
	assert.Equal(t, Reset{}, envs[3].Event)
	assert.Equal(t, Custom{Name: "newMessage", ID: value.IntID(5), Data: value.Object{"messageId": value.Int(9)}}, envs[4].Event)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"empty", ``, "empty message"},
		{"not json", `{`, "invalid envelope"},
		{"missing store", `{"type":"create","data":{"id":1}}`, "store is required"},
		{"missing type", `{"store":"Group"}`, "type is required"},
		{"update without id", `{"store":"Group","type":"update","data":{"name":"x"}}`, "requires object_id"},
		{"delete without id", `{"store":"Group","type":"delete"}`, "requires object_id"},
		{"float payload", `{"store":"Group","type":"create","data":{"id":1,"score":0.5}}`, "invalid data"},
		{"bool object id", `{"store":"Group","type":"delete","object_id":true}`, "invalid object_id"},
		{"literal custom", `{"store":"Group","type":"custom"}`, "own type name"},
		{"bad batch entry", `[{"store":"Group","type":"synced"},{"type":"synced"}]`, "[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.msg))
			require.Error(t, err)
			assert.True(t, IsDecodeError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecode_BatchSkipsMalformedEntries(t *testing.T) {
	msg := `[
		{"store":"Group","type":"create","data":{"id":1,"name":"X"}},
		{"type":"synced"},
		{"store":"Group","type":"create","data":{"id":2,"score":0.5}},
		{"store":"Group","type":"synced"}
	]`
	envs, err := Decode([]byte(msg))
	require.Len(t, envs, 2)
	assert.Equal(t, Create{Data: value.Object{"id": value.Int(1), "name": value.String("X")}}, envs[0].Event)
	assert.Equal(t, Synced{}, envs[1].Event)

	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "decode envelope [1]")
	assert.Contains(t, err.Error(), "decode envelope [2]")
}

func TestDecode_IgnoresUnknownKeys(t *testing.T) {
	envs, err := Decode([]byte(`{"store":"Group","type":"delete","object_id":3,"ts":1700000000,"origin":"edge"}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, Delete{ID: value.IntID(3)}, envs[0].Event)
}

func TestEnvelope_MarshalJSON(t *testing.T) {
	env := Envelope{Store: "Group", Event: Update{ID: value.IntID(3), Data: value.Object{"name": value.String("Z")}}}
	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"store":"Group","type":"update","object_id":3,"data":{"name":"Z"}}`, string(out))

	back, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, env, back[0])
}

func TestEnvelope_MarshalCreateOmitsObjectID(t *testing.T) {
	env := Envelope{Store: "Group", Channel: "c", Event: Create{Data: value.Object{"id": value.Int(1)}}}
	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"store":"Group","type":"create","data":{"id":1},"channel":"c"}`, string(out))
}

func TestEnvelope_String(t *testing.T) {
	assert.Equal(t, "delete Group#4", Envelope{Store: "Group", Event: Delete{ID: value.IntID(4)}}.String())
	assert.Equal(t, "synced Group", Envelope{Store: "Group", Event: Synced{}}.String())
	assert.Equal(t, "newMessage ForumThread#x", Envelope{Store: "ForumThread", Event: Custom{Name: "newMessage", ID: value.StringID("x")}}.String())
}

func TestIsMutation(t *testing.T) {
	assert.True(t, IsMutation(Create{}))
	assert.True(t, IsMutation(Custom{Name: "x"}))
	assert.False(t, IsMutation(Synced{}))
	assert.False(t, IsMutation(Reset{}))
}
