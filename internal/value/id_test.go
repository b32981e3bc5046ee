package value

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_IntAndStringAreDistinct(t *testing.T) {
	assert.NotEqual(t, IntID(7), StringID("7"))
	assert.Equal(t, IntID(7), IntID(7))

	m := map[ID]string{IntID(7): "int", StringID("7"): "string"}
	assert.Len(t, m, 2)
}

func TestID_ZeroIsInvalid(t *testing.T) {
	var id ID
	assert.False(t, id.Valid())
	assert.True(t, IntID(0).Valid())
	assert.NotEqual(t, id, IntID(0))
}

func TestID_Placeholder(t *testing.T) {
	assert.True(t, IntID(-1).IsPlaceholder())
	assert.False(t, IntID(0).IsPlaceholder())
	assert.False(t, StringID("-1").IsPlaceholder())
}

func TestIDFromValue(t *testing.T) {
	id, err := IDFromValue(Int(10))
	require.NoError(t, err)
	assert.Equal(t, IntID(10), id)

	id, err = IDFromValue(String("fr"))
	require.NoError(t, err)
	assert.Equal(t, StringID("fr"), id)

	_, err = IDFromValue(Bool(true))
	assert.Error(t, err)
	_, err = IDFromValue(String(""))
	assert.Error(t, err)
	_, err = IDFromValue(Null{})
	assert.Error(t, err)
}

func TestID_JSON(t *testing.T) {
	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`[3, "us", null]`), &ids))
	assert.Equal(t, []ID{IntID(3), StringID("us"), {}}, ids)

	out, err := json.Marshal([]ID{IntID(3), StringID("us")})
	require.NoError(t, err)
	assert.Equal(t, `[3,"us"]`, string(out))
}

func TestCompareIDs(t *testing.T) {
	ids := []ID{StringID("b"), IntID(10), StringID("a"), IntID(-1), IntID(2)}
	slices.SortFunc(ids, CompareIDs)
	assert.Equal(t, []ID{IntID(-1), IntID(2), IntID(10), StringID("a"), StringID("b")}, ids)
}
