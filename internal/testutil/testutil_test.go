package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/value"
)

func TestObj(t *testing.T) {
	obj := Obj("id", 10, "name", "X", "active", true, "tags", []any{"a"}, "none", nil)
	assert.Equal(t, value.Object{
		"id":     value.Int(10),
		"name":   value.String("X"),
		"active": value.Bool(true),
		"tags":   value.Array{value.String("a")},
		"none":   value.Null{},
	}, obj)
}

func TestObj_PanicsOnMalformedInput(t *testing.T) {
	assert.Panics(t, func() { Obj("id") })
	assert.Panics(t, func() { Obj(1, 2) })
	assert.Panics(t, func() { Obj("score", 0.5) })
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, event.Envelope{Store: "Group", Event: event.Create{Data: value.Object{"id": value.Int(1)}}},
		Create("Group", "id", 1))
	assert.Equal(t, event.Update{ID: value.StringID("fr"), Data: value.Object{"name": value.String("France")}},
		Update("Country", "fr", "name", "France").Event)
	assert.Equal(t, event.Delete{ID: value.IntID(2)}, Delete("Group", 2).Event)
	assert.Equal(t, event.Synced{}, Synced("Group").Event)
	assert.Equal(t, event.Reset{}, Reset("Group").Event)

	c := Custom("User", "setOnline", 7, "online", true).Event.(event.Custom)
	assert.Equal(t, "setOnline", c.Name)
	assert.Equal(t, value.IntID(7), c.ID)

	noTarget := Custom("User", "refresh", nil).Event.(event.Custom)
	assert.False(t, noTarget.ID.Valid())
}

func TestSequentialSessionGenerator(t *testing.T) {
	gen := NewSequentialSessionGenerator("")
	assert.Equal(t, "session-0001", gen.Generate())
	assert.Equal(t, "session-0002", gen.Generate())

	custom := NewSequentialSessionGenerator("replay")
	assert.Equal(t, "replay-0001", custom.Generate())
}

func TestSequentialSessionGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequentialSessionGenerator("s")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 500)
}
