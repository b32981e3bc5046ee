package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect returns a reporter that appends failures to the returned slice.
func collect() (ErrorReporter, *[]*ListenerError) {
	var errs []*ListenerError
	return func(err *ListenerError) { errs = append(errs, err) }, &errs
}

func TestDispatch_SubscriptionOrder(t *testing.T) {
	d := New[int](nil)
	var order []string

	d.AddListener(func(string, int) error { order = append(order, "a"); return nil }, "create")
	d.AddListener(func(string, int) error { order = append(order, "b"); return nil }, "create")
	d.AddListener(func(string, int) error { order = append(order, "c"); return nil }, "create")

	n := d.Dispatch("create", 1)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDispatch_OnlyMatchingEvent(t *testing.T) {
	d := New[string](nil)
	var got []string

	d.AddListener(func(ev string, p string) error { got = append(got, ev+":"+p); return nil }, "update")

	assert.Equal(t, 0, d.Dispatch("create", "x"))
	assert.Equal(t, 1, d.Dispatch("update", "y"))
	assert.Equal(t, []string{"update:y"}, got)
}

func TestDispatch_MultipleNamesOneHandle(t *testing.T) {
	d := New[int](nil)
	var events []string

	h := d.AddListener(func(ev string, _ int) error { events = append(events, ev); return nil }, "create", "delete", "create")
	d.Dispatch("create", 0)
	d.Dispatch("delete", 0)
	assert.Equal(t, []string{"create", "delete"}, events)
	assert.Equal(t, 1, d.Len("create"), "duplicate names collapse")

	require.True(t, d.RemoveListener(h))
	assert.Equal(t, 0, d.Len("create"))
	assert.Equal(t, 0, d.Len("delete"))
	assert.False(t, d.RemoveListener(h), "second removal reports false")
}

func TestDispatch_ErrorIsolation(t *testing.T) {
	report, errs := collect()
	d := New[int](report)
	var reached []string

	d.AddListener(func(string, int) error { reached = append(reached, "first"); return errors.New("boom") }, "ev")
	d.AddListener(func(string, int) error { panic("kaboom") }, "ev")
	d.AddListener(func(string, int) error { reached = append(reached, "third"); return nil }, "ev")

	n := d.Dispatch("ev", 0)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "third"}, reached)

	require.Len(t, *errs, 2)
	assert.EqualError(t, (*errs)[0].Err, "boom")
	assert.Equal(t, "kaboom", (*errs)[1].Panic)
	assert.Contains(t, (*errs)[1].Error(), "panicked")
	assert.Equal(t, "ev", (*errs)[0].Event)
}

func TestDispatch_ListenerErrorUnwraps(t *testing.T) {
	sentinel := errors.New("sentinel")
	report, errs := collect()
	d := New[int](report)
	d.AddListener(func(string, int) error { return sentinel }, "ev")
	d.Dispatch("ev", 0)

	require.Len(t, *errs, 1)
	assert.ErrorIs(t, (*errs)[0], sentinel)
}

func TestAddListenerOnce(t *testing.T) {
	d := New[int](nil)
	calls := 0
	d.AddListenerOnce(func(string, int) error { calls++; return nil }, "create", "update")

	d.Dispatch("update", 0)
	d.Dispatch("create", 0)
	d.Dispatch("update", 0)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, d.Len("create"))
	assert.Equal(t, 0, d.Len("update"))
}

func TestAddListenerOnce_ReentrantDispatch(t *testing.T) {
	d := New[int](nil)
	calls := 0
	d.AddListenerOnce(func(ev string, depth int) error {
		calls++
		if depth == 0 {
			d.Dispatch(ev, 1)
		}
		return nil
	}, "ev")

	d.Dispatch("ev", 0)
	assert.Equal(t, 1, calls)
}

func TestRemoveDuringDispatch_SkipsPendingListener(t *testing.T) {
	d := New[int](nil)
	var second Handle
	secondCalled := false

	d.AddListener(func(string, int) error {
		d.RemoveListener(second)
		return nil
	}, "ev")
	second = d.AddListener(func(string, int) error { secondCalled = true; return nil }, "ev")

	assert.Equal(t, 1, d.Dispatch("ev", 0))
	assert.False(t, secondCalled)
}

func TestAddDuringDispatch_NotInvokedUntilNext(t *testing.T) {
	d := New[int](nil)
	lateCalls := 0
	added := false

	d.AddListener(func(string, int) error {
		if !added {
			added = true
			d.AddListener(func(string, int) error { lateCalls++; return nil }, "ev")
		}
		return nil
	}, "ev")

	d.Dispatch("ev", 0)
	assert.Equal(t, 0, lateCalls)
	d.Dispatch("ev", 0)
	assert.Equal(t, 1, lateCalls)
}

func TestAddListener_PanicsOnMisuse(t *testing.T) {
	d := New[int](nil)
	assert.Panics(t, func() { d.AddListener(nil, "ev") })
	assert.Panics(t, func() { d.AddListener(func(string, int) error { return nil }) })
}
