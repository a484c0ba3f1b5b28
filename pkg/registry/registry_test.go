package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	r := New()

	type bundle struct{ name string }
	obj := &bundle{name: "sales-agent"}

	id := r.Put(CategoryAgentBundle, obj)
	require.NotEmpty(t, id)

	got, err := r.Get(CategoryAgentBundle, id)
	require.NoError(t, err)
	assert.Same(t, obj, got)
}

func TestDropThenGetReturnsNotFound(t *testing.T) {
	r := New()

	id := r.Put(CategoryHistory, "scoped")
	r.Drop(CategoryHistory, id)

	_, err := r.Get(CategoryHistory, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUnknownCategory(t *testing.T) {
	r := New()
	_, err := r.Get("nonexistent", "id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDropIsIdempotent(t *testing.T) {
	r := New()
	id := r.Put(CategoryEngine, 42)
	r.Drop(CategoryEngine, id)
	r.Drop(CategoryEngine, id) // must not panic
	assert.Equal(t, 0, r.Len(CategoryEngine))
}

func TestPutWithIDReplaces(t *testing.T) {
	r := New()
	r.PutWithID(CategoryEngine, "conn-1:v1", "old")
	r.PutWithID(CategoryEngine, "conn-1:v1", "new")

	got, err := r.Get(CategoryEngine, "conn-1:v1")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, r.Len(CategoryEngine))
}

func TestConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Put(CategoryHistory, struct{}{})
			_, err := r.Get(CategoryHistory, id)
			assert.NoError(t, err)
			r.Drop(CategoryHistory, id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len(CategoryHistory))
}
