package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/FleekHQ/brokkr/pkg/brokkr/registry"
)

func TestNew(t *testing.T) {
	r := registry.New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
}

func TestRegisterAndGet(t *testing.T) {
	r := registry.New[string, int]()

	r.Register("ChargeCard", 1)
	r.Register("ReserveInventory", 2)

	v, ok := r.Get("ChargeCard")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("Missing")
	assert.False(t, ok)
}

func TestRegisterOverwrite(t *testing.T) {
	r := registry.New[string, string]()
	r.Register("key", "old")
	r.Register("key", "new")

	v, _ := r.Get("key")
	assert.Equal(t, "new", v)
}

func TestRegisterMany(t *testing.T) {
	r := registry.New[string, int]()
	r.RegisterMany(map[string]int{"a": 1, "b": 2, "c": 3})
	assert.Equal(t, 3, r.Len())
}

func TestMustGet_PanicsOnMissing(t *testing.T) {
	r := registry.New[string, int]()
	assert.Panics(t, func() { r.MustGet("missing") })
}

func TestHas(t *testing.T) {
	r := registry.New[string, int]()
	r.Register("a", 1)
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("b"))
}

func TestDelete(t *testing.T) {
	r := registry.New[string, int]()
	r.Register("a", 1)
	r.Delete("a")
	assert.False(t, r.Has("a"))
	assert.Equal(t, 0, r.Len())
}

func TestDelete_MissingKeyIsNoop(t *testing.T) {
	r := registry.New[string, int]()
	r.Delete("missing")
	assert.Equal(t, 0, r.Len())
}

func TestKeys(t *testing.T) {
	r := registry.New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	assert.ElementsMatch(t, []string{"a", "b"}, r.Keys())
}

func TestRange_StopsEarly(t *testing.T) {
	r := registry.New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	seen := 0
	r.Range(func(_ string, _ int) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)
}

func TestRange_SafeToMutateDuringIteration(t *testing.T) {
	r := registry.New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)

	r.Range(func(k string, _ int) bool {
		r.Delete(k)
		return true
	})

	// Deletes during Range operate on the live map, not the snapshot;
	// the snapshot iteration itself still completes without deadlock.
	assert.Equal(t, 0, r.Len())
}
