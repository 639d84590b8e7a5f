package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k1", map[string]interface{}{"sum": 7}, time.Minute)
	outputs, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, 7, outputs["sum"])
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "k1", map[string]interface{}{"x": 1}, 20*time.Millisecond)
	_, ok := c.Get(ctx, "k1")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestMemoryReturnsCopies(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "k1", map[string]interface{}{"x": 1}, time.Minute)

	first, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	first["x"] = 99

	second, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, 1, second["x"])
}

func TestMemoryClose(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "k1", map[string]interface{}{"x": 1}, time.Minute)
	require.NoError(t, c.Close())
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestOutputKeyDeterministic(t *testing.T) {
	inputs := map[string]interface{}{"b": 2, "a": 1}
	k1 := OutputKey("wf-1", "node-1", "v-1", inputs)
	k2 := OutputKey("wf-1", "node-1", "v-1", map[string]interface{}{"a": 1, "b": 2})
	assert.Equal(t, k1, k2, "key ignores map iteration order")
	assert.Len(t, k1, 64)
}

func TestOutputKeyVariesByDimension(t *testing.T) {
	base := OutputKey("wf-1", "node-1", "v-1", map[string]interface{}{"a": 1})

	assert.NotEqual(t, base, OutputKey("wf-2", "node-1", "v-1", map[string]interface{}{"a": 1}))
	assert.NotEqual(t, base, OutputKey("wf-1", "node-2", "v-1", map[string]interface{}{"a": 1}))
	assert.NotEqual(t, base, OutputKey("wf-1", "node-1", "v-2", map[string]interface{}{"a": 1}))
	assert.NotEqual(t, base, OutputKey("wf-1", "node-1", "v-1", map[string]interface{}{"a": 2}))
}
