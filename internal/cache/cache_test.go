package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNormalizesParts(t *testing.T) {
	assert.Equal(t, "mockmate:questions:backend engineer", Key("questions", "  Backend   Engineer "))
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", []string{"a", "b"}, time.Minute))

	var got []string
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"a", "b"}, got)

	now = now.Add(2 * time.Minute)
	hit, err = c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCacheDel(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.SetJSON(ctx, "k", 1, 0))
	require.NoError(t, c.Del(ctx, "k"))

	var v int
	hit, _ := c.GetJSON(ctx, "k", &v)
	assert.False(t, hit)
}
