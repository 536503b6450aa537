package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	c, err := NewClient(context.Background(), mr.Host(), port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClientGetSet(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "uplift:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "uplift:abc", []byte(`{"final_query":"q"}`), time.Hour))
	got, ok, err := c.Get(ctx, "uplift:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"final_query":"q"}`, string(got))

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "uplift:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientPurge(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "uplift:1", []byte("a"), time.Hour))
	require.NoError(t, c.Set(ctx, "uplift:2", []byte("b"), time.Hour))
	require.NoError(t, c.Set(ctx, "embedding:1", []byte("c"), time.Hour))

	n, err := c.Purge(ctx, "uplift:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.Get(ctx, "embedding:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientErrorsAreCacheUnavailable(t *testing.T) {
	c, mr := newTestClient(t)
	mr.SetError("ERR simulated failure")

	_, _, err := c.Get(context.Background(), "uplift:x")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrCacheUnavailable))

	err = c.Set(context.Background(), "uplift:x", []byte("v"), time.Minute)
	assert.True(t, domain.IsKind(err, domain.ErrCacheUnavailable))
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, _ := strconv.Atoi(mr.Port())
	mr.Close()

	_, err := NewClient(context.Background(), host, port, "", 0)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrCacheUnavailable))
}
