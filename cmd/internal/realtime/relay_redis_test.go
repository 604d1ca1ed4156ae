package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRelay(t *testing.T, mr *miniredis.Miniredis, instance string) (*RedisRelay, *Hub) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := NewHub(discardLogger())
	relay, err := NewRedisRelay(discardLogger(), rdb, hub, instance)
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })
	return relay, hub
}

func startMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	return mr
}

func TestRedisRelay_FansOutAcrossInstances(t *testing.T) {
	mr := startMiniredis(t)
	ctx := context.Background()

	r1, h1 := setupTestRelay(t, mr, "test")
	r2, h2 := setupTestRelay(t, mr, "test")
	require.NoError(t, r1.Start(ctx))
	require.NoError(t, r2.Start(ctx))

	v1c := NewClient(8)
	v2c := NewClient(8)
	h1.OnConnect(v1c)
	h2.OnConnect(v2c)

	require.NoError(t, r1.Publish(ctx, mustEvent(t, "across")))

	for _, c := range []*Client{v1c, v2c} {
		d, err := mustRecv(t, c).DecodeMessage()
		require.NoError(t, err)
		assert.Equal(t, "across", d.Message)
	}
}

func TestRedisRelay_SeparateInstancesAreIsolated(t *testing.T) {
	mr := startMiniredis(t)
	ctx := context.Background()

	ra, _ := setupTestRelay(t, mr, "alpha")
	rb, hb := setupTestRelay(t, mr, "beta")
	require.NoError(t, ra.Start(ctx))
	require.NoError(t, rb.Start(ctx))

	c := NewClient(8)
	hb.OnConnect(c)

	require.NoError(t, ra.Publish(ctx, mustEvent(t, "alpha-only")))

	select {
	case ev := <-c.Send:
		t.Fatalf("beta viewer received alpha event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, "inbox:alpha:events", ra.Channel())
}

func TestRedisRelay_PublishFailureDeliversLocally(t *testing.T) {
	mr := startMiniredis(t)
	ctx := context.Background()

	relay, hub := setupTestRelay(t, mr, "test")
	c := NewClient(8)
	hub.OnConnect(c)

	mr.Close()

	err := relay.Publish(ctx, mustEvent(t, "fallback"))
	require.Error(t, err)

	d, err := mustRecv(t, c).DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, "fallback", d.Message)
}

func TestRedisRelay_SkipsUndecodablePayloads(t *testing.T) {
	mr := startMiniredis(t)
	ctx := context.Background()

	relay, hub := setupTestRelay(t, mr, "test")
	require.NoError(t, relay.Start(ctx))
	c := NewClient(8)
	hub.OnConnect(c)

	mr.Publish(relay.Channel(), "not json")
	mr.Publish(relay.Channel(), `{"type":"unknown","data":{}}`)
	require.NoError(t, relay.Publish(ctx, mustEvent(t, "valid")))

	d, err := mustRecv(t, c).DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, "valid", d.Message)
}

func TestRedisRelay_Lifecycle(t *testing.T) {
	mr := startMiniredis(t)
	ctx := context.Background()

	relay, _ := setupTestRelay(t, mr, "test")
	require.NoError(t, relay.Start(ctx))
	assert.Error(t, relay.Start(ctx), "second Start must fail")

	assert.NoError(t, relay.Close())
	assert.NoError(t, relay.Close(), "Close is idempotent")
}

func TestNewRedisRelay_Validation(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	hub := NewHub(discardLogger())

	_, err := NewRedisRelay(nil, nil, hub, "x")
	assert.Error(t, err)
	_, err = NewRedisRelay(nil, rdb, nil, "x")
	assert.Error(t, err)
	_, err = NewRedisRelay(nil, rdb, hub, "")
	assert.Error(t, err)
}
