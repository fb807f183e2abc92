package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, "bt:", time.Hour)
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("bt:k1").SetVal(`{"trades":1}`)
		v, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, `{"trades":1}`, string(v))
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("bt:k2").RedisNil()
		_, err := c.Get(ctx, "k2")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet("bt:k3").SetErr(redis.TxFailedErr)
		_, err := c.Get(ctx, "k3")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMiss)
	})

	t.Run("set", func(t *testing.T) {
		mock.ExpectSet("bt:k4", []byte("v"), time.Hour).SetVal("OK")
		require.NoError(t, c.Set(ctx, "k4", []byte("v")))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'x'
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
	assert.Equal(t, 1, m.Len())

	_, err = m.Get(ctx, "other")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v")))
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}
