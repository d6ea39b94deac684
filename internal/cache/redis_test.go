package cache

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Address: "  "})
	require.Error(t, err)
}

func TestRedisKeyPrefix(t *testing.T) {
	require.Nil(t, NewRedisStoreFromClient(nil, ""))

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStoreFromClient(client, "")
	require.Equal(t, "altrii:rate:1", store.key("rate:1"))
	require.Equal(t, "altrii:rate:1", store.key("altrii:rate:1"))

	custom := NewRedisStoreFromClient(client, "staging:")
	require.Equal(t, "staging:profile:d1", custom.key(" profile:d1 "))
}
