package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisRegistry(t *testing.T) *RedisRegistry {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	reg, err := NewRedisRegistry(fmt.Sprintf("redis://%s", mr.Addr()), "agentrt-test", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRedisRegistryPutListDelete(t *testing.T) {
	reg := newTestRedisRegistry(t)
	ctx := context.Background()

	a := NewRegistration()
	a.InstanceID = "host-a:1:1"
	require.NoError(t, reg.Put(ctx, a))

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, a.InstanceID, all[0].InstanceID)

	require.NoError(t, reg.Delete(ctx, a.InstanceID))
	all, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisRegistryInvalidURL(t *testing.T) {
	_, err := NewRedisRegistry("not-a-url", "ns", time.Minute)
	require.Error(t, err)
}
