package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/agentrt/core"
)

// RedisRegistry stores registrations as namespaced Redis keys with a TTL,
// grounded on the teacher's core.RedisRegistry Register/heartbeat pattern:
// each instance owns one key, refreshed on every heartbeat; a dead peer's
// key simply expires instead of needing an explicit reaper.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisRegistry connects to redisURL and scopes keys under namespace
// (defaulting to "agentrt" if empty).
func NewRedisRegistry(redisURL, namespace string, ttl time.Duration) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewFrameworkError("coordinator.NewRedisRegistry", core.KindValidationFailure,
			fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err))
	}
	if namespace == "" {
		namespace = "agentrt"
	}
	if ttl <= 0 {
		ttl = core.DefaultInstanceDeadAfter
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.NewFrameworkError("coordinator.NewRedisRegistry", core.KindTransientUnavailable,
			fmt.Errorf("%w: %v", core.ErrTransientUnavailable, err))
	}

	return &RedisRegistry{client: client, namespace: namespace, ttl: ttl}, nil
}

func (r *RedisRegistry) key(instanceID string) string {
	return fmt.Sprintf("%s:coordinator:instances:%s", r.namespace, instanceID)
}

func (r *RedisRegistry) Put(ctx context.Context, reg *Registration) error {
	data, err := reg.marshal()
	if err != nil {
		return core.NewFrameworkError("coordinator.RedisRegistry.Put", core.KindInternal, err)
	}
	if err := r.client.Set(ctx, r.key(reg.InstanceID), data, r.ttl).Err(); err != nil {
		return core.NewFrameworkError("coordinator.RedisRegistry.Put", core.KindTransientUnavailable,
			fmt.Errorf("%w: %v", core.ErrTransientUnavailable, err))
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*Registration, error) {
	pattern := fmt.Sprintf("%s:coordinator:instances:*", r.namespace)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, core.NewFrameworkError("coordinator.RedisRegistry.List", core.KindTransientUnavailable,
			fmt.Errorf("%w: %v", core.ErrTransientUnavailable, err))
	}

	var out []*Registration
	for _, k := range keys {
		data, err := r.client.Get(ctx, k).Result()
		if err != nil {
			if err == redis.Nil {
				continue // expired between KEYS and GET; peer is effectively dead already
			}
			continue
		}
		reg, err := unmarshalRegistration([]byte(data))
		if err != nil {
			continue
		}
		out = append(out, reg)
	}
	return out, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, instanceID string) error {
	if err := r.client.Del(ctx, r.key(instanceID)).Err(); err != nil {
		return core.NewFrameworkError("coordinator.RedisRegistry.Delete", core.KindTransientUnavailable,
			fmt.Errorf("%w: %v", core.ErrTransientUnavailable, err))
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
