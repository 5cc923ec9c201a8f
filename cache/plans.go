/*
Package cache keeps published plan configs in Redis.

PURPOSE:
  Plan configs are read on every booking quote and every wallet
  initialization but change rarely. PlanCache decorates a
  generic.PlanConfigService with a read-through Redis cache.

KEYS:
  plan:<policyId>:latest     latest version
  plan:<policyId>:v<n>       a pinned version

  Redis errors never fail a read; the cache falls through to the source.
  A cached document is validated again on decode.
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/generic"
)

const (
	namespace  = "plan"
	DefaultTTL = 10 * time.Minute
)

// kv is the subset of Redis the cache needs.
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type redisKV struct {
	client redis.UniversalClient
}

func (r redisKV) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r redisKV) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// NewClient connects to one node, or a cluster when more than one address
// is given and useCluster is set.
func NewClient(addrs []string, password string, useCluster bool) redis.UniversalClient {
	if useCluster && len(addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     addrs[0],
		Password: password,
		DB:       0,
	})
}

type PlanCache struct {
	source generic.PlanConfigService
	kv     kv
	ttl    time.Duration
	log    *zap.Logger
}

func NewPlanCache(source generic.PlanConfigService, client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *PlanCache {
	return newPlanCache(source, redisKV{client: client}, ttl, log)
}

func newPlanCache(source generic.PlanConfigService, store kv, ttl time.Duration, log *zap.Logger) *PlanCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PlanCache{source: source, kv: store, ttl: ttl, log: log}
}

func planKey(policyID generic.PolicyID, version *int) string {
	if version == nil {
		return fmt.Sprintf("%s:%s:latest", namespace, policyID)
	}
	return fmt.Sprintf("%s:%s:v%d", namespace, policyID, *version)
}

func (c *PlanCache) GetConfig(ctx context.Context, policyID generic.PolicyID, version *int) (*generic.PlanConfig, error) {
	key := planKey(policyID, version)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var plan generic.PlanConfig
		if derr := json.Unmarshal([]byte(raw), &plan); derr == nil && plan.Validate() == nil {
			return &plan, nil
		}
		c.log.Warn("discarding bad cached plan", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("plan cache read failed", zap.String("key", key), zap.Error(err))
	}

	plan, err := c.source.GetConfig(ctx, policyID, version)
	if err != nil {
		return nil, err
	}
	if doc, err := json.Marshal(plan); err == nil {
		if err := c.kv.Set(ctx, key, string(doc), c.ttl); err != nil {
			c.log.Warn("plan cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return plan, nil
}

// Invalidate drops the latest entry and the given version, if any. Call it
// after publishing a plan.
func (c *PlanCache) Invalidate(ctx context.Context, policyID generic.PolicyID, version int) {
	keys := []string{planKey(policyID, nil), planKey(policyID, &version)}
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.log.Warn("plan cache invalidate failed", zap.String("policy_id", string(policyID)), zap.Error(err))
	}
}

var _ generic.PlanConfigService = (*PlanCache)(nil)
