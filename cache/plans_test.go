package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/generic/store"
)

type mapKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mapKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *mapKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type countingSource struct {
	generic.PlanConfigService
	calls int
}

func (c *countingSource) GetConfig(ctx context.Context, id generic.PolicyID, v *int) (*generic.PlanConfig, error) {
	c.calls++
	return c.PlanConfigService.GetConfig(ctx, id, v)
}

func newSource(t *testing.T) *countingSource {
	t.Helper()
	plan, err := factory.NewPlanFactory().ParsePlan(factory.IndividualPlanJSON("POL-1", 5000, 20))
	require.NoError(t, err)
	dir := store.NewDirectory()
	require.NoError(t, dir.PutPlan(plan))
	return &countingSource{PlanConfigService: dir}
}

func TestPlanKey(t *testing.T) {
	v := 3
	assert.Equal(t, "plan:POL-1:latest", planKey("POL-1", nil))
	assert.Equal(t, "plan:POL-1:v3", planKey("POL-1", &v))
}

func TestGetConfig_ReadThrough(t *testing.T) {
	// GIVEN: an empty cache in front of a plan source
	src := newSource(t)
	kv := newMapKV()
	c := newPlanCache(src, kv, time.Minute, nil)
	ctx := context.Background()

	// WHEN: the plan is read twice
	first, err := c.GetConfig(ctx, "POL-1", nil)
	require.NoError(t, err)
	second, err := c.GetConfig(ctx, "POL-1", nil)
	require.NoError(t, err)

	// THEN: the source is hit once and both reads agree
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first.PolicyID, second.PolicyID)
	assert.True(t, first.TotalAllocation().Equal(second.TotalAllocation()))
	assert.Equal(t, time.Minute, kv.ttls["plan:POL-1:latest"])
}

func TestGetConfig_BadEntryFallsThrough(t *testing.T) {
	src := newSource(t)
	kv := newMapKV()
	kv.data["plan:POL-1:latest"] = `{"policyId":""}`
	c := newPlanCache(src, kv, 0, nil)

	plan, err := c.GetConfig(context.Background(), "POL-1", nil)
	require.NoError(t, err)
	assert.Equal(t, generic.PolicyID("POL-1"), plan.PolicyID)
	assert.Equal(t, 1, src.calls)
}

func TestGetConfig_NotFoundIsNotCached(t *testing.T) {
	src := newSource(t)
	kv := newMapKV()
	c := newPlanCache(src, kv, 0, nil)

	_, err := c.GetConfig(context.Background(), "POL-404", nil)
	assert.ErrorIs(t, err, generic.ErrPlanConfigNotFound)
	assert.Empty(t, kv.data)
}

func TestInvalidate(t *testing.T) {
	src := newSource(t)
	kv := newMapKV()
	c := newPlanCache(src, kv, 0, nil)
	ctx := context.Background()

	_, err := c.GetConfig(ctx, "POL-1", nil)
	require.NoError(t, err)
	c.Invalidate(ctx, "POL-1", 1)
	_, err = c.GetConfig(ctx, "POL-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
}

func TestGetConfig_RedisDownFailsOpen(t *testing.T) {
	// GIVEN: a client pointed at a port nothing listens on
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	src := newSource(t)
	c := NewPlanCache(src, client, time.Minute, nil)

	// WHEN / THEN: reads are served from the source
	plan, err := c.GetConfig(context.Background(), "POL-1", nil)
	require.NoError(t, err)
	assert.Equal(t, generic.PolicyID("POL-1"), plan.PolicyID)
}
