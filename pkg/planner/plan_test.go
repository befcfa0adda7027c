package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSchedulerPlan_BuildsDependencyGraph(t *testing.T) {
	raw := &rawPlan{
		Steps: []rawStep{
			{ID: "s1", Objective: "recon"},
			{ID: "s2", Objective: "scan", Dependencies: []string{"s1"}},
		},
		Reasoning:  "recon before scan",
		Confidence: 0.75,
	}

	plan := toSchedulerPlan(raw, KindPlanAndExecute)
	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, []string{"s1"}, plan.DependencyGraph["s2"])
	assert.Equal(t, "recon before scan", plan.GlobalConfig[GlobalConfigReasoning])
	assert.Equal(t, 0.75, plan.GlobalConfig[GlobalConfigConfidence])
}

func TestPlanCacheKey_OrderSensitiveToBothInputs(t *testing.T) {
	k1 := planCacheKey("query a", "context 1")
	k2 := planCacheKey("query a", "context 2")
	k3 := planCacheKey("query b", "context 1")
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestPlanCache_GetSetRoundTrip(t *testing.T) {
	cache, err := newPlanCache(10, 0)
	require.NoError(t, err)

	plan := toSchedulerPlan(&rawPlan{Steps: []rawStep{{ID: "s1", Objective: "x"}}}, KindReWOO)
	cache.put("q", "c", plan)

	got, ok := cache.get("q", "c")
	require.True(t, ok)
	assert.Equal(t, plan, got)

	_, ok = cache.get("q", "other")
	assert.False(t, ok)
}

func TestPlanCache_NilCacheIsNoOp(t *testing.T) {
	var cache *planCache
	_, ok := cache.get("q", "c")
	assert.False(t, ok)
	cache.put("q", "c", nil) // must not panic
}

func TestSystemPromptFor_VariesByKind(t *testing.T) {
	assert.Contains(t, systemPromptFor(KindOODAObserve), "Observe-phase")
	assert.Contains(t, systemPromptFor(KindReWOO), "ReWOO")
	assert.Contains(t, systemPromptFor(KindPlanAndExecute), "DAG of steps")
}
