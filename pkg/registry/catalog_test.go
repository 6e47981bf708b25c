package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name string, capabilities ...string) ServiceRecord {
	return ServiceRecord{
		Name:         name,
		Host:         "localhost",
		Port:         9000,
		Capabilities: capabilities,
	}
}

func TestRegisterSetsUnknownStatus(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("llm-gateway", "llm")))

	rec, ok := c.Get("llm-gateway")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, rec.Status)
	assert.Equal(t, "http://localhost:9000", rec.URL)
	assert.False(t, rec.RegisteredAt.IsZero())
}

func TestRegisterReplacesAndResetsStatus(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("llm-gateway", "llm")))
	c.setStatus("llm-gateway", StatusHealthy)

	require.NoError(t, c.Register(record("llm-gateway", "llm", "chat")))

	rec, ok := c.Get("llm-gateway")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, rec.Status, "replacement resets status")
	assert.Equal(t, []string{"llm", "chat"}, rec.Capabilities)
	assert.Equal(t, 1, c.Stats().Total)
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	c := NewCatalog()
	assert.Error(t, c.Register(ServiceRecord{Host: "localhost", Port: 1}))
	assert.Error(t, c.Register(ServiceRecord{Name: "x"}))
}

func TestDeregisterIdempotent(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("retrieval")))

	c.Deregister("retrieval")
	c.Deregister("retrieval")
	c.Deregister("never-registered")

	assert.Equal(t, 0, c.Stats().Total)
}

func TestRegisterThenDeregisterLeavesListUnchanged(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("stable", "search")))
	before := c.List("", "")

	require.NoError(t, c.Register(record("transient", "llm")))
	c.Deregister("transient")

	assert.Equal(t, before, c.List("", ""))
}

func TestListFiltersCapabilityExactMatch(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("a", "llm", "chat")))
	require.NoError(t, c.Register(record("b", "LLM")))
	require.NoError(t, c.Register(record("c", "llm-extra")))

	got := c.List("llm", "")
	require.Len(t, got, 1, "capability match is exact and case-sensitive")
	assert.Equal(t, "a", got[0].Name)
}

func TestListFiltersStatus(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("a", "llm")))
	require.NoError(t, c.Register(record("b", "llm")))
	c.setStatus("a", StatusHealthy)
	c.setStatus("b", StatusUnhealthy)

	healthy := c.List("llm", StatusHealthy)
	require.Len(t, healthy, 1)
	assert.Equal(t, "a", healthy[0].Name)
}

func TestListReturnsCopies(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("a", "llm")))

	got := c.List("", "")
	got[0].Capabilities[0] = "mutated"
	got[0].Status = StatusHealthy

	rec, _ := c.Get("a")
	assert.Equal(t, []string{"llm"}, rec.Capabilities)
	assert.Equal(t, StatusUnknown, rec.Status)
}

func TestHeartbeatUpdatesTimestampOnly(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("a")))
	c.setStatus("a", StatusUnhealthy)
	before, _ := c.Get("a")

	require.True(t, c.Heartbeat("a"))
	assert.False(t, c.Heartbeat("missing"))

	after, _ := c.Get("a")
	assert.Equal(t, StatusUnhealthy, after.Status, "heartbeat must not change status")
	assert.False(t, after.LastHeartbeat.Before(before.LastHeartbeat))
}

func TestStatsCountsByStatus(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("a")))
	require.NoError(t, c.Register(record("b")))
	require.NoError(t, c.Register(record("c")))
	c.setStatus("a", StatusHealthy)
	c.setStatus("b", StatusUnhealthy)

	s := c.Stats()
	assert.Equal(t, Stats{Total: 3, Healthy: 1, Unhealthy: 1, Unknown: 1}, s)
}

func TestUnreachableStreakResetsOnResponse(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(record("a")))

	assert.Equal(t, 1, c.recordUnreachable("a"))
	assert.Equal(t, 2, c.recordUnreachable("a"))

	// A probe that produced any HTTP response resets the streak.
	c.setStatus("a", StatusUnhealthy)
	assert.Equal(t, 1, c.recordUnreachable("a"))
}
