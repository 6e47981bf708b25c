package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
)

func newTestRegistry(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	cfg := config.RegistryConfig{}
	cfg.SetDefaults()
	svc := NewService(cfg, nil)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestRegisterDiscoverRoundTrip(t *testing.T) {
	_, srv := newTestRegistry(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	err := client.Register(ctx, ServiceRecord{
		Name:         "llm-gateway",
		Host:         "localhost",
		Port:         8600,
		Capabilities: []string{"llm", "chat", "embeddings"},
	})
	require.NoError(t, err)

	records, err := client.Discover(ctx, "chat", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "llm-gateway", records[0].Name)
	assert.Equal(t, "http://localhost:8600", records[0].URL)
	assert.Equal(t, StatusUnknown, records[0].Status)

	none, err := client.Discover(ctx, "chess", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetReturnsNotFound(t *testing.T) {
	_, srv := newTestRegistry(t)
	client := NewClient(srv.URL)

	_, err := client.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// POST /register answers {status: "registered", service: <record>}.
func TestRegisterResponseShape(t *testing.T) {
	_, srv := newTestRegistry(t)

	body := `{"name":"llm-gateway","host":"localhost","port":8600,"capabilities":["llm"]}`
	resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status  string        `json:"status"`
		Service ServiceRecord `json:"service"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "registered", out.Status)
	assert.Equal(t, "llm-gateway", out.Service.Name)
	assert.Equal(t, 8600, out.Service.Port)
	assert.False(t, out.Service.RegisteredAt.IsZero())
}

func TestDeregisterViaClient(t *testing.T) {
	svc, srv := newTestRegistry(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, ServiceRecord{Name: "retrieval", Host: "localhost", Port: 8700}))
	require.NoError(t, client.Deregister(ctx, "retrieval"))
	require.NoError(t, client.Deregister(ctx, "retrieval"), "deregister is idempotent")

	assert.Equal(t, 0, svc.Catalog().Stats().Total)
}

func TestListRejectsInvalidStatusFilter(t *testing.T) {
	_, srv := newTestRegistry(t)
	client := NewClient(srv.URL)

	_, err := client.Discover(context.Background(), "", Status("bogus"))
	require.Error(t, err)
}

func TestHeartbeatLoop(t *testing.T) {
	svc, srv := newTestRegistry(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, ServiceRecord{Name: "orchestrator", Host: "localhost", Port: 8800}))
	before, _ := svc.Catalog().Get("orchestrator")

	client.StartHeartbeat(ctx, "orchestrator", 10*time.Millisecond)
	defer client.StopHeartbeat()

	require.Eventually(t, func() bool {
		rec, ok := svc.Catalog().Get("orchestrator")
		return ok && rec.LastHeartbeat.After(before.LastHeartbeat)
	}, time.Second, 5*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	svc, srv := newTestRegistry(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, ServiceRecord{Name: "a", Host: "h", Port: 1}))
	require.NoError(t, client.Register(ctx, ServiceRecord{Name: "b", Host: "h", Port: 2}))
	svc.Catalog().setStatus("a", StatusHealthy)

	resp, err := client.http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, Stats{Total: 2, Healthy: 1, Unknown: 1}, stats)
}
