package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
)

func newTestGatewayServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	cfg := config.RetrievalConfig{}
	cfg.SetDefaults()
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)

	// Swap the gateway embedder for the deterministic test one and
	// seed directly; Start would try to reach the LLM gateway.
	svc.engine.embedder = &hashEmbedder{}
	require.NoError(t, svc.engine.Seed(context.Background(), corpus()))

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func postSearch(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/search", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSearchEndpoint(t *testing.T) {
	_, srv := newTestGatewayServer(t)

	resp := postSearch(t, srv, `{"query":"căn hộ phòng ngủ","limit":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.Documents)
	assert.LessOrEqual(t, len(result.Documents), 2)
	assert.Equal(t, "p1", result.Documents[0].PropertyID)
}

// The search response body is {results, total, execution_time_ms}.
func TestSearchResponseWireShape(t *testing.T) {
	_, srv := newTestGatewayServer(t)

	resp := postSearch(t, srv, `{"query":"căn hộ phòng ngủ","limit":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body, "results")
	require.Contains(t, body, "total")
	assert.Contains(t, body, "execution_time_ms")

	var docs []Document
	require.NoError(t, json.Unmarshal(body["results"], &docs))
	var total int
	require.NoError(t, json.Unmarshal(body["total"], &total))
	assert.Equal(t, len(docs), total)
	assert.NotEmpty(t, docs)
}

func TestSearchEndpointRejectsUnknownFilter(t *testing.T) {
	_, srv := newTestGatewayServer(t)

	resp := postSearch(t, srv, `{"query":"căn hộ","filters":{"bedroooms":2}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "bedroooms")
}

func TestSearchEndpointRequiresQuery(t *testing.T) {
	_, srv := newTestGatewayServer(t)
	resp := postSearch(t, srv, `{"limit":3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPropertyEndpoint(t *testing.T) {
	_, srv := newTestGatewayServer(t)

	resp, err := http.Get(srv.URL + "/properties/p2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var property Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&property))
	assert.Equal(t, "căn hộ studio trung tâm", property.Title)

	missing, err := http.Get(srv.URL + "/properties/p404")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestClientRoundTrip(t *testing.T) {
	_, srv := newTestGatewayServer(t)
	client := NewClient(srv.URL)

	result, err := client.Search(context.Background(), "căn hộ", Filters{ListingType: "rent"}, 5)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "p2", result.Documents[0].PropertyID)

	property, err := client.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, property.Bedrooms)

	_, err = client.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
