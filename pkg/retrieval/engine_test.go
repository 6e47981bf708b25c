package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
)

// hashEmbedder embeds text as a bag-of-words hash so overlapping
// queries land near each other. Deterministic, no network.
type hashEmbedder struct {
	fail bool
}

func (e *hashEmbedder) Embed(_ context.Context, input []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(input))
	for i, text := range input {
		vec := make([]float32, 32)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[h.Sum32()%32]++
		}
		out[i] = vec
	}
	return out, nil
}

func corpus() []Document {
	return []Document{
		{PropertyID: "p1", Title: "căn hộ 2 phòng ngủ view sông", District: "Quận 7", City: "HCMC", ListingType: "sale", Price: 3500, Bedrooms: 2},
		{PropertyID: "p2", Title: "căn hộ studio trung tâm", District: "Quận 1", City: "HCMC", ListingType: "rent", Price: 800, Bedrooms: 1},
		{PropertyID: "p3", Title: "nhà phố 3 tầng sân vườn", District: "Thủ Đức", City: "HCMC", ListingType: "sale", Price: 7200, Bedrooms: 4},
	}
}

func newTestEngine(t *testing.T, embedder Embedder, redisAddr string) *Engine {
	t.Helper()
	cfg := config.RetrievalConfig{RedisAddr: redisAddr}
	cfg.SetDefaults()
	cache := NewCache(redisAddr, time.Minute)
	engine := NewEngine(cfg, embedder, NewChromemBackend("properties-test"), cache, nil)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestHybridSearchFusesBothLegs(t *testing.T) {
	engine := newTestEngine(t, &hashEmbedder{}, "")
	require.NoError(t, engine.Seed(context.Background(), corpus()))

	result, err := engine.Search(context.Background(), "căn hộ phòng ngủ", Filters{}, 3)
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	require.NotEmpty(t, result.Documents)
	assert.Equal(t, "p1", result.Documents[0].PropertyID)
	for _, d := range result.Documents {
		assert.Equal(t, SourceFused, d.Source)
	}
}

func TestSearchDegradesWhenEmbeddingFails(t *testing.T) {
	embedder := &hashEmbedder{}
	engine := newTestEngine(t, embedder, "")
	require.NoError(t, engine.Seed(context.Background(), corpus()))

	embedder.fail = true
	result, err := engine.Search(context.Background(), "căn hộ", Filters{}, 3)
	require.NoError(t, err, "embed failure must degrade, not fail")
	assert.True(t, result.Degraded)
	require.NotEmpty(t, result.Documents)
	for _, d := range result.Documents {
		assert.Equal(t, SourceKeyword, d.Source)
	}
}

func TestSearchAppliesFilters(t *testing.T) {
	engine := newTestEngine(t, &hashEmbedder{}, "")
	require.NoError(t, engine.Seed(context.Background(), corpus()))

	result, err := engine.Search(context.Background(), "căn hộ", Filters{ListingType: "rent"}, 5)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "p2", result.Documents[0].PropertyID)
}

func TestSearchCachesResults(t *testing.T) {
	mr := miniredis.RunT(t)
	engine := newTestEngine(t, &hashEmbedder{}, mr.Addr())
	require.NoError(t, engine.Seed(context.Background(), corpus()))

	first, err := engine.Search(context.Background(), "căn hộ", Filters{}, 3)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Search(context.Background(), "  CĂN HỘ  ", Filters{}, 3)
	require.NoError(t, err)
	assert.True(t, second.Cached, "normalized query should hit the cache")
	assert.Equal(t, ids(first.Documents), ids(second.Documents))

	mr.FastForward(2 * time.Minute)
	third, err := engine.Search(context.Background(), "căn hộ", Filters{}, 3)
	require.NoError(t, err)
	assert.False(t, third.Cached, "entries expire after the TTL")
}

func TestGetByID(t *testing.T) {
	engine := newTestEngine(t, &hashEmbedder{}, "")
	require.NoError(t, engine.Seed(context.Background(), corpus()))

	docu, err := engine.GetByID("p3")
	require.NoError(t, err)
	assert.Equal(t, "nhà phố 3 tầng sân vườn", docu.Title)

	_, err = engine.GetByID("p999")
	assert.ErrorIs(t, err, ErrNotFound)
}
