package config

import (
	"fmt"
	"time"
)

// RetrievalConfig configures the retrieval gateway: which vector backend
// serves similarity search, the keyword index parameters, fusion
// weights, and the optional response cache.
type RetrievalConfig struct {
	Port          int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8700"`
	RegistryURL   string `yaml:"registry_url,omitempty" json:"registry_url,omitempty"`
	LLMGatewayURL string `yaml:"llm_gateway_url,omitempty" json:"llm_gateway_url,omitempty"`

	// Backend selects the vector engine: "qdrant" (remote, gRPC) or
	// "chromem" (embedded, zero external dependency).
	Backend    string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=qdrant,enum=chromem,default=chromem"`
	QdrantHost string `yaml:"qdrant_host,omitempty" json:"qdrant_host,omitempty"`
	QdrantPort int    `yaml:"qdrant_port,omitempty" json:"qdrant_port,omitempty" jsonschema:"default=6334"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"default=properties"`

	// CorpusPath points at the listings seed file indexed at startup.
	CorpusPath string `yaml:"corpus_path,omitempty" json:"corpus_path,omitempty"`

	// RRF fusion parameters.
	FusionK       int     `yaml:"fusion_k,omitempty" json:"fusion_k,omitempty" jsonschema:"minimum=1,default=60"`
	VectorWeight  float64 `yaml:"vector_weight,omitempty" json:"vector_weight,omitempty" jsonschema:"default=0.6"`
	KeywordWeight float64 `yaml:"keyword_weight,omitempty" json:"keyword_weight,omitempty" jsonschema:"default=0.4"`

	// RedisAddr enables the search response cache when non-empty.
	RedisAddr       string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds,omitempty" json:"cache_ttl_seconds,omitempty" jsonschema:"minimum=1,default=60"`

	Breaker BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8700
	}
	if c.RegistryURL == "" {
		c.RegistryURL = "http://localhost:8500"
	}
	if c.LLMGatewayURL == "" {
		c.LLMGatewayURL = "http://localhost:8600"
	}
	if c.Backend == "" {
		c.Backend = "chromem"
	}
	if c.QdrantHost == "" {
		c.QdrantHost = "localhost"
	}
	if c.QdrantPort == 0 {
		c.QdrantPort = 6334
	}
	if c.Collection == "" {
		c.Collection = "properties"
	}
	if c.FusionK == 0 {
		c.FusionK = 60
	}
	if c.VectorWeight == 0 {
		c.VectorWeight = 0.6
	}
	if c.KeywordWeight == 0 {
		c.KeywordWeight = 0.4
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 60
	}
	c.Breaker.SetDefaults()
}

func (c *RetrievalConfig) applyEnv() {
	if v := envString("REGISTRY_URL", ""); v != "" {
		c.RegistryURL = v
	}
	if v := envString("LLM_GATEWAY_URL", ""); v != "" {
		c.LLMGatewayURL = v
	}
	if v := envString("VECTOR_BACKEND", ""); v != "" {
		c.Backend = v
	}
	if v := envString("QDRANT_HOST", ""); v != "" {
		c.QdrantHost = v
	}
	if v := envInt("QDRANT_PORT", 0); v > 0 {
		c.QdrantPort = v
	}
	if v := envString("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := envString("RETRIEVAL_CORPUS_PATH", ""); v != "" {
		c.CorpusPath = v
	}
	c.Breaker.applyEnv()
}

func (c *RetrievalConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Backend {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("invalid backend %q (valid: qdrant, chromem)", c.Backend)
	}
	if c.VectorWeight < 0 || c.KeywordWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if c.VectorWeight+c.KeywordWeight == 0 {
		return fmt.Errorf("at least one fusion weight must be positive")
	}
	return nil
}

// CacheTTL returns the cache entry lifetime.
func (c *RetrievalConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
