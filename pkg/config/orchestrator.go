package config

import (
	"fmt"
	"time"
)

// RAGConfig toggles and tunes the pipeline operators.
type RAGConfig struct {
	RetrievalLimit      int     `yaml:"retrieval_limit,omitempty" json:"retrieval_limit,omitempty" jsonschema:"minimum=1,default=20"`
	TopK                int     `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"minimum=1,default=5"`
	GraderThreshold     float64 `yaml:"grader_threshold,omitempty" json:"grader_threshold,omitempty" jsonschema:"minimum=0,maximum=1,default=0.5"`
	ReflectionThreshold float64 `yaml:"reflection_threshold,omitempty" json:"reflection_threshold,omitempty" jsonschema:"minimum=0,maximum=1,default=0.7"`

	// Explicit operator toggles; the minimal chain of retrieval plus
	// generation always stays on.
	EnableRewrite       *bool `yaml:"enable_rewrite,omitempty" json:"enable_rewrite,omitempty"`
	EnableHyDE          bool  `yaml:"enable_hyde" json:"enable_hyde"`
	EnableDecomposition bool  `yaml:"enable_decomposition" json:"enable_decomposition"`
	EnableGrader        *bool `yaml:"enable_grader,omitempty" json:"enable_grader,omitempty"`
	EnableRerank        *bool `yaml:"enable_rerank,omitempty" json:"enable_rerank,omitempty"`
	EnableReflection    bool  `yaml:"enable_reflection" json:"enable_reflection"`
}

func (c *RAGConfig) SetDefaults() {
	if c.RetrievalLimit == 0 {
		c.RetrievalLimit = 20
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.GraderThreshold == 0 {
		c.GraderThreshold = 0.5
	}
	if c.ReflectionThreshold == 0 {
		c.ReflectionThreshold = 0.7
	}
	if c.EnableRewrite == nil {
		c.EnableRewrite = boolPtr(true)
	}
	if c.EnableGrader == nil {
		c.EnableGrader = boolPtr(true)
	}
	if c.EnableRerank == nil {
		c.EnableRerank = boolPtr(true)
	}
}

func (c *RAGConfig) applyEnv() {
	if v := envInt("RAG_RETRIEVAL_LIMIT", 0); v > 0 {
		c.RetrievalLimit = v
	}
	if v := envInt("RAG_TOP_K", 0); v > 0 {
		c.TopK = v
	}
	if v := envFloat("RAG_GRADER_THRESHOLD", 0); v > 0 {
		c.GraderThreshold = v
	}
	if v := envFloat("RAG_REFLECTION_THRESHOLD", 0); v > 0 {
		c.ReflectionThreshold = v
	}
	c.EnableHyDE = envBool("RAG_ENABLE_HYDE", c.EnableHyDE)
	c.EnableDecomposition = envBool("RAG_ENABLE_DECOMPOSITION", c.EnableDecomposition)
	c.EnableReflection = envBool("RAG_ENABLE_REFLECTION", c.EnableReflection)
}

// DatabaseConfig configures the conversation store connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=sqlite,enum=postgres,enum=mysql,default=sqlite"`
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"minimum=1,default=100"`
	MinIdle  int `yaml:"min_idle,omitempty" json:"min_idle,omitempty" jsonschema:"minimum=0,default=10"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "file:reva.db?_busy_timeout=5000&_journal_mode=WAL"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 100
	}
	if c.MinIdle == 0 {
		c.MinIdle = 10
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required for driver %q", c.Driver)
	}
	return nil
}

// FeatureFlags are the deployment toggles that switch stubbed
// collaborators for real ones. They are plain immutable fields, read
// once at construction.
type FeatureFlags struct {
	UseRealCoreGateway  bool `yaml:"use_real_core_gateway" json:"use_real_core_gateway"`
	UseRealDBGateway    bool `yaml:"use_real_db_gateway" json:"use_real_db_gateway"`
	UseRealOrchestrator bool `yaml:"use_real_orchestrator" json:"use_real_orchestrator"`
}

// OrchestratorConfig configures the orchestrator service.
type OrchestratorConfig struct {
	Port                int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8800"`
	RegistryURL         string `yaml:"registry_url,omitempty" json:"registry_url,omitempty"`
	LLMGatewayURL       string `yaml:"llm_gateway_url,omitempty" json:"llm_gateway_url,omitempty"`
	RetrievalGatewayURL string `yaml:"retrieval_gateway_url,omitempty" json:"retrieval_gateway_url,omitempty"`

	MaxQueryLength int `yaml:"max_query_length,omitempty" json:"max_query_length,omitempty" jsonschema:"minimum=1,default=500"`
	HistoryWindow  int `yaml:"history_window,omitempty" json:"history_window,omitempty" jsonschema:"minimum=1,default=10"`
	LastRetrievedK int `yaml:"last_retrieved_k,omitempty" json:"last_retrieved_k,omitempty" jsonschema:"minimum=1,default=10"`

	// KnowledgePath points at the YAML knowledge base of domain phrase
	// expansions, loaded at startup and hot-reloaded on change.
	KnowledgePath string `yaml:"knowledge_path,omitempty" json:"knowledge_path,omitempty"`

	// DetailScoreThreshold is the minimum retrieval score for the
	// keyword mode of the property detail handler.
	DetailScoreThreshold float64 `yaml:"detail_score_threshold,omitempty" json:"detail_score_threshold,omitempty" jsonschema:"minimum=0,maximum=1,default=0.3"`

	// RequestTimeoutSeconds is the orchestrate deadline.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty" json:"request_timeout_seconds,omitempty" jsonschema:"minimum=1,default=90"`

	RAG      RAGConfig      `yaml:"rag,omitempty" json:"rag,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`
	Flags    FeatureFlags   `yaml:"flags,omitempty" json:"flags,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8800
	}
	if c.RegistryURL == "" {
		c.RegistryURL = "http://localhost:8500"
	}
	if c.LLMGatewayURL == "" {
		c.LLMGatewayURL = "http://localhost:8600"
	}
	if c.RetrievalGatewayURL == "" {
		c.RetrievalGatewayURL = "http://localhost:8700"
	}
	if c.MaxQueryLength == 0 {
		c.MaxQueryLength = 500
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 10
	}
	if c.LastRetrievedK == 0 {
		c.LastRetrievedK = 10
	}
	if c.DetailScoreThreshold == 0 {
		c.DetailScoreThreshold = 0.3
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 90
	}
	c.RAG.SetDefaults()
	c.Database.SetDefaults()
}

func (c *OrchestratorConfig) applyEnv() {
	if v := envString("REGISTRY_URL", ""); v != "" {
		c.RegistryURL = v
	}
	if v := envString("LLM_GATEWAY_URL", ""); v != "" {
		c.LLMGatewayURL = v
	}
	if v := envString("RETRIEVAL_GATEWAY_URL", ""); v != "" {
		c.RetrievalGatewayURL = v
	}
	if v := envInt("MAX_QUERY_LENGTH", 0); v > 0 {
		c.MaxQueryLength = v
	}
	if v := envInt("CONVERSATION_HISTORY_WINDOW", 0); v > 0 {
		c.HistoryWindow = v
	}
	if v := envInt("CONVERSATION_LAST_RETRIEVED_K", 0); v > 0 {
		c.LastRetrievedK = v
	}
	if v := envString("KNOWLEDGE_BASE_PATH", ""); v != "" {
		c.KnowledgePath = v
	}
	if v := envString("DATABASE_DRIVER", ""); v != "" {
		c.Database.Driver = v
	}
	if v := envString("DATABASE_DSN", ""); v != "" {
		c.Database.DSN = v
	}
	c.RAG.applyEnv()
}

func (c *OrchestratorConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxQueryLength < 1 {
		return fmt.Errorf("max_query_length must be >= 1")
	}
	if c.RAG.GraderThreshold < 0 || c.RAG.GraderThreshold > 1 {
		return fmt.Errorf("rag.grader_threshold must be in [0,1]")
	}
	if c.RAG.ReflectionThreshold < 0 || c.RAG.ReflectionThreshold > 1 {
		return fmt.Errorf("rag.reflection_threshold must be in [0,1]")
	}
	return c.Database.Validate()
}

// RequestTimeout returns the orchestrate deadline.
func (c *OrchestratorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func boolPtr(b bool) *bool { return &b }
