package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CXR_NEO4J_URI.
const EnvPrefix = "CXR"

// Graph backends.
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
)

// Cloud LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds all environmentally dependent settings for cxrgraph.
type Config struct {
	LogLevel string

	// Embedding worker
	WorkerAddr         string
	EmbeddingDim       int
	EmbeddingBatchSize int
	EmbeddingTimeout   time.Duration

	// LLMs
	UseLLMExtraction bool
	UseLocalOnlyLLM  bool
	CloudProvider    string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	GeminiAPIKey     string
	GeminiModel      string
	OllamaHost       string
	OllamaModel      string
	DefaultTimeout   time.Duration

	// Extraction
	EntityTypes         []string
	TupleDelimiter      string
	RecordDelimiter     string
	CompletionDelimiter string

	// Graph
	GraphBackend  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	SQLitePath    string

	// Qdrant image index
	UseQdrantIndex   bool
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	// Linking and retrieval
	LinkThreshold    float64
	TopK             int
	RelatedLimit     int
	ContextTextLimit int

	// Ingestion
	IngestWorkers int
	StoreRetries  int
	StoreBackoff  time.Duration
	LedgerPath    string

	// HTTP
	HTTPAddr string
}

var defaults = map[string]any{
	"log_level": "info",

	"worker_addr":              "localhost:50051",
	"embedding_dim":            512,
	"embedding_batch_size":     32,
	"embedding_timeout_sec":    10,
	"use_llm_extraction":       true,
	"use_local_only_llm":       false,
	"cloud_provider":           ProviderOpenAI,
	"openai_api_key":           "",
	"openai_base_url":          "",
	"openai_model":             "gpt-4o-mini",
	"gemini_api_key":           "",
	"gemini_model":             "gemini-1.5-pro",
	"ollama_host":              "http://localhost:11434",
	"ollama_model":             "llama3",
	"default_timeout_sec":      60,
	"entity_types":             "ANATOMY,FINDING,DISEASE,DEVICE,PROCEDURE,ATTRIBUTE",
	"tuple_delimiter":          "<|>",
	"record_delimiter":         "##",
	"completion_delimiter":     "<|COMPLETE|>",
	"graph_backend":            BackendNeo4j,
	"neo4j_uri":                "neo4j://localhost:7687",
	"neo4j_user":               "neo4j",
	"neo4j_password":           "cxrgraph_dev",
	"neo4j_database":           "",
	"sqlite_path":              "cxrgraph.db",
	"use_qdrant_index":         false,
	"qdrant_host":              "localhost",
	"qdrant_port":              6334,
	"qdrant_collection":        "cxr_images",
	"link_threshold":           0.3,
	"top_k":                    3,
	"related_limit":            3,
	"context_text_limit":       1000,
	"ingest_workers":           4,
	"store_retries":            3,
	"store_backoff_ms":         200,
	"ledger_path":              "cxrgraph-ledger.db",
	"http_addr":                ":8080",
}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	switch c.GraphBackend {
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("CXR_NEO4J_URI is required when CXR_GRAPH_BACKEND is %s", BackendNeo4j)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("CXR_SQLITE_PATH is required when CXR_GRAPH_BACKEND is %s", BackendSQLite)
		}
	default:
		return fmt.Errorf("CXR_GRAPH_BACKEND must be %q or %q, got %q", BackendNeo4j, BackendSQLite, c.GraphBackend)
	}
	if !c.UseLocalOnlyLLM {
		switch c.CloudProvider {
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("CXR_OPENAI_API_KEY is required when CXR_USE_LOCAL_ONLY_LLM is false")
			}
		case ProviderGemini:
			if c.GeminiAPIKey == "" {
				return fmt.Errorf("CXR_GEMINI_API_KEY is required when CXR_USE_LOCAL_ONLY_LLM is false")
			}
		default:
			return fmt.Errorf("CXR_CLOUD_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.CloudProvider)
		}
	}
	if c.WorkerAddr == "" {
		return fmt.Errorf("CXR_WORKER_ADDR is required")
	}
	if c.LinkThreshold < -1 || c.LinkThreshold > 1 {
		return fmt.Errorf("CXR_LINK_THRESHOLD must be within [-1, 1], got %v", c.LinkThreshold)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("CXR_TOP_K must be positive, got %d", c.TopK)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("CXR_INGEST_WORKERS must be positive, got %d", c.IngestWorkers)
	}
	if c.TupleDelimiter == "" || c.RecordDelimiter == "" {
		return fmt.Errorf("CXR_TUPLE_DELIMITER and CXR_RECORD_DELIMITER must not be empty")
	}
	return nil
}

// Load reads settings from CXR_* environment variables and, when
// configFile is not empty, from that file. Environment wins over the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		LogLevel: v.GetString("log_level"),

		WorkerAddr:         v.GetString("worker_addr"),
		EmbeddingDim:       v.GetInt("embedding_dim"),
		EmbeddingBatchSize: v.GetInt("embedding_batch_size"),
		EmbeddingTimeout:   time.Duration(v.GetInt("embedding_timeout_sec")) * time.Second,

		UseLLMExtraction: v.GetBool("use_llm_extraction"),
		UseLocalOnlyLLM:  v.GetBool("use_local_only_llm"),
		CloudProvider:    strings.ToLower(v.GetString("cloud_provider")),
		OpenAIAPIKey:     v.GetString("openai_api_key"),
		OpenAIBaseURL:    v.GetString("openai_base_url"),
		OpenAIModel:      v.GetString("openai_model"),
		GeminiAPIKey:     v.GetString("gemini_api_key"),
		GeminiModel:      v.GetString("gemini_model"),
		OllamaHost:       v.GetString("ollama_host"),
		OllamaModel:      v.GetString("ollama_model"),
		DefaultTimeout:   time.Duration(v.GetInt("default_timeout_sec")) * time.Second,

		EntityTypes:         splitList(v.GetString("entity_types")),
		TupleDelimiter:      v.GetString("tuple_delimiter"),
		RecordDelimiter:     v.GetString("record_delimiter"),
		CompletionDelimiter: v.GetString("completion_delimiter"),

		GraphBackend:  strings.ToLower(v.GetString("graph_backend")),
		Neo4jURI:      v.GetString("neo4j_uri"),
		Neo4jUser:     v.GetString("neo4j_user"),
		Neo4jPassword: v.GetString("neo4j_password"),
		Neo4jDatabase: v.GetString("neo4j_database"),
		SQLitePath:    v.GetString("sqlite_path"),

		UseQdrantIndex:   v.GetBool("use_qdrant_index"),
		QdrantHost:       v.GetString("qdrant_host"),
		QdrantPort:       v.GetInt("qdrant_port"),
		QdrantCollection: v.GetString("qdrant_collection"),

		LinkThreshold:    v.GetFloat64("link_threshold"),
		TopK:             v.GetInt("top_k"),
		RelatedLimit:     v.GetInt("related_limit"),
		ContextTextLimit: v.GetInt("context_text_limit"),

		IngestWorkers: v.GetInt("ingest_workers"),
		StoreRetries:  v.GetInt("store_retries"),
		StoreBackoff:  time.Duration(v.GetInt("store_backoff_ms")) * time.Millisecond,
		LedgerPath:    v.GetString("ledger_path"),

		HTTPAddr: v.GetString("http_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
