package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the evidence engine.
type Config struct {
	Corpus    CorpusConfig    `yaml:"corpus"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Match     MatchConfig     `yaml:"match"`
	Vector    VectorConfig    `yaml:"vector"`
	Verify    VerifyConfig    `yaml:"verify"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	WebSearch WebSearchConfig `yaml:"websearch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CorpusConfig controls which files are indexed and how they are chunked.
type CorpusConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	ChunkLines   int      `yaml:"chunk_lines"`
	OverlapLines int      `yaml:"overlap_lines"`
}

// LexicalConfig holds n-gram index configuration.
type LexicalConfig struct {
	NgramSize      int     `yaml:"ngram_size"`
	MinContainment float64 `yaml:"min_containment"`
	RegionWindow   int     `yaml:"region_window"` // lines per region-scan window
	PrefilterDocs  int     `yaml:"prefilter_docs"` // corpus size above which the pre-filter kicks in
}

// MatchConfig holds hybrid matcher thresholds.
type MatchConfig struct {
	AcceptThreshold float64 `yaml:"accept_threshold"`
	EarlyExitScore  float64 `yaml:"early_exit_score"`
}

// VectorConfig holds quantized vector store configuration.
type VectorConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"`
	RecencyCache  int     `yaml:"recency_cache"`
}

// VerifyConfig holds verification loop configuration.
type VerifyConfig struct {
	MaxRounds       int     `yaml:"max_rounds"`
	TopK            int     `yaml:"top_k"`
	WeakThreshold   float64 `yaml:"weak_threshold"`
	StrongThreshold float64 `yaml:"strong_threshold"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai" or "mock"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// LLMConfig holds reasoning provider configuration.
type LLMConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// WebSearchConfig holds the web-search fallback configuration.
type WebSearchConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Includes:     []string{"**/*.txt", "**/*.md"},
			Excludes:     []string{"**/.evidence/**", "**/.git/**", "**/node_modules/**"},
			ChunkLines:   12,
			OverlapLines: 3,
		},
		Lexical: LexicalConfig{
			NgramSize:      6,
			MinContainment: 0.3,
			RegionWindow:   20,
			PrefilterDocs:  50,
		},
		Match: MatchConfig{
			AcceptThreshold: 0.7,
			EarlyExitScore:  0.95,
		},
		Vector: VectorConfig{
			MinSimilarity: 0.7,
			RecencyCache:  100,
		},
		Verify: VerifyConfig{
			MaxRounds:       3,
			TopK:            5,
			WeakThreshold:   0.5,
			StrongThreshold: 0.75,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 1536,
			BatchSize: 100,
		},
		LLM: LLMConfig{
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		WebSearch: WebSearchConfig{
			Enabled:        false,
			Endpoint:       "https://api.openalex.org/works",
			TimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a corpus directory (looks for evidence.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "evidence.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".evidence", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexPath returns the path to the quantized index file.
func IndexPath(dir string) string {
	return filepath.Join(dir, ".evidence", "index.json")
}

// CacheDBPath returns the path to the confidence/validation cache database.
func CacheDBPath(dir string) string {
	return filepath.Join(dir, ".evidence", "cache.db")
}

// EnsureDir ensures the .evidence directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".evidence"), 0755)
}
