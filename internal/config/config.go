package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port string `toml:"port"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	MaxTokens int    `toml:"max_tokens"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

type StoreConfig struct {
	// Backend is one of memory, memgraph, postgres.
	Backend string `toml:"backend"`
}

type GatewayConfig struct {
	BaseURL      string   `toml:"base_url"`
	SystemKey    string   `toml:"system_key"`
	Timeout      Duration `toml:"timeout"`
	RPS          float64  `toml:"rps"`
	Burst        int      `toml:"burst"`
	BatchSize    int      `toml:"batch_size"`
	PageSize     int      `toml:"page_size"`
	Marketplace  string   `toml:"marketplace"`
	Marketplaces []string `toml:"marketplaces"`
}

type DiscoveryConfig struct {
	IdentifierPattern string   `toml:"identifier_pattern"`
	MaxSimilar        int      `toml:"max_similar"`
	SyncTimeout       Duration `toml:"sync_timeout"`
}

type ClassifierPrompts struct {
	Decision        string `toml:"decision"`
	DefaultCriteria string `toml:"default_criteria"`
	Concurrency     int    `toml:"concurrency"`
}

type PersonalizerPrompts struct {
	Regenerate    string `toml:"regenerate"`
	MinDecisions  int    `toml:"min_decisions"`
	SamplePerSide int    `toml:"sample_per_side"`
}

type CredentialsConfig struct {
	// Owners maps owner id to a product-data key.
	Owners map[string]string `toml:"owners"`
}

type Config struct {
	Server       ServerConfig        `toml:"server"`
	Logging      LoggingConfig       `toml:"logging"`
	LLM          LLMConfig           `toml:"llm"`
	Memgraph     MemgraphConfig      `toml:"memgraph"`
	Postgres     PostgresConfig      `toml:"postgres"`
	Store        StoreConfig         `toml:"store"`
	Gateway      GatewayConfig       `toml:"gateway"`
	Discovery    DiscoveryConfig     `toml:"discovery"`
	Classifier   ClassifierPrompts   `toml:"classifier"`
	Personalizer PersonalizerPrompts `toml:"personalizer"`
	Credentials  CredentialsConfig   `toml:"credentials"`
}

// Duration decodes TOML strings such as "15m" or "20s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadOrDefault loads path and falls back to Default only when the file does
// not exist. found reports whether the file was read. A file that exists but
// cannot be parsed is an error.
func LoadOrDefault(path string) (cfg *Config, found bool, err error) {
	cfg, err = Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return Default(), false, nil
	default:
		return nil, false, err
	}
}

// Default returns a config usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every empty field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Default to Ollama if provider is empty
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
		if c.LLM.Model == "" {
			c.LLM.Model = "gpt-oss:latest"
		}
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "http://localhost:11434"
		}
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1000
	}

	if c.Memgraph.URI == "" {
		c.Memgraph.URI = "bolt://localhost:7687"
	}
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = 4
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}

	if c.Gateway.Timeout.Duration <= 0 {
		c.Gateway.Timeout.Duration = 20 * time.Second
	}
	if c.Gateway.RPS <= 0 {
		c.Gateway.RPS = 5
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 5
	}
	if c.Gateway.BatchSize <= 0 || c.Gateway.BatchSize > 100 {
		c.Gateway.BatchSize = 100
	}
	if c.Gateway.PageSize <= 0 {
		c.Gateway.PageSize = 50
	}
	if c.Gateway.Marketplace == "" {
		c.Gateway.Marketplace = "us"
	}
	if len(c.Gateway.Marketplaces) == 0 {
		c.Gateway.Marketplaces = []string{"us", "ca", "uk", "de"}
	}

	if c.Discovery.IdentifierPattern == "" {
		c.Discovery.IdentifierPattern = DefaultIdentifierPattern
	}
	if c.Discovery.MaxSimilar <= 0 {
		c.Discovery.MaxSimilar = 20
	}
	if c.Discovery.SyncTimeout.Duration <= 0 {
		c.Discovery.SyncTimeout.Duration = 15 * time.Minute
	}

	if strings.TrimSpace(c.Classifier.Decision) == "" {
		c.Classifier.Decision = DefaultDecisionPrompt
	}
	if strings.TrimSpace(c.Classifier.DefaultCriteria) == "" {
		c.Classifier.DefaultCriteria = DefaultCriteria
	}
	if c.Classifier.Concurrency <= 0 {
		c.Classifier.Concurrency = 10
	}

	if strings.TrimSpace(c.Personalizer.Regenerate) == "" {
		c.Personalizer.Regenerate = DefaultRegeneratePrompt
	}
	if c.Personalizer.MinDecisions <= 0 {
		c.Personalizer.MinDecisions = 5
	}
	if c.Personalizer.SamplePerSide <= 0 {
		c.Personalizer.SamplePerSide = 20
	}
}

// ApplyEnv overrides config values with env vars when present.
func (c *Config) ApplyEnv() {
	override := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	override("PORT", &c.Server.Port)
	override("LOG_LEVEL", &c.Logging.Level)
	override("LOG_FORMAT", &c.Logging.Format)
	override("LLM_PROVIDER", &c.LLM.Provider)
	override("LLM_MODEL", &c.LLM.Model)
	override("LLM_API_KEY", &c.LLM.APIKey)
	override("LLM_BASE_URL", &c.LLM.BaseURL)
	override("MEMGRAPH_URI", &c.Memgraph.URI)
	override("MEMGRAPH_USER", &c.Memgraph.User)
	override("MEMGRAPH_PASSWORD", &c.Memgraph.Password)
	override("DATABASE_URL", &c.Postgres.DSN)
	override("STORE_BACKEND", &c.Store.Backend)
	override("PRODUCT_DATA_KEY", &c.Gateway.SystemKey)
	override("PRODUCT_DATA_BASE_URL", &c.Gateway.BaseURL)
}
