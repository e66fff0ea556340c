// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-harvester/internal/filter"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_CRAWL_ROOT.
const EnvPrefix = "HARVESTER"

// MaxBatchSize bounds extract.batch_size.
const MaxBatchSize = 10_000

// Config captures every knob of both phases.
type Config struct {
	Logging logging.Config `mapstructure:"logging"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	URLList URLListConfig  `mapstructure:"urllist"`
	Crawl   CrawlConfig    `mapstructure:"crawl"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Extract ExtractConfig  `mapstructure:"extract"`
	Schema  SchemaConfig   `mapstructure:"schema"`
	LLM     LLMConfig      `mapstructure:"llm"`
	Store   StoreConfig    `mapstructure:"store"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
}

// MetricsConfig enables the /metrics and /healthz listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// URLListConfig locates the persisted URL list. A gs://bucket/object
// location is stored in GCS, anything else on the local filesystem.
type URLListConfig struct {
	Location string `mapstructure:"location"`
}

// CrawlConfig drives the discovery phase.
type CrawlConfig struct {
	Root        string        `mapstructure:"root"`
	MaxDepth    int           `mapstructure:"max_depth"`
	MaxPages    int           `mapstructure:"max_pages"`
	Concurrency int           `mapstructure:"concurrency"`
	SameHost    bool          `mapstructure:"same_host"`
	Filters     []filter.Rule `mapstructure:"filters"`
}

// FetchConfig governs how pages are fetched in both phases.
type FetchConfig struct {
	// Engine is auto (HTTP probe, headless when the page needs it), http or headless.
	Engine             string        `mapstructure:"engine"`
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	Burst              int           `mapstructure:"burst"`
	Headless           bool          `mapstructure:"headless"`
	ExtraArgs          []string      `mapstructure:"extra_args"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// ExtractConfig drives the extraction phase.
type ExtractConfig struct {
	Strategy               string `mapstructure:"strategy"`
	BaseSelector           string `mapstructure:"base_selector"`
	Selector               string `mapstructure:"selector"`
	ItemsPath              string `mapstructure:"items_path"`
	Concurrency            int    `mapstructure:"concurrency"`
	BatchSize              int    `mapstructure:"batch_size"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	TelemetryEvery         int    `mapstructure:"telemetry_every"`
}

// SchemaConfig picks the extraction schema: a preset, a YAML file or the
// inline definition, in that order of precedence.
type SchemaConfig struct {
	Preset string        `mapstructure:"preset"`
	File   string        `mapstructure:"file"`
	Inline schema.Schema `mapstructure:",squash"`
}

// LLMConfig configures the model used by the llm strategy.
type LLMConfig struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Instructions  string        `mapstructure:"instructions"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	Database    string `mapstructure:"database"`
	Table       string `mapstructure:"table"`
	CreateTable bool   `mapstructure:"create_table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables flush notices when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether flush notices should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Load reads an optional .env file, the optional config file at path and the
// environment. Only structural checks run here; each phase validates what it
// needs before doing any work.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("urllist.location", "discovered_urls.txt")

	v.SetDefault("crawl.root", "")
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.max_pages", 1100000)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.same_host", true)

	v.SetDefault("fetch.engine", "auto")
	v.SetDefault("fetch.user_agent", "catalog-harvester/0.1")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.rate_per_second", 2.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.max_parallel", 2)
	v.SetDefault("fetch.navigation_timeout", 30*time.Second)
	v.SetDefault("fetch.settle_delay", 0)
	v.SetDefault("fetch.promotion_threshold", 2048)

	v.SetDefault("extract.strategy", "css")
	v.SetDefault("extract.concurrency", 1)
	v.SetDefault("extract.batch_size", 50)
	v.SetDefault("extract.max_consecutive_failures", 0)
	v.SetDefault("extract.telemetry_every", 100)

	v.SetDefault("schema.preset", "")
	v.SetDefault("schema.file", "")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-oss:20b-cloud")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_input_chars", 20000)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "")
	v.SetDefault("store.table", "")
	v.SetDefault("store.create_table", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// bindLegacyEnv accepts the environment names earlier deployments used.
func bindLegacyEnv(v *viper.Viper) error {
	aliases := map[string][]string{
		"crawl.root":   {"HARVESTER_CRAWL_ROOT", "ECOMMERCE_TARGET_URL"},
		"llm.api_key":  {"HARVESTER_LLM_API_KEY", "OLLAMA_API_KEY"},
		"llm.model":    {"HARVESTER_LLM_MODEL", "OLLAMA_MODEL"},
		"store.dsn":    {"HARVESTER_STORE_DSN", "DATABASE_URL"},
		"store.table":  {"HARVESTER_STORE_TABLE", "PRODUCTS_TABLE_NAME"},
		"metrics.addr": {"HARVESTER_METRICS_ADDR"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces limits that hold for every phase.
func (c Config) Validate() error {
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	switch c.Fetch.Engine {
	case "auto", "http", "headless":
	default:
		return fmt.Errorf("fetch.engine must be auto, http or headless, got %q", c.Fetch.Engine)
	}
	if c.Fetch.MaxParallel <= 0 {
		return fmt.Errorf("fetch.max_parallel must be > 0")
	}
	if c.Extract.Concurrency <= 0 {
		return fmt.Errorf("extract.concurrency must be > 0")
	}
	if c.Extract.BatchSize <= 0 || c.Extract.BatchSize > MaxBatchSize {
		return fmt.Errorf("extract.batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.Extract.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("extract.max_consecutive_failures must be >= 0")
	}
	return nil
}

// FilterChain compiles crawl.filters.
func (c Config) FilterChain() (*filter.Chain, error) {
	return filter.NewChain(c.Crawl.Filters)
}

// ResolveSchema returns the configured extraction schema with store.table
// applied on top of the schema's own table.
func (c Config) ResolveSchema() (schema.Schema, error) {
	var (
		s   schema.Schema
		err error
	)
	switch {
	case c.Schema.Preset != "":
		s, err = schema.Preset(c.Schema.Preset)
	case c.Schema.File != "":
		s, err = schema.LoadFile(c.Schema.File)
	case len(c.Schema.Inline.Fields) > 0:
		s = c.Schema.Inline
		if s.ConflictKey == "" {
			s.ConflictKey = "url"
		}
	default:
		return schema.Schema{}, errors.New("no extraction schema configured")
	}
	if err != nil {
		return schema.Schema{}, err
	}
	if c.Store.Table != "" {
		s.Table = c.Store.Table
	}
	if s.Table == "" {
		s.Table = "products"
	}
	if err := s.Check(); err != nil {
		return schema.Schema{}, err
	}
	return s, nil
}

// ValidateDiscover checks everything the discover phase needs.
func (c Config) ValidateDiscover() error {
	root := strings.TrimSpace(c.Crawl.Root)
	if root == "" {
		return missing("discover", "crawl.root", "target root URL")
	}
	u, err := url.Parse(root)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &Error{Mode: "discover", Key: "crawl.root", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", root)}
	}
	if _, err := c.FilterChain(); err != nil {
		return &Error{Mode: "discover", Key: "crawl.filters", Reason: err.Error()}
	}
	if strings.TrimSpace(c.URLList.Location) == "" {
		return missing("discover", "urllist.location", "URL list location")
	}
	return nil
}

// ValidateExtract checks everything the extract phase needs, including the
// store.
func (c Config) ValidateExtract() error {
	if strings.TrimSpace(c.URLList.Location) == "" {
		return missing("extract", "urllist.location", "URL list location")
	}
	if _, err := c.ResolveSchema(); err != nil {
		return &Error{Mode: "extract", Key: "schema", Reason: err.Error()}
	}
	switch strings.ToLower(c.Extract.Strategy) {
	case "css", "embedded":
	case "llm":
		if strings.TrimSpace(c.LLM.Model) == "" {
			return missing("extract", "llm.model", "model identifier for the llm strategy")
		}
		switch strings.ToLower(c.LLM.Provider) {
		case "", "ollama":
		case "anthropic":
			if c.LLM.APIKey == "" {
				return missing("extract", "llm.api_key", "API key for the anthropic provider")
			}
		default:
			return &Error{Mode: "extract", Key: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
		}
	default:
		return &Error{Mode: "extract", Key: "extract.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Extract.Strategy)}
	}
	return c.ValidateStore("extract")
}

// ValidateStore checks the store settings for mode.
func (c Config) ValidateStore(mode string) error {
	switch strings.ToLower(c.Store.Driver) {
	case "memory":
		return nil
	case "postgres", "sqlite", "mysql":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return missing(mode, "store.dsn", "store connection string")
		}
	case "mongo":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return missing(mode, "store.dsn", "mongo connection URI")
		}
		if strings.TrimSpace(c.Store.Database) == "" {
			return missing(mode, "store.database", "mongo database name")
		}
	default:
		return &Error{Mode: mode, Key: "store.driver", Reason: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}
	return nil
}
