package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the report pipeline
type Config struct {
	General   GeneralConfig    `mapstructure:"general"`
	Server    ServerConfig     `mapstructure:"server"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Search    SearchConfig     `mapstructure:"search"`
	Workflow  WorkflowConfig   `mapstructure:"workflow"`
	Report    ReportConfig     `mapstructure:"report"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Streams   StreamsConfig    `mapstructure:"streams"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai or any openai-compatible endpoint
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model serves each pipeline role
type LLMRoutingConfig struct {
	Provider    string `mapstructure:"provider"`
	Coordinator string `mapstructure:"coordinator"`
	Planner     string `mapstructure:"planner"`
	Researcher  string `mapstructure:"researcher"`
	Processor   string `mapstructure:"processor"`
	Reporter    string `mapstructure:"reporter"`
	Fallback    string `mapstructure:"fallback"`
}

// Model returns the routed model for role, falling back when unset.
func (r LLMRoutingConfig) Model(role string) string {
	var m string
	switch role {
	case "coordinator":
		m = r.Coordinator
	case "planner":
		m = r.Planner
	case "researcher":
		m = r.Researcher
	case "processor":
		m = r.Processor
	case "reporter":
		m = r.Reporter
	}
	if strings.TrimSpace(m) == "" {
		return r.Fallback
	}
	return m
}

func (c LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llm.providers requires at least one provider")
	}
	if c.Routing.Provider != "" {
		if _, ok := c.Providers[c.Routing.Provider]; !ok {
			return fmt.Errorf("llm.routing.provider %q is not configured", c.Routing.Provider)
		}
	}
	if strings.TrimSpace(c.Routing.Fallback) == "" {
		return fmt.Errorf("llm.routing.fallback required")
	}
	return nil
}

// ActiveProvider returns the routed provider, or the only one configured.
func (c LLMConfig) ActiveProvider() (LLMProvider, error) {
	if c.Routing.Provider != "" {
		p, ok := c.Providers[c.Routing.Provider]
		if !ok {
			return LLMProvider{}, fmt.Errorf("llm provider %q not configured", c.Routing.Provider)
		}
		return p, nil
	}
	for _, p := range c.Providers {
		return p, nil
	}
	return LLMProvider{}, fmt.Errorf("no llm provider configured")
}

// SearchConfig configures the web search provider and page fetching
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper, brave or none
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	FetchPages   int           `mapstructure:"fetch_pages"`
	Fetcher      string        `mapstructure:"fetcher"` // http or browser
	MaxChars     int           `mapstructure:"max_chars"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "", "none":
	case "serper":
		if strings.TrimSpace(s.SerperAPIKey) == "" {
			return fmt.Errorf("search.serper_api_key required for serper provider")
		}
	case "brave":
		if strings.TrimSpace(s.BraveAPIKey) == "" {
			return fmt.Errorf("search.brave_api_key required for brave provider")
		}
	default:
		return fmt.Errorf("search.provider %q is not supported", s.Provider)
	}
	switch s.Fetcher {
	case "", "http", "browser":
	default:
		return fmt.Errorf("search.fetcher must be http or browser")
	}
	return nil
}

// WorkflowConfig bounds the orchestrator loops
type WorkflowConfig struct {
	MaxPlanIterations int           `mapstructure:"max_plan_iterations"`
	MaxLoopGuard      int           `mapstructure:"max_loop_guard"`
	MaxStepRetries    int           `mapstructure:"max_step_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	MaxTransitions    int           `mapstructure:"max_transitions"`
	AutoAccept        bool          `mapstructure:"auto_accept"`
	BackgroundSearch  bool          `mapstructure:"background_search"`
	MaxSearchResults  int           `mapstructure:"max_search_results"`
}

// Normalize applies conservative defaults for unset limits.
func (w WorkflowConfig) Normalize() WorkflowConfig {
	if w.MaxPlanIterations <= 0 {
		w.MaxPlanIterations = 3
	}
	if w.MaxLoopGuard <= 0 {
		w.MaxLoopGuard = 3
	}
	if w.MaxStepRetries < 0 {
		w.MaxStepRetries = 0
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = time.Second
	}
	if w.CallTimeout <= 0 {
		w.CallTimeout = 90 * time.Second
	}
	if w.MaxTransitions <= 0 {
		w.MaxTransitions = 64
	}
	if w.MaxSearchResults <= 0 {
		w.MaxSearchResults = 5
	}
	return w
}

func (w WorkflowConfig) Validate() error {
	if w.MaxStepRetries > 10 {
		return fmt.Errorf("workflow.max_step_retries must be <= 10")
	}
	if w.MaxTransitions < w.MaxLoopGuard {
		return fmt.Errorf("workflow.max_transitions must be >= workflow.max_loop_guard")
	}
	return nil
}

// ReportConfig controls final report assembly
type ReportConfig struct {
	Title            string        `mapstructure:"title"`
	BatchSize        int           `mapstructure:"batch_size"`
	PauseBetween     time.Duration `mapstructure:"pause_between"`
	MaxTokensPerItem int           `mapstructure:"max_tokens_per_item"`
	BatchThreshold   int           `mapstructure:"batch_threshold"`
	OutputDir        string        `mapstructure:"output_dir"`
}

// Normalize applies defaults for unset report values.
func (r ReportConfig) Normalize() ReportConfig {
	if strings.TrimSpace(r.Title) == "" {
		r.Title = "Research Report"
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 5
	}
	if r.PauseBetween < 0 {
		r.PauseBetween = 0
	}
	if r.MaxTokensPerItem <= 0 {
		r.MaxTokensPerItem = 4000
	}
	if r.BatchThreshold <= 0 {
		r.BatchThreshold = 6
	}
	if strings.TrimSpace(r.OutputDir) == "" {
		r.OutputDir = "./outputs/reports"
	}
	return r
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis             RedisConfig    `mapstructure:"redis"`
	Postgres          PostgresConfig `mapstructure:"postgres"`
	CheckpointBackend string         `mapstructure:"checkpoint_backend"` // postgres, redis or memory
	SectionsBackend   string         `mapstructure:"sections_backend"`   // postgres, file or memory
}

func (s StorageConfig) Validate() error {
	switch s.CheckpointBackend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("storage.checkpoint_backend must be postgres, redis or memory")
	}
	switch s.SectionsBackend {
	case "postgres", "file", "memory":
	default:
		return fmt.Errorf("storage.sections_backend must be postgres, file or memory")
	}
	// streams also need redis; commands that consume them validate it themselves
	if s.CheckpointBackend == "redis" {
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	}
	if s.CheckpointBackend == "postgres" || s.SectionsBackend == "postgres" {
		return s.Postgres.Validate()
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the url or the discrete fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// StreamsConfig names the redis streams used between API, scheduler and worker
type StreamsConfig struct {
	Threads  string `mapstructure:"threads"`
	Progress string `mapstructure:"progress"`
	Group    string `mapstructure:"group"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// ScheduleConfig fires a report request on a cron expression
type ScheduleConfig struct {
	Name       string `mapstructure:"name"`
	Cron       string `mapstructure:"cron"`
	Request    string `mapstructure:"request"`
	AutoAccept bool   `mapstructure:"auto_accept"`
}

func (s ScheduleConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schedules[].name required")
	}
	if strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("schedules[%s].cron required", s.Name)
	}
	if strings.TrimSpace(s.Request) == "" {
		return fmt.Errorf("schedules[%s].request required", s.Name)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":10001")
	v.SetDefault("workflow.max_plan_iterations", 3)
	v.SetDefault("workflow.max_loop_guard", 3)
	v.SetDefault("workflow.max_step_retries", 2)
	v.SetDefault("workflow.retry_backoff", "1s")
	v.SetDefault("workflow.call_timeout", "90s")
	v.SetDefault("workflow.max_transitions", 64)
	v.SetDefault("workflow.max_search_results", 5)
	v.SetDefault("search.provider", "none")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.fetcher", "http")
	v.SetDefault("search.max_chars", 8000)
	v.SetDefault("search.timeout", "20s")
	v.SetDefault("report.batch_size", 5)
	v.SetDefault("report.pause_between", "2s")
	v.SetDefault("report.max_tokens_per_item", 4000)
	v.SetDefault("report.batch_threshold", 6)
	v.SetDefault("report.output_dir", "./outputs/reports")
	v.SetDefault("storage.checkpoint_backend", "postgres")
	v.SetDefault("storage.sections_backend", "postgres")
	v.SetDefault("streams.threads", "reportflow.threads")
	v.SetDefault("streams.progress", "reportflow.progress")
	v.SetDefault("streams.group", "reportflow-workers")
	v.SetDefault("streams.max_len", 10000)
}

// Load reads configuration with viper. An empty path searches the default locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("REPORTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (REPORTFLOW_*)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Workflow = cfg.Workflow.Normalize()
	cfg.Report = cfg.Report.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Workflow.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	for _, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and panics on failure
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
