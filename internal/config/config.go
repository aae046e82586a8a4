// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Generator() GeneratorConfig
	LLM() LLMConfig
	OCR() OCRConfig
	Validation() ValidationConfig
	Sandbox() SandboxConfig
	Tracker() TrackerConfig
	Server() ServerConfig

	// Setters used by CLI flag overrides.
	SetSandboxHeadless(bool)
	SetGeneratorOutputDir(string)
	SetLLMProvider(LLMProvider)
	SetServerAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	GeneratorCfg  GeneratorConfig  `mapstructure:"generator" yaml:"generator"`
	LLMCfg        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	OCRCfg        OCRConfig        `mapstructure:"ocr" yaml:"ocr"`
	ValidationCfg ValidationConfig `mapstructure:"validation" yaml:"validation"`
	SandboxCfg    SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	TrackerCfg    TrackerConfig    `mapstructure:"tracker" yaml:"tracker"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Generator() GeneratorConfig   { return c.GeneratorCfg }
func (c *Config) LLM() LLMConfig               { return c.LLMCfg }
func (c *Config) OCR() OCRConfig               { return c.OCRCfg }
func (c *Config) Validation() ValidationConfig { return c.ValidationCfg }
func (c *Config) Sandbox() SandboxConfig       { return c.SandboxCfg }
func (c *Config) Tracker() TrackerConfig       { return c.TrackerCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSandboxHeadless(b bool)      { c.SandboxCfg.Headless = b }
func (c *Config) SetGeneratorOutputDir(d string) { c.GeneratorCfg.OutputDir = d }
func (c *Config) SetLLMProvider(p LLMProvider)   { c.LLMCfg.Provider = p }
func (c *Config) SetServerAddr(addr string)      { c.ServerCfg.Addr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory repositories.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// GeneratorConfig controls where programs are written and how long synthesis may take.
type GeneratorConfig struct {
	OutputDir        string        `mapstructure:"output_dir" yaml:"output_dir"`
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout" yaml:"synthesis_timeout"`
}

// LLMProvider defines the supported code-synthesis providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderNone   LLMProvider = "none"
)

// LLMConfig defines the code-synthesis model.
type LLMConfig struct {
	Provider    LLMProvider `mapstructure:"provider" yaml:"provider"`
	Model       string      `mapstructure:"model" yaml:"model"`
	APIKey      string      `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string      `mapstructure:"endpoint" yaml:"endpoint"`
	Temperature float32     `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int         `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// OCRConfig configures the text extraction service client.
type OCRConfig struct {
	URL                string        `mapstructure:"url" yaml:"url"`
	Language           string        `mapstructure:"language" yaml:"language"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FallbackConfidence float64       `mapstructure:"fallback_confidence" yaml:"fallback_confidence"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// ValidationConfig holds the scoring thresholds.
type ValidationConfig struct {
	Threshold     float64 `mapstructure:"threshold" yaml:"threshold"`
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	Metric        string  `mapstructure:"metric" yaml:"metric"`
	Language      string  `mapstructure:"language" yaml:"language"`

	// EvidenceTimeout bounds the download of an http(s) evidence reference.
	EvidenceTimeout time.Duration `mapstructure:"evidence_timeout" yaml:"evidence_timeout"`
}

// SandboxConfig configures the disposable browser runtime.
type SandboxConfig struct {
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	RunTimeout    time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	EvidenceDir   string        `mapstructure:"evidence_dir" yaml:"evidence_dir"`
	ViewportW     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportH     int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	StepDelay     time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// TrackerConfig bounds live executions. A zero RunTimeout means unbounded.
type TrackerConfig struct {
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scriptforge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.connect_timeout", "30s")

	// -- Generator --
	v.SetDefault("generator.output_dir", "generated-scripts")
	v.SetDefault("generator.synthesis_timeout", "60s")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderNone))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4000)

	// -- OCR --
	v.SetDefault("ocr.url", "http://localhost:8001")
	v.SetDefault("ocr.language", "ch")
	v.SetDefault("ocr.timeout", "30s")
	v.SetDefault("ocr.fallback_confidence", 0.5)
	v.SetDefault("ocr.rate_limit", 0)

	// -- Validation --
	v.SetDefault("validation.threshold", 0.7)
	v.SetDefault("validation.min_confidence", 0.7)
	v.SetDefault("validation.metric", "token_set")
	v.SetDefault("validation.evidence_timeout", "30s")

	// -- Sandbox --
	v.SetDefault("sandbox.headless", true)
	v.SetDefault("sandbox.run_timeout", "5m")
	v.SetDefault("sandbox.max_concurrent", 4)
	v.SetDefault("sandbox.evidence_dir", "test-results")
	v.SetDefault("sandbox.viewport_width", 1280)
	v.SetDefault("sandbox.viewport_height", 720)
	v.SetDefault("sandbox.args", []string{})
	v.SetDefault("sandbox.step_delay", "1s")
	v.SetDefault("sandbox.action_timeout", "30s")

	// -- Tracker --
	v.SetDefault("tracker.run_timeout", "0s")

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "SCRIPTFORGE_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("llm.api_key", "SCRIPTFORGE_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.GeneratorCfg.OutputDir == "" {
		return fmt.Errorf("generator.output_dir is a required configuration field")
	}
	if c.GeneratorCfg.SynthesisTimeout <= 0 {
		return fmt.Errorf("generator.synthesis_timeout must be a positive duration")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.OCRCfg.Validate(); err != nil {
		return fmt.Errorf("ocr configuration invalid: %w", err)
	}
	if err := c.ValidationCfg.Validate(); err != nil {
		return fmt.Errorf("validation configuration invalid: %w", err)
	}
	if c.SandboxCfg.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be a positive integer")
	}
	if c.SandboxCfg.RunTimeout <= 0 {
		return fmt.Errorf("sandbox.run_timeout must be a positive duration")
	}
	if c.SandboxCfg.EvidenceDir == "" {
		return fmt.Errorf("sandbox.evidence_dir is a required configuration field")
	}
	if c.TrackerCfg.RunTimeout < 0 {
		return fmt.Errorf("tracker.run_timeout must not be negative")
	}
	return nil
}

// Validate checks the LLM provider selection.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case "", ProviderNone:
		return nil
	case ProviderGemini, ProviderOpenAI:
		if l.Model == "" {
			return fmt.Errorf("model is required when provider is %q", l.Provider)
		}
		return nil
	default:
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
}

// Validate checks the OCR client settings.
func (o *OCRConfig) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("url is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if o.FallbackConfidence < 0.0 || o.FallbackConfidence > 1.0 {
		return fmt.Errorf("fallback_confidence must be between 0.0 and 1.0")
	}
	if o.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// Validate checks the scoring thresholds.
func (v *ValidationConfig) Validate() error {
	if v.Threshold < 0.0 || v.Threshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0")
	}
	if v.MinConfidence < 0.0 || v.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0")
	}
	switch v.Metric {
	case "token_set", "levenshtein":
	default:
		return fmt.Errorf("metric must be one of token_set, levenshtein")
	}
	if v.EvidenceTimeout < 0 {
		return fmt.Errorf("evidence_timeout must not be negative")
	}
	return nil
}
