package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LimitsConfig bounds a single submission.
type LimitsConfig struct {
	MaxCodeBytes   int           `mapstructure:"max_code_bytes"`
	OversizePolicy string        `mapstructure:"oversize_policy"` // "reject" or "accept"
	Timeout        time.Duration `mapstructure:"timeout"`
	MemoryMB       int64         `mapstructure:"memory_mb"`
	CPUs           float64       `mapstructure:"cpus"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	PidsLimit      int64         `mapstructure:"pids_limit"`
}

type AdmissionConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueDepth    int           `mapstructure:"queue_depth"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

type SandboxConfig struct {
	Backend     string        `mapstructure:"backend"` // "docker" or "process"
	NodeBinary  string        `mapstructure:"node_binary"`
	BlankOutput string        `mapstructure:"blank_output"`
	KillGrace   time.Duration `mapstructure:"kill_grace"`
	PullImages  bool          `mapstructure:"pull_images"`
	// ProcessUnsafe lets the process backend run without namespace
	// isolation when the host cannot create namespaces.
	ProcessUnsafe bool `mapstructure:"process_unsafe"`
}

type LanguagesConfig struct {
	Default string            `mapstructure:"default"`
	Allowed []string          `mapstructure:"allowed"`
	Images  map[string]string `mapstructure:"images"`
}

type RubricsConfig struct {
	Dir string `mapstructure:"dir"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type ScoringConfig struct {
	Provider  string        `mapstructure:"provider"`
	LLMPoints float64       `mapstructure:"llm_points"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Limits    LimitsConfig              `mapstructure:"limits"`
	Admission AdmissionConfig           `mapstructure:"admission"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	Languages LanguagesConfig           `mapstructure:"languages"`
	Rubrics   RubricsConfig             `mapstructure:"rubrics"`
	Scoring   ScoringConfig             `mapstructure:"scoring"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Storage   StorageConfig             `mapstructure:"storage"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit"`
	Log       LogConfig                 `mapstructure:"log"`
}

// Load reads runbox.yaml from the working directory or $HOME/.runbox, then
// applies RUNBOX_* environment overrides. A missing config file is fine;
// every key has a default.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("runbox")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.runbox")

	v.SetEnvPrefix("RUNBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in API keys
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1]
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("limits.max_code_bytes", d.Limits.MaxCodeBytes)
	v.SetDefault("limits.oversize_policy", d.Limits.OversizePolicy)
	v.SetDefault("limits.timeout", d.Limits.Timeout)
	v.SetDefault("limits.memory_mb", d.Limits.MemoryMB)
	v.SetDefault("limits.cpus", d.Limits.CPUs)
	v.SetDefault("limits.max_output_bytes", d.Limits.MaxOutputBytes)
	v.SetDefault("limits.pids_limit", d.Limits.PidsLimit)

	v.SetDefault("admission.max_concurrent", d.Admission.MaxConcurrent)
	v.SetDefault("admission.queue_depth", d.Admission.QueueDepth)
	v.SetDefault("admission.queue_timeout", d.Admission.QueueTimeout)

	v.SetDefault("sandbox.backend", d.Sandbox.Backend)
	v.SetDefault("sandbox.node_binary", d.Sandbox.NodeBinary)
	v.SetDefault("sandbox.blank_output", d.Sandbox.BlankOutput)
	v.SetDefault("sandbox.kill_grace", d.Sandbox.KillGrace)
	v.SetDefault("sandbox.pull_images", d.Sandbox.PullImages)
	v.SetDefault("sandbox.process_unsafe", d.Sandbox.ProcessUnsafe)

	v.SetDefault("languages.default", d.Languages.Default)
	v.SetDefault("languages.allowed", d.Languages.Allowed)
	for lang, image := range d.Languages.Images {
		v.SetDefault("languages.images."+lang, image)
	}

	v.SetDefault("rubrics.dir", d.Rubrics.Dir)

	v.SetDefault("scoring.provider", d.Scoring.Provider)
	v.SetDefault("scoring.llm_points", d.Scoring.LLMPoints)
	v.SetDefault("scoring.timeout", d.Scoring.Timeout)
	for name, p := range d.Providers {
		v.SetDefault("providers."+name+".base_url", p.BaseURL)
		v.SetDefault("providers."+name+".api_key", p.APIKey)
		v.SetDefault("providers."+name+".model", p.Model)
	}

	v.SetDefault("storage.db_path", d.Storage.DBPath)

	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.rps", d.RateLimit.RPS)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)

	v.SetDefault("log.level", d.Log.Level)
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 30 * time.Second,
		},
		Limits: LimitsConfig{
			MaxCodeBytes:   64 * 1024,
			OversizePolicy: "reject",
			Timeout:        5 * time.Second,
			MemoryMB:       128,
			CPUs:           0.5,
			MaxOutputBytes: 64 * 1024,
			PidsLimit:      32,
		},
		Admission: AdmissionConfig{
			MaxConcurrent: 8,
			QueueDepth:    256,
			QueueTimeout:  60 * time.Second,
		},
		Sandbox: SandboxConfig{
			Backend:     "docker",
			NodeBinary:  "node",
			BlankOutput: "error exists",
			KillGrace:   2 * time.Second,
			PullImages:  true,
		},
		Languages: LanguagesConfig{
			Default: "javascript",
			Allowed: []string{"javascript", "typescript"},
			Images: map[string]string{
				"javascript": "node:22-slim",
				"typescript": "node:22-slim",
			},
		},
		Rubrics: RubricsConfig{
			Dir: filepath.Join(".", "rubrics"),
		},
		Scoring: ScoringConfig{
			Provider:  "",
			LLMPoints: 40,
			Timeout:   20 * time.Second,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				BaseURL: "http://localhost:11434/v1/",
				APIKey:  "ollama",
				Model:   "qwen2.5-coder:7b",
			},
		},
		Storage: StorageConfig{
			DBPath: "",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     50,
			Burst:   200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Limits.MaxCodeBytes <= 0:
		return fmt.Errorf("limits.max_code_bytes must be positive")
	case c.Limits.OversizePolicy != "reject" && c.Limits.OversizePolicy != "accept":
		return fmt.Errorf("limits.oversize_policy must be reject or accept, got %q", c.Limits.OversizePolicy)
	case c.Limits.Timeout <= 0:
		return fmt.Errorf("limits.timeout must be positive")
	case c.Limits.MaxOutputBytes <= 0:
		return fmt.Errorf("limits.max_output_bytes must be positive")
	case c.Admission.MaxConcurrent <= 0:
		return fmt.Errorf("admission.max_concurrent must be positive")
	case c.Admission.QueueDepth < 0:
		return fmt.Errorf("admission.queue_depth cannot be negative")
	case c.Sandbox.Backend != "docker" && c.Sandbox.Backend != "process":
		return fmt.Errorf("sandbox.backend must be docker or process, got %q", c.Sandbox.Backend)
	case len(c.Languages.Allowed) == 0:
		return fmt.Errorf("languages.allowed cannot be empty")
	}
	return nil
}

// Provider returns the LLM provider used for model-backed grading.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	if name == "" {
		name = c.Scoring.Provider
	}
	p, ok := c.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}
