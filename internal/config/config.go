package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/bookforge/internal/core"
)

type Config struct {
	AI     AIConfig `yaml:"ai" validate:"required"`
	Paths  Paths    `yaml:"paths"`
	Limits Limits   `yaml:"limits" validate:"required"`
	Policy Policy   `yaml:"policy" validate:"required"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key" validate:"required,min=20"`
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Timeout int    `yaml:"timeout" validate:"required,min=10,max=3600"`
}

type Paths struct {
	ProjectDir string `yaml:"project_dir"`
}

// Load reads config from the resolved path, applying env overrides and
// defaults. A missing file yields defaults plus whatever the environment
// provides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	configPath := getConfigPath()
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if cfg.AI.APIKey == "" || cfg.AI.APIKey == "${BOOKFORGE_API_KEY}" {
		cfg.AI.APIKey = os.Getenv("BOOKFORGE_API_KEY")
	}
	if v := os.Getenv("BOOKFORGE_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("BOOKFORGE_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("BOOKFORGE_PROJECT_DIR"); v != "" {
		cfg.Paths.ProjectDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration before file and env overrides.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:   "gpt-4.1",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 900,
		},
		Paths: Paths{
			ProjectDir: defaultProjectDir(),
		},
		Limits: DefaultLimits(),
		Policy: DefaultPolicy(),
	}
}

func getConfigPath() string {
	if path := os.Getenv("BOOKFORGE_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bookforge", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bookforge", "config.yaml")
}

func defaultProjectDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "bookforge", "project")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "bookforge", "project")
}

func (c *Config) Validate() error {
	if c.Paths.ProjectDir == "" {
		c.Paths.ProjectDir = defaultProjectDir()
	}
	if c.Limits.MaxRetries == 0 && c.Limits.RateLimit.RequestsPerMinute == 0 {
		c.Limits = DefaultLimits()
	}
	if c.Policy.ConfidenceThreshold == 0 {
		c.Policy = DefaultPolicy()
	}

	if c.AI.APIKey == "" {
		return fmt.Errorf("%w: set BOOKFORGE_API_KEY or ai.api_key", core.ErrNoAPIKey)
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
