package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCREENPILOT_TASK_MAX_PHASES
const EnvPrefix = "SCREENPILOT"

// Config holds the entire application configuration
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Model       ModelConfig       `mapstructure:"model" yaml:"model"`
	Task        TaskConfig        `mapstructure:"task" yaml:"task"`
	Observation ObservationConfig `mapstructure:"observation" yaml:"observation"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Recording   RecordingConfig   `mapstructure:"recording" yaml:"recording"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Bin               string        `mapstructure:"bin" yaml:"bin"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"` // Chrome/Chromium profile for authenticated sessions
	Width             int           `mapstructure:"width" yaml:"width"`
	Height            int           `mapstructure:"height" yaml:"height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

type ModelConfig struct {
	Provider          string  `mapstructure:"provider" yaml:"provider"`
	Name              string  `mapstructure:"name" yaml:"name"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// TaskConfig bounds the phase loop
type TaskConfig struct {
	MaxPhases      int           `mapstructure:"max_phases" yaml:"max_phases"`
	ErrorBudget    int           `mapstructure:"error_budget" yaml:"error_budget"`
	MaxBatchSize   int           `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	HistoryWindow  int           `mapstructure:"history_window" yaml:"history_window"`
	LocatorTimeout time.Duration `mapstructure:"locator_timeout" yaml:"locator_timeout"`
	VisibleTimeout time.Duration `mapstructure:"visible_timeout" yaml:"visible_timeout"`
	EnabledTimeout time.Duration `mapstructure:"enabled_timeout" yaml:"enabled_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type ObservationConfig struct {
	MaxChars           int  `mapstructure:"max_chars" yaml:"max_chars"`
	MaxElements        int  `mapstructure:"max_elements" yaml:"max_elements"`
	ScreenshotMaxWidth uint `mapstructure:"screenshot_max_width" yaml:"screenshot_max_width"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type RecordingConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Output        string `mapstructure:"output" yaml:"output"`
	FPS           int    `mapstructure:"fps" yaml:"fps"`
	MaxWidth      uint   `mapstructure:"max_width" yaml:"max_width"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// SetDefaults registers every key so env overrides work without a file
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 720)
	v.SetDefault("browser.navigation_timeout", "30s")

	// -- Model --
	v.SetDefault("model.provider", "claude")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "http://localhost:11434")
	v.SetDefault("model.max_tokens", 2048)
	v.SetDefault("model.requests_per_second", 1.0)
	v.SetDefault("model.burst", 2)

	// -- Task loop --
	v.SetDefault("task.max_phases", 20)
	v.SetDefault("task.error_budget", 5)
	v.SetDefault("task.max_batch_size", 3)
	v.SetDefault("task.history_window", 3)
	v.SetDefault("task.locator_timeout", "5s")
	v.SetDefault("task.visible_timeout", "3s")
	v.SetDefault("task.enabled_timeout", "3s")
	v.SetDefault("task.poll_interval", "100ms")

	// -- Observation --
	v.SetDefault("observation.max_chars", 5000)
	v.SetDefault("observation.max_elements", 150)
	v.SetDefault("observation.screenshot_max_width", 1280)

	// -- Server --
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Recording --
	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.output", "session.gif")
	v.SetDefault("recording.fps", 2)
	v.SetDefault("recording.max_width", 800)
	v.SetDefault("recording.screenshot_dir", "")
}

// Load resolves configuration from defaults, an optional YAML file and
// SCREENPILOT_* environment variables. An empty path looks for
// ./screenpilot.yaml and tolerates its absence; flags bound to v win.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("screenpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not unmarshal: %v", err))
	}
	return &cfg
}

var providers = map[string]bool{
	"claude": true, "anthropic": true,
	"openai": true, "gpt": true,
	"gemini": true, "google": true,
	"ollama": true,
}

// Validate checks the configuration for values the loop cannot run with
func (c *Config) Validate() error {
	var errs []error
	if !providers[strings.ToLower(c.Model.Provider)] {
		errs = append(errs, fmt.Errorf("model.provider %q is not supported (claude, openai, gemini, ollama)", c.Model.Provider))
	}
	if c.Task.MaxPhases <= 0 {
		errs = append(errs, errors.New("task.max_phases must be a positive integer"))
	}
	if c.Task.ErrorBudget <= 0 {
		errs = append(errs, errors.New("task.error_budget must be a positive integer"))
	}
	if c.Task.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("task.max_batch_size must be a positive integer"))
	}
	if c.Task.HistoryWindow < 0 {
		errs = append(errs, errors.New("task.history_window must not be negative"))
	}
	if c.Observation.MaxChars <= 0 || c.Observation.MaxElements <= 0 {
		errs = append(errs, errors.New("observation.max_chars and observation.max_elements must be positive"))
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		errs = append(errs, errors.New("browser.width and browser.height must be positive"))
	}
	if c.Model.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("model.requests_per_second must not be negative"))
	}
	if c.Recording.Enabled && c.Recording.FPS <= 0 {
		errs = append(errs, errors.New("recording.fps must be positive when recording is enabled"))
	}
	return errors.Join(errs...)
}
