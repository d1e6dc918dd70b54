// Package config loads the application configuration.
//
// Values come from three layers, later layers winning:
//  1. Defaults (Default)
//  2. An optional YAML file
//  3. Environment variables
//
// The merged result is checked with validator struct tags before it is
// handed to anything else, so a bad PORT or an unknown sandbox kind fails
// at startup instead of on the first request.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Model providers.
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
)

// Sandbox kinds.
const (
	SandboxDocker  = "docker"
	SandboxProcess = "process"
)

// Structured-output modes understood by the model client.
const (
	OutputFunctions  = "functions"
	OutputTools      = "tools"
	OutputJSONSchema = "json_schema"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string  `yaml:"log_level" validate:"oneof=debug info warn error"`
	Server   Server  `yaml:"server"`
	Model    Model   `yaml:"model"`
	Sandbox  Sandbox `yaml:"sandbox"`
}

// Server configures the HTTP app.
type Server struct {
	Port              int    `yaml:"port" validate:"min=1,max=65535"`
	TemplateDir       string `yaml:"template_dir" validate:"required"`
	StaticDir         string `yaml:"static_dir" validate:"required"`
	DBPath            string `yaml:"db_path" validate:"required"`
	JWTSecret         string `yaml:"jwt_secret"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs" validate:"min=1,max=64"`
}

// Model configures the model service.
type Model struct {
	Provider   string `yaml:"provider" validate:"oneof=azure openai"`
	Endpoint   string `yaml:"endpoint" validate:"required_if=Provider azure,omitempty,url"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
	// Deployment is the Azure deployment name, or the model name for OpenAI.
	Deployment        string        `yaml:"deployment" validate:"required"`
	Output            string        `yaml:"output" validate:"oneof=functions tools json_schema"`
	// Temperature is pinned to 0 so repeated runs of a requirement sample
	// deterministically.
	Temperature       float32       `yaml:"temperature" validate:"eq=0"`
	MaxTokens         int           `yaml:"max_tokens" validate:"min=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"min=0"`
	Burst             int           `yaml:"burst" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=1s"`
}

// Sandbox configures where generated code runs.
type Sandbox struct {
	Kind        string        `yaml:"kind" validate:"oneof=docker process"`
	Image       string        `yaml:"image" validate:"required_if=Kind docker"`
	MemoryLimit int64         `yaml:"memory_limit" validate:"min=0"`
	CPULimit    float64       `yaml:"cpu_limit" validate:"min=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"min=100ms"`
	PoolSize    int           `yaml:"pool_size" validate:"min=1,max=32"`
	Interpreter string        `yaml:"interpreter" validate:"required_if=Kind process"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			Port:              8080,
			TemplateDir:       "web/templates",
			StaticDir:         "web/static",
			DBPath:            "data/agentcoder.db",
			MaxConcurrentRuns: 4,
		},
		Model: Model{
			Provider:          ProviderAzure,
			APIVersion:        "2023-07-01-preview",
			Deployment:        "gpt-4-1106-preview",
			Output:            OutputFunctions,
			Temperature:       0,
			MaxTokens:         1024,
			RequestsPerSecond: 2,
			Burst:             4,
			Timeout:           2 * time.Minute,
		},
		Sandbox: Sandbox{
			Kind:        SandboxDocker,
			Image:       "python:3.12-alpine",
			MemoryLimit: 128 * 1024 * 1024,
			CPULimit:    0.5,
			Timeout:     10 * time.Second,
			PoolSize:    3,
			Interpreter: "python3",
		},
	}
}

var validate = validator.New()

// Load builds the configuration. path may be empty; a missing file at a
// non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports the first few problems by
// their YAML path.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Model.MaxTokens" into "model.maxtokens".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// SlogLevel maps LogLevel onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Addr is the listen address for the HTTP server.
func (s Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// AuthEnabled reports whether API tokens are required.
func (s Server) AuthEnabled() bool {
	return s.JWTSecret != ""
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables. Provider-specific names are
// read after MODEL_PROVIDER so each provider only picks up its own keys.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(dst *float64, key string) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not a number", key, v))
				return
			}
			*dst = f
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	str(&cfg.LogLevel, "LOG_LEVEL")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	integer(&cfg.Server.Port, "PORT")
	str(&cfg.Server.DBPath, "DB_PATH")
	str(&cfg.Server.JWTSecret, "JWT_SECRET")
	str(&cfg.Server.TemplateDir, "TEMPLATE_DIR")
	str(&cfg.Server.StaticDir, "STATIC_DIR")
	integer(&cfg.Server.MaxConcurrentRuns, "MAX_CONCURRENT_RUNS")

	str(&cfg.Model.Provider, "MODEL_PROVIDER")
	switch cfg.Model.Provider {
	case ProviderAzure:
		str(&cfg.Model.Endpoint, "AZURE_OPENAI_ENDPOINT")
		str(&cfg.Model.APIKey, "AZURE_OPENAI_API_KEY")
		str(&cfg.Model.APIVersion, "AZURE_OPENAI_API_VERSION")
		str(&cfg.Model.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case ProviderOpenAI:
		str(&cfg.Model.Endpoint, "OPENAI_BASE_URL")
		str(&cfg.Model.APIKey, "OPENAI_API_KEY")
		str(&cfg.Model.Deployment, "OPENAI_MODEL")
	}
	str(&cfg.Model.Output, "MODEL_OUTPUT")
	integer(&cfg.Model.MaxTokens, "MODEL_MAX_TOKENS")
	float(&cfg.Model.RequestsPerSecond, "MODEL_RPS")
	duration(&cfg.Model.Timeout, "MODEL_TIMEOUT")

	str(&cfg.Sandbox.Kind, "SANDBOX")
	str(&cfg.Sandbox.Image, "SANDBOX_IMAGE")
	duration(&cfg.Sandbox.Timeout, "SANDBOX_TIMEOUT")
	str(&cfg.Sandbox.Interpreter, "SANDBOX_INTERPRETER")

	return errors.Join(errs...)
}
