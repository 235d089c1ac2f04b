package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the service.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	LLM          LLMConfig
	Maps         MapsConfig
	Orchestrator OrchestratorConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	maps, err := loadMapsConfig()
	if err != nil {
		return nil, err
	}

	orchestrator, err := loadOrchestratorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		LLM:          llm,
		Maps:         maps,
		Orchestrator: orchestrator,
	}, nil
}

// ServerConfig describes the HTTP transport.
type ServerConfig struct {
	Addr          string
	PublicBaseURL string
	AllowedOrigin []string
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string
	Format string
}

// loadServerConfig resolves the listen address from HOST and PORT.
func loadServerConfig() (ServerConfig, error) {
	host := strings.TrimSpace(os.Getenv("HOST"))
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// PORT may already carry the host, e.g. ":8080" or "127.0.0.1:8080".
		addr = port
	default:
		if _, err := strconv.Atoi(port); err != nil {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = net.JoinHostPort(host, port)
	}

	return ServerConfig{
		Addr:          addr,
		PublicBaseURL: strings.TrimRight(getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AllowedOrigin: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
	}, nil
}

const (
	ProviderNVIDIA = "nvidia"
	ProviderArk    = "ark"
)

// LLMConfig describes the hosted completion endpoint.
type LLMConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration
	MaxAttempts int
}

// Enabled reports whether the selected provider has credentials and a model.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// NewChatModel creates the chat model for the configured provider.
func (c LLMConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s credentials or model missing", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	case ProviderNVIDIA:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Timeout:     c.Timeout,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
}

func loadLLMConfig() (LLMConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderNVIDIA))

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return LLMConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return LLMConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return LLMConfig{}, err
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 45*time.Second)
	if err != nil {
		return LLMConfig{}, err
	}

	attempts := 2
	if override, err := parseOptionalIntEnv("LLM_MAX_ATTEMPTS"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		attempts = max(*override, 1)
	}

	cfg := LLMConfig{
		Provider:    provider,
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
		MaxAttempts: attempts,
	}

	switch provider {
	case ProviderNVIDIA:
		cfg.APIKey = strings.TrimSpace(os.Getenv("NVIDIA_API_KEY"))
		cfg.BaseURL = getEnvOrDefault("NVIDIA_BASE_URL", "https://integrate.api.nvidia.com/v1")
		cfg.Model = getEnvOrDefault("NVIDIA_MODEL", "nvidia/nemotron-4-340b-instruct")
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		cfg.Model = strings.TrimSpace(os.Getenv("ARK_MODEL"))
	default:
		return LLMConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return cfg, nil
}

// MapsConfig describes the optional geocoding/places integration.
type MapsConfig struct {
	APIKey        string
	Timeout       time.Duration
	NearbyEnabled bool
	NearbyRadius  uint
}

// Enabled reports whether a maps key is configured.
func (c MapsConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadMapsConfig() (MapsConfig, error) {
	timeout, err := parseDurationEnv("MAPS_TIMEOUT", 10*time.Second)
	if err != nil {
		return MapsConfig{}, err
	}

	nearby, err := parseBoolEnv("MAPS_NEARBY_ENABLED", true)
	if err != nil {
		return MapsConfig{}, err
	}

	radius := uint(2000)
	if override, err := parseOptionalIntEnv("MAPS_NEARBY_RADIUS"); err != nil {
		return MapsConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return MapsConfig{}, fmt.Errorf("invalid MAPS_NEARBY_RADIUS value %d", *override)
		}
		radius = uint(*override)
	}

	return MapsConfig{
		APIKey:        strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY")),
		Timeout:       timeout,
		NearbyEnabled: nearby,
		NearbyRadius:  radius,
	}, nil
}

// OrchestratorConfig tunes when plans are regenerated automatically.
type OrchestratorConfig struct {
	// AutoPlanThreshold is the participant count from which a participant
	// change regenerates the plan. Zero disables auto regeneration.
	AutoPlanThreshold int
}

func loadOrchestratorConfig() (OrchestratorConfig, error) {
	threshold := 2
	if override, err := parseOptionalIntEnv("AUTO_PLAN_THRESHOLD"); err != nil {
		return OrchestratorConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return OrchestratorConfig{}, fmt.Errorf("invalid AUTO_PLAN_THRESHOLD value %d", *override)
		}
		threshold = *override
	}
	return OrchestratorConfig{AutoPlanThreshold: threshold}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// Bare numbers are seconds.
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
