// Package config resolves process configuration from environment variables,
// an optional YAML config file (ATLAS_CONFIG) and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

// Viper keys. Each maps to the upper-cased env var of the same name
// (e.g. "search_api_key" -> SEARCH_API_KEY) and to a YAML field.
const (
	KeyConfigFile          = "atlas_config"
	KeyControlPlanePort    = "control_plane_port"
	KeyControlPlaneURL     = "control_plane_url"
	KeyDatabaseURL         = "database_url"
	KeyTemporalAddress     = "temporal_address"
	KeyTemporalNamespace   = "temporal_namespace"
	KeyTemporalTaskQueue   = "temporal_task_queue"
	KeyLLMMode             = "llm_mode"
	KeyLLMProvider         = "llm_provider"
	KeyLLMModel            = "llm_model"
	KeyLLMBaseURL          = "llm_base_url"
	KeyLLMAPIKey           = "llm_api_key"
	KeyOpenRouterAPIKey    = "openrouter_api_key"
	KeyLLMFallbackProvider = "llm_fallback_provider"
	KeyLLMFallbackModel    = "llm_fallback_model"
	KeyLLMFallbackBaseURL  = "llm_fallback_base_url"
	KeyLLMFallbackAPIKey   = "llm_fallback_api_key"
	KeyLLMSecretsKey       = "llm_secrets_key"
	KeySearchProvider      = "search_provider"
	KeySearchAPIKey        = "search_api_key"
	KeySearchBaseURL       = "search_base_url"
	KeySearchResultLimit   = "search_result_limit"
	KeySearchRatePerMinute = "search_rate_per_minute"
	KeyDataDir             = "atlas_data_dir"
	KeyCachePath           = "cache_path"
	KeyCacheMaxAgeDays     = "cache_max_age_days"
	KeyMinConfidence       = "min_acceptable_confidence"
	KeyConfidenceTarget    = "confidence_target"
	KeyCompletenessTarget  = "completeness_target"
	KeyPacing              = "pacing"
	KeyCityStagger         = "city_stagger"
	KeyCityTimeout         = "city_timeout"
	KeyMaxConcurrentCities = "max_concurrent_cities"
	KeyCostWeight          = "remote_work_cost_weight"
	KeyInternetWeight      = "remote_work_internet_weight"
	KeyMonthlyBudget       = "monthly_budget"
	KeyCities              = "atlas_cities"
	KeyCitiesFile          = "cities_file"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyOtelEnabled         = "otel_enabled"
)

type Config struct {
	ControlPlanePort    string
	ControlPlaneURL     string
	DatabaseURL         string
	TemporalAddress     string
	TemporalNamespace   string
	TemporalTaskQueue   string
	LLMMode             string
	LLMProvider         string
	LLMModel            string
	LLMBaseURL          string
	LLMAPIKey           string
	OpenRouterAPIKey    string
	LLMFallbackProvider string
	LLMFallbackModel    string
	LLMFallbackBaseURL  string
	LLMFallbackAPIKey   string
	LLMSecretsKey       string
	SearchProvider      string
	SearchAPIKey        string
	SearchBaseURL       string
	SearchResultLimit   int
	SearchRatePerMinute int
	DataDir             string
	CachePath           string
	CacheMaxAgeDays     int
	Goals               agent.Goals
	Pacing              time.Duration
	CityStagger         time.Duration
	CityTimeout         time.Duration
	MaxConcurrentCities int
	Weights             agent.RemoteWorkWeights
	MonthlyBudget       float64
	Cities              []agent.CityRef
	Categories          []agent.Category
	LogLevel            string
	LogFormat           string
	OtelEnabled         bool
}

// NewViper returns a viper instance with defaults and env bindings applied.
// Callers may bind flags on it before passing it to LoadViper.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	_ = v.BindEnv(KeyDatabaseURL, "DATABASE_URL", "POSTGRES_URL")
	_ = v.BindEnv(KeyLLMAPIKey, "LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv(KeySearchAPIKey, "SEARCH_API_KEY", "SERPER_API_KEY", "BRAVE_API_KEY")

	goals := agent.DefaultGoals()
	weights := agent.DefaultRemoteWorkWeights()
	v.SetDefault(KeyControlPlanePort, "8080")
	v.SetDefault(KeyTemporalAddress, "localhost:7233")
	v.SetDefault(KeyTemporalNamespace, "default")
	v.SetDefault(KeyTemporalTaskQueue, "atlas-assessments")
	v.SetDefault(KeyLLMMode, "remote")
	v.SetDefault(KeyLLMProvider, "openai")
	v.SetDefault(KeyLLMModel, "gpt-4o-mini")
	v.SetDefault(KeySearchProvider, "serper")
	v.SetDefault(KeySearchResultLimit, 10)
	v.SetDefault(KeySearchRatePerMinute, 60)
	v.SetDefault(KeyCacheMaxAgeDays, 7)
	v.SetDefault(KeyMinConfidence, goals.MinAcceptableConfidence)
	v.SetDefault(KeyConfidenceTarget, goals.ConfidenceTarget)
	v.SetDefault(KeyCompletenessTarget, goals.CompletenessTarget)
	v.SetDefault(KeyPacing, time.Second)
	v.SetDefault(KeyCityStagger, 500*time.Millisecond)
	v.SetDefault(KeyCityTimeout, 10*time.Minute)
	v.SetDefault(KeyMaxConcurrentCities, 0)
	v.SetDefault(KeyCostWeight, weights.Cost)
	v.SetDefault(KeyInternetWeight, weights.Internet)
	v.SetDefault(KeyMonthlyBudget, 0.0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyOtelEnabled, false)
	return v
}

// Load resolves configuration from the environment and ATLAS_CONFIG.
func Load() (Config, error) {
	return LoadViper(NewViper())
}

func LoadViper(v *viper.Viper) (Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	port := v.GetString(KeyControlPlanePort)
	dataDir := resolveDataDir(v)
	cfg := Config{
		ControlPlanePort:    port,
		ControlPlaneURL:     defaultIfEmpty(v.GetString(KeyControlPlaneURL), "http://localhost:"+port),
		DatabaseURL:         v.GetString(KeyDatabaseURL),
		TemporalAddress:     v.GetString(KeyTemporalAddress),
		TemporalNamespace:   v.GetString(KeyTemporalNamespace),
		TemporalTaskQueue:   v.GetString(KeyTemporalTaskQueue),
		LLMMode:             v.GetString(KeyLLMMode),
		LLMProvider:         v.GetString(KeyLLMProvider),
		LLMModel:            v.GetString(KeyLLMModel),
		LLMBaseURL:          v.GetString(KeyLLMBaseURL),
		LLMAPIKey:           v.GetString(KeyLLMAPIKey),
		OpenRouterAPIKey:    v.GetString(KeyOpenRouterAPIKey),
		LLMFallbackProvider: v.GetString(KeyLLMFallbackProvider),
		LLMFallbackModel:    v.GetString(KeyLLMFallbackModel),
		LLMFallbackBaseURL:  v.GetString(KeyLLMFallbackBaseURL),
		LLMFallbackAPIKey:   v.GetString(KeyLLMFallbackAPIKey),
		LLMSecretsKey:       v.GetString(KeyLLMSecretsKey),
		SearchProvider:      v.GetString(KeySearchProvider),
		SearchAPIKey:        v.GetString(KeySearchAPIKey),
		SearchBaseURL:       v.GetString(KeySearchBaseURL),
		SearchResultLimit:   v.GetInt(KeySearchResultLimit),
		SearchRatePerMinute: v.GetInt(KeySearchRatePerMinute),
		DataDir:             dataDir,
		CachePath:           defaultIfEmpty(v.GetString(KeyCachePath), filepath.Join(dataDir, "perception.db")),
		CacheMaxAgeDays:     v.GetInt(KeyCacheMaxAgeDays),
		Goals: agent.Goals{
			MinAcceptableConfidence: v.GetFloat64(KeyMinConfidence),
			ConfidenceTarget:        v.GetFloat64(KeyConfidenceTarget),
			CompletenessTarget:      v.GetFloat64(KeyCompletenessTarget),
		},
		Pacing:              v.GetDuration(KeyPacing),
		CityStagger:         v.GetDuration(KeyCityStagger),
		CityTimeout:         v.GetDuration(KeyCityTimeout),
		MaxConcurrentCities: v.GetInt(KeyMaxConcurrentCities),
		Weights: agent.RemoteWorkWeights{
			Cost:     v.GetFloat64(KeyCostWeight),
			Internet: v.GetFloat64(KeyInternetWeight),
		},
		MonthlyBudget: v.GetFloat64(KeyMonthlyBudget),
		LogLevel:      v.GetString(KeyLogLevel),
		LogFormat:     v.GetString(KeyLogFormat),
		OtelEnabled:   v.GetBool(KeyOtelEnabled),
	}
	if cfg.DatabaseURL == "" && os.Getenv("POSTGRES_HOST") != "" {
		cfg.DatabaseURL = buildPostgresURL()
	}

	cities, err := ParseCities(v.GetString(KeyCities))
	if err != nil {
		return Config{}, err
	}
	if path := v.GetString(KeyCitiesFile); path != "" {
		file, err := LoadCitiesFile(path)
		if err != nil {
			return Config{}, err
		}
		cities = append(cities, file.Cities...)
		cfg.Categories = file.Categories
	}
	cfg.Cities = cities

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Goals.MinAcceptableConfidence < 0 || c.Goals.MinAcceptableConfidence > 100 {
		errs = append(errs, fmt.Errorf("%s must be within 0-100", KeyMinConfidence))
	}
	if c.Goals.ConfidenceTarget < c.Goals.MinAcceptableConfidence || c.Goals.ConfidenceTarget > 100 {
		errs = append(errs, fmt.Errorf("%s must be between %s and 100", KeyConfidenceTarget, KeyMinConfidence))
	}
	if c.Goals.CompletenessTarget < 0 || c.Goals.CompletenessTarget > 1 {
		errs = append(errs, fmt.Errorf("%s must be within 0-1", KeyCompletenessTarget))
	}
	if c.Weights.Cost < 0 || c.Weights.Internet < 0 {
		errs = append(errs, errors.New("remote work weights must not be negative"))
	}
	if c.MonthlyBudget < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyMonthlyBudget))
	}
	if c.MaxConcurrentCities < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyMaxConcurrentCities))
	}
	return errors.Join(errs...)
}

func resolveDataDir(v *viper.Viper) string {
	if dir := v.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".atlas"
	}
	return filepath.Join(home, ".atlas")
}

// ParseCities reads the inline "City:Country,City:Country" form.
func ParseCities(raw string) ([]agent.CityRef, error) {
	var cities []agent.CityRef
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		city, country, ok := strings.Cut(entry, ":")
		city, country = strings.TrimSpace(city), strings.TrimSpace(country)
		if !ok || city == "" || country == "" {
			return nil, fmt.Errorf("invalid city %q: want City:Country", entry)
		}
		cities = append(cities, agent.CityRef{City: city, Country: country})
	}
	return cities, nil
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "atlas")
	password := getEnv("POSTGRES_PASSWORD", "atlas")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "atlas")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
