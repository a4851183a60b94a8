// Package config loads the orchestrator's configuration: defaults, then an
// optional JSON file, then environment variables (highest precedence),
// followed by validation. Grounded on the teacher's config.go layering and
// helper-function shape, re-keyed to the options spec §6 names.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Router   RouterConfig   `json:"router"`
	Sources  SourcesConfig  `json:"sources"`
	Rerank   RerankConfig   `json:"rerank"`
	PHI      PHIConfig      `json:"phi"`
	LLM      LLMConfig      `json:"llm"`
	Voice    VoiceConfig    `json:"voice"`
	Breaker  BreakerConfig  `json:"breaker"`
	Context  ContextConfig  `json:"context"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Server   ServerConfig   `json:"server"`
	LiveKit  LiveKitConfig  `json:"livekit"`

	// HIPAAMode is the deployment-wide compliance flag (spec §4.1, §6, §8):
	// when set, PHI mode "off" and router mode "cloud_only" are both
	// rejected by Validate. Independent of PHI.Mode itself, since a
	// non-HIPAA deployment may legitimately run with PHI detection off.
	HIPAAMode bool `json:"hipaa_mode"`
}

// RouterConfig governs C6's local/cloud choice.
type RouterConfig struct {
	// Mode is one of "hybrid", "local_only", "cloud_only" (spec §6).
	Mode       string `json:"mode"`
	LocalURL   string `json:"local_url"`
	LocalKey   string `json:"local_key"`
	LocalModel string `json:"local_model"`
	CloudKey   string `json:"cloud_key"`
	CloudModel string `json:"cloud_model"`
}

// SourcesConfig governs C3/C4's selection and fan-out.
type SourcesConfig struct {
	SearchTimeoutMS      int               `json:"search_timeout_ms"`
	MaxParallelSources   int               `json:"max_parallel_sources"`
	ResultLimitPerSource int               `json:"result_limit_per_source"`
	// BaseURLs maps a SourceDescriptor name to its backend's base URL.
	BaseURLs map[string]string `json:"base_urls"`
}

// RerankConfig governs C5's filter threshold.
type RerankConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	EmbeddingURL        string  `json:"embedding_url"`
	EmbeddingKey        string  `json:"embedding_key"`
	EmbeddingModel      string  `json:"embedding_model"`
	EmbeddingDimensions int     `json:"embedding_dimensions"`
	RerankerURL         string  `json:"reranker_url"`
	RerankerKey         string  `json:"reranker_key"`
	RerankerModel       string  `json:"reranker_model"`
}

// PHIConfig governs C1's sensitivity. Mode "off" is only rejected by
// Validate when Config.HIPAAMode is set.
type PHIConfig struct {
	Mode string `json:"mode"`
}

// LLMConfig governs C7 generation parameters.
type LLMConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Streaming   bool    `json:"streaming"`
}

// VoiceConfig governs C14's voice pipeline.
type VoiceConfig struct {
	ASRUrl         string  `json:"asr_url"`
	ASRKey         string  `json:"asr_key"`
	TTSUrl         string  `json:"tts_url"`
	TTSKey         string  `json:"tts_key"`
	TTSVoice       string  `json:"tts_voice"`
	VADThreshold   float64 `json:"vad_threshold"`
	SilenceMS      int     `json:"silence_ms"`
	BargeInEnabled bool    `json:"barge_in_enabled"`
	SampleRate     int     `json:"sample_rate"`
}

// BreakerConfig governs C11's per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	TimeoutSec       int `json:"timeout_sec"`
	HalfOpenRequests int `json:"half_open_requests"`
	SuccessThreshold int `json:"success_threshold"`
}

// ContextConfig governs C10's history window and cache TTL.
type ContextConfig struct {
	HistoryLimit int `json:"history_limit"`
	CacheTTLSec  int `json:"cache_ttl_sec"`
}

// DatabaseConfig holds the Postgres connection used by C10/C9's stores.
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// RedisConfig holds the Redis connection backing C9's rate limiter and
// C10's write-through cache.
type RedisConfig struct {
	Addr string `json:"addr"`
}

// LiveKitConfig governs the optional WebRTC room transport for C14; a
// blank URL leaves it disabled and voice sessions use the WebSocket
// binary audio frames only (spec §4.14 treats room transport as an
// alternative to, not a replacement for, the inline frames).
type LiveKitConfig struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// ServerConfig holds the WebSocket/HTTP entrypoint configuration.
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Router: RouterConfig{
			Mode:       "hybrid",
			LocalURL:   "http://localhost:8000/v1",
			LocalModel: "Qwen/Qwen3-8B-AWQ",
			CloudModel: "claude-sonnet-4-20250514",
		},
		Sources: SourcesConfig{
			SearchTimeoutMS:      5000,
			MaxParallelSources:   4,
			ResultLimitPerSource: 10,
			BaseURLs:             map[string]string{},
		},
		Rerank: RerankConfig{
			ConfidenceThreshold: 0.3,
			EmbeddingURL:        "http://localhost:11434/v1",
			EmbeddingModel:      "nomic-embed-text",
			EmbeddingDimensions: 768,
			RerankerModel:       "rerank-v1",
		},
		PHI: PHIConfig{Mode: "strict"},
		LLM: LLMConfig{
			Temperature: 0.3,
			MaxTokens:   4096,
			Streaming:   true,
		},
		Voice: VoiceConfig{
			ASRUrl:         "http://localhost:8001/v1",
			TTSUrl:         "http://localhost:8001/v1",
			TTSVoice:       "af_sarah",
			VADThreshold:   0.5,
			SilenceMS:      700,
			BargeInEnabled: true,
			SampleRate:     16000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			TimeoutSec:       60,
			HalfOpenRequests: 1,
			SuccessThreshold: 2,
		},
		Context: ContextConfig{
			HistoryLimit: 20,
			CacheTTLSec:  1800,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		HIPAAMode: false,
	}
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from an optional JSON config file then
// environment variables, in that order of increasing precedence, and
// validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("ORCHESTRATOR_ROUTER_MODE", &cfg.Router.Mode)
	envString("ORCHESTRATOR_ROUTER_LOCAL_URL", &cfg.Router.LocalURL)
	envString("ORCHESTRATOR_ROUTER_LOCAL_KEY", &cfg.Router.LocalKey)
	envString("ORCHESTRATOR_ROUTER_LOCAL_MODEL", &cfg.Router.LocalModel)
	envString("ORCHESTRATOR_ROUTER_CLOUD_KEY", &cfg.Router.CloudKey)
	envString("ORCHESTRATOR_ROUTER_CLOUD_MODEL", &cfg.Router.CloudModel)

	envInt("ORCHESTRATOR_SEARCH_TIMEOUT_MS", &cfg.Sources.SearchTimeoutMS)
	envInt("ORCHESTRATOR_MAX_PARALLEL_SOURCES", &cfg.Sources.MaxParallelSources)
	envInt("ORCHESTRATOR_RESULT_LIMIT_PER_SOURCE", &cfg.Sources.ResultLimitPerSource)
	if baseURLsJSON := os.Getenv("ORCHESTRATOR_SOURCE_BASE_URLS"); baseURLsJSON != "" {
		var envURLs map[string]string
		if err := json.Unmarshal([]byte(baseURLsJSON), &envURLs); err == nil {
			for name, u := range envURLs {
				cfg.Sources.BaseURLs[name] = u
			}
		}
	}

	envFloat("ORCHESTRATOR_CONFIDENCE_THRESHOLD", &cfg.Rerank.ConfidenceThreshold)
	envString("ORCHESTRATOR_EMBEDDING_URL", &cfg.Rerank.EmbeddingURL)
	envString("ORCHESTRATOR_EMBEDDING_KEY", &cfg.Rerank.EmbeddingKey)
	envString("ORCHESTRATOR_EMBEDDING_MODEL", &cfg.Rerank.EmbeddingModel)
	envInt("ORCHESTRATOR_EMBEDDING_DIMENSIONS", &cfg.Rerank.EmbeddingDimensions)
	envString("ORCHESTRATOR_RERANKER_URL", &cfg.Rerank.RerankerURL)
	envString("ORCHESTRATOR_RERANKER_KEY", &cfg.Rerank.RerankerKey)
	envString("ORCHESTRATOR_RERANKER_MODEL", &cfg.Rerank.RerankerModel)

	envString("ORCHESTRATOR_PHI_MODE", &cfg.PHI.Mode)

	envFloat("ORCHESTRATOR_LLM_TEMPERATURE", &cfg.LLM.Temperature)
	envInt("ORCHESTRATOR_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envBool("ORCHESTRATOR_LLM_STREAMING", &cfg.LLM.Streaming)

	envString("ORCHESTRATOR_ASR_URL", &cfg.Voice.ASRUrl)
	envString("ORCHESTRATOR_ASR_KEY", &cfg.Voice.ASRKey)
	envString("ORCHESTRATOR_TTS_URL", &cfg.Voice.TTSUrl)
	envString("ORCHESTRATOR_TTS_KEY", &cfg.Voice.TTSKey)
	envString("ORCHESTRATOR_TTS_VOICE", &cfg.Voice.TTSVoice)
	envFloat("ORCHESTRATOR_VAD_THRESHOLD", &cfg.Voice.VADThreshold)
	envInt("ORCHESTRATOR_SILENCE_MS", &cfg.Voice.SilenceMS)
	envBool("ORCHESTRATOR_BARGE_IN_ENABLED", &cfg.Voice.BargeInEnabled)
	envInt("ORCHESTRATOR_SAMPLE_RATE", &cfg.Voice.SampleRate)

	envInt("ORCHESTRATOR_BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envInt("ORCHESTRATOR_BREAKER_TIMEOUT_SEC", &cfg.Breaker.TimeoutSec)
	envInt("ORCHESTRATOR_BREAKER_HALF_OPEN_REQUESTS", &cfg.Breaker.HalfOpenRequests)
	envInt("ORCHESTRATOR_BREAKER_SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)

	envInt("ORCHESTRATOR_CONTEXT_HISTORY_LIMIT", &cfg.Context.HistoryLimit)
	envInt("ORCHESTRATOR_CONTEXT_CACHE_TTL_SEC", &cfg.Context.CacheTTLSec)

	envString("ORCHESTRATOR_POSTGRES_URL", &cfg.Database.PostgresURL)
	envString("ORCHESTRATOR_REDIS_ADDR", &cfg.Redis.Addr)

	envString("ORCHESTRATOR_SERVER_HOST", &cfg.Server.Host)
	envInt("ORCHESTRATOR_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("ORCHESTRATOR_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("ORCHESTRATOR_LIVEKIT_URL", &cfg.LiveKit.URL)
	envString("ORCHESTRATOR_LIVEKIT_API_KEY", &cfg.LiveKit.APIKey)
	envString("ORCHESTRATOR_LIVEKIT_API_SECRET", &cfg.LiveKit.APISecret)

	envBool("ORCHESTRATOR_HIPAA_MODE", &cfg.HIPAAMode)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsLiveKitConfigured reports whether C14's optional WebRTC room
// transport has credentials to stand up.
func (c *Config) IsLiveKitConfigured() bool {
	return c.LiveKit.URL != "" && c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	var errs []string

	switch c.Router.Mode {
	case "hybrid", "local_only", "cloud_only":
	default:
		errs = append(errs, "router mode must be one of hybrid, local_only, cloud_only")
	}
	if c.Router.Mode != "cloud_only" && !isValidURL(c.Router.LocalURL) {
		errs = append(errs, "router local_url must be a valid URL")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "llm max_tokens must be positive")
	}

	if c.PHI.Mode == "off" && c.HIPAAMode {
		errs = append(errs, "phi mode \"off\" is not permitted when hipaa_mode is enabled; use strict or lenient")
	}
	if c.PHI.Mode != "strict" && c.PHI.Mode != "lenient" && c.PHI.Mode != "off" {
		errs = append(errs, "phi mode must be one of strict, lenient, off")
	}

	if c.HIPAAMode && c.Router.Mode == "cloud_only" {
		errs = append(errs, "router mode \"cloud_only\" is not permitted when hipaa_mode is enabled")
	}

	if c.Database.PostgresURL == "" {
		errs = append(errs, "postgres URL is required")
	} else if !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "postgres URL must be a valid URL")
	}

	if c.Sources.MaxParallelSources < 1 {
		errs = append(errs, "max_parallel_sources must be at least 1")
	}
	if c.Sources.SearchTimeoutMS < 1 {
		errs = append(errs, "search_timeout_ms must be positive")
	}

	if c.Rerank.ConfidenceThreshold < 0 || c.Rerank.ConfidenceThreshold > 1 {
		errs = append(errs, "confidence_threshold must be between 0 and 1")
	}

	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		errs = append(errs, "breaker success_threshold must be at least 1")
	}

	if c.Voice.SampleRate < 1 {
		errs = append(errs, "voice sample_rate must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	if path := os.Getenv("ORCHESTRATOR_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	configDir := filepath.Join(homeDir, ".config", "orchestrator")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	return configPath
}
