package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"commentguard/internal/classify"
)

type Config struct {
	Addr         string
	CORSOrigin   string
	ControlToken string
	// Browser
	TargetURL  string
	Headless   bool
	ChromeURL  string
	ChromePath string
	// Scanning
	KeywordsFile     string
	DebounceWindow   time.Duration
	PeriodicInterval time.Duration
	DiscoveryRetry   time.Duration
	SettleDelay      time.Duration
	Highlights       bool
	// Semantic tier - disabled when LLMBaseURL is empty
	LLMBaseURL   string
	LLMModel     string
	LLMTimeout   time.Duration
	LLMMaxInput  int
	LLMMaxOutput int
	// Redis - stats publishing disabled when RedisURL is empty
	RedisURL          string
	RedisStatsChannel string
	// Logging
	Environment string
	LogLevel    string
}

func Load() Config {
	return Config{
		Addr:             getenv("COMMENTGUARD_ADDR", ":8787"),
		CORSOrigin:       getenv("COMMENTGUARD_CORS_ORIGIN", "*"),
		ControlToken:     getenv("COMMENTGUARD_CONTROL_TOKEN", ""),
		TargetURL:        getenv("COMMENTGUARD_TARGET_URL", ""),
		Headless:         getenvBool("COMMENTGUARD_HEADLESS", true),
		ChromeURL:        getenv("COMMENTGUARD_CHROME_URL", ""),
		ChromePath:       getenv("COMMENTGUARD_CHROME_PATH", ""),
		KeywordsFile:     getenv("COMMENTGUARD_KEYWORDS_FILE", ""),
		DebounceWindow:   time.Duration(getenvInt("COMMENTGUARD_DEBOUNCE_MS", 300)) * time.Millisecond,
		PeriodicInterval: time.Duration(getenvInt("COMMENTGUARD_PERIODIC_SECONDS", 5)) * time.Second,
		DiscoveryRetry:   time.Duration(getenvInt("COMMENTGUARD_DISCOVERY_RETRY_SECONDS", 3)) * time.Second,
		SettleDelay:      time.Duration(getenvInt("COMMENTGUARD_SETTLE_MS", 400)) * time.Millisecond,
		Highlights:       getenvBool("COMMENTGUARD_HIGHLIGHTS", true),
		// An explicitly empty LLM_BASE_URL turns the semantic tier off.
		LLMBaseURL:        lookupenv("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:          getenv("LLM_MODEL", "gemma3:1b"),
		LLMTimeout:        time.Duration(getenvInt("LLM_TIMEOUT_SECONDS", 20)) * time.Second,
		LLMMaxInput:       getenvInt("LLM_MAX_INPUT_CHARS", 500),
		LLMMaxOutput:      getenvInt("LLM_MAX_OUTPUT_TOKENS", 10),
		RedisURL:          getenv("REDIS_URL", ""),
		RedisStatsChannel: getenv("REDIS_STATS_CHANNEL", "commentguard:stats"),
		Environment:       getenv("APP_ENV", "production"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
	}
}

// LoadKeywords reads keyword sets from a YAML file with "high" and "medium"
// lists. An empty path yields the built-in sets; a section missing from the
// file keeps its built-in list.
func LoadKeywords(path string) (classify.Keywords, error) {
	defaults := classify.DefaultKeywords()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return classify.Keywords{}, fmt.Errorf("read keywords file: %w", err)
	}

	var k classify.Keywords
	if err := yaml.Unmarshal(data, &k); err != nil {
		return classify.Keywords{}, fmt.Errorf("parse keywords file: %w", err)
	}
	if len(k.High) == 0 {
		k.High = defaults.High
	}
	if len(k.Medium) == 0 {
		k.Medium = defaults.Medium
	}
	return k, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// lookupenv is getenv that honors a variable explicitly set to "".
func lookupenv(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
