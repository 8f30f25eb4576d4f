package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Game     GameConfig
	Log      LogConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	gameCfg, err := loadGameConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Database: DatabaseConfig{Path: getEnvOrDefault("DATABASE_PATH", "game.db")},
		LLM:      llm,
		Game:     gameCfg,
		Log: LogConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
			File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// Allow ":5000" or "127.0.0.1:5000" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DatabaseConfig locates the sqlite database file.
type DatabaseConfig struct {
	Path string
}

// LLMConfig describes the llama completion server and sampling parameters.
type LLMConfig struct {
	ServerURL      string
	TimeoutSeconds int
	Temperature    float64
	MaxPredict     int
}

func loadLLMConfig() (LLMConfig, error) {
	timeout := 120
	if override, err := parseOptionalIntEnv("LLM_TIMEOUT_SECONDS"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return LLMConfig{}, fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", *override)
		}
		timeout = *override
	}

	temperature := 0.7
	if override, err := parseOptionalFloatEnv("LLM_TEMPERATURE"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	maxPredict := 6000
	if override, err := parseOptionalIntEnv("LLM_MAX_PREDICT"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		maxPredict = *override
	}

	return LLMConfig{
		ServerURL:      getEnvOrDefault("LLAMA_SERVER_URL", "http://127.0.0.1:8080/completion"),
		TimeoutSeconds: timeout,
		Temperature:    temperature,
		MaxPredict:     maxPredict,
	}, nil
}

// GameConfig holds turn-orchestration settings.
type GameConfig struct {
	HistoryLimit int
}

func loadGameConfig() (GameConfig, error) {
	historyLimit := 10
	if override, err := parseOptionalIntEnv("HISTORY_LIMIT"); err != nil {
		return GameConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return GameConfig{}, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", *override)
		}
		historyLimit = *override
	}
	return GameConfig{HistoryLimit: historyLimit}, nil
}

// LogConfig controls log level and optional file output.
type LogConfig struct {
	Level string
	File  string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
