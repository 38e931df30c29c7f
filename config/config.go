// Package config loads process configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Exchange is the exchange daemon's configuration.
type Exchange struct {
	Host       string
	Port       int
	DataDir    string
	AdminToken string
	LogLevel   string
}

// Agent is the agent platform daemon's configuration.
type Agent struct {
	Host        string
	Port        int
	DataDir     string
	ExchangeURL string
	LogLevel    string
}

// Load reads an optional .env file into the process environment. A missing
// file is not an error; real environments set variables directly.
func Load() {
	_ = godotenv.Load()
}

// LoadExchange builds the exchange configuration from the environment.
func LoadExchange() (*Exchange, error) {
	port, err := envInt("STOCKEX_PORT", 8080)
	if err != nil {
		return nil, err
	}
	return &Exchange{
		Host:       envStr("STOCKEX_HOST", "0.0.0.0"),
		Port:       port,
		DataDir:    envStr("STOCKEX_DATA_DIR", "./data/exchange"),
		AdminToken: envStr("STOCKEX_ADMIN_TOKEN", ""),
		LogLevel:   envStr("STOCKEX_LOG_LEVEL", "info"),
	}, nil
}

// LoadAgent builds the agent platform configuration from the environment.
func LoadAgent() (*Agent, error) {
	port, err := envInt("STOCKEX_AGENT_PORT", 8081)
	if err != nil {
		return nil, err
	}
	return &Agent{
		Host:        envStr("STOCKEX_AGENT_HOST", "0.0.0.0"),
		Port:        port,
		DataDir:     envStr("STOCKEX_AGENT_DATA_DIR", "./data/agents"),
		ExchangeURL: envStr("STOCKEX_EXCHANGE_URL", "http://localhost:8080"),
		LogLevel:    envStr("STOCKEX_AGENT_LOG_LEVEL", "info"),
	}, nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
