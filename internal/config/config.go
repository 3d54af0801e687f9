package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config is the process configuration shared by both entry points.
type Config struct {
	StoreBackend string
	StateTable   string
	SQLitePath   string

	ParamPrefix       string
	InferenceBaseURL  string
	InferenceAPIToken string
	RemoteModels      []string
	StubModels        []string

	MaxMessageLen int
	ListenAddr    string
}

// Load reads configuration from the environment. STORE_BACKEND selects which
// other variables are required.
func Load() (Config, error) {
	cfg := Config{
		StoreBackend:      strings.ToLower(envOrDefault("STORE_BACKEND", BackendDynamoDB)),
		StateTable:        strings.TrimSpace(os.Getenv("STATE_TABLE")),
		SQLitePath:        envOrDefault("SQLITE_PATH", "data/chat.db"),
		ParamPrefix:       strings.TrimSpace(os.Getenv("PARAM_PREFIX")),
		InferenceBaseURL:  strings.TrimSpace(os.Getenv("INFERENCE_BASE_URL")),
		InferenceAPIToken: strings.TrimSpace(os.Getenv("INFERENCE_API_TOKEN")),
		RemoteModels:      envList("REMOTE_MODELS", []string{"gpt2-medium"}),
		StubModels:        envList("STUB_MODELS", []string{"Model 2", "Model 3"}),
		MaxMessageLen:     envInt("MAX_MESSAGE_LENGTH", 4000),
		ListenAddr:        envOrDefault("LISTEN_ADDR", ":8080"),
	}

	switch cfg.StoreBackend {
	case BackendDynamoDB:
		if cfg.StateTable == "" {
			return Config{}, fmt.Errorf("STATE_TABLE is required when STORE_BACKEND=%s", BackendDynamoDB)
		}
	case BackendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND=%s", BackendSQLite)
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// RemoteInferenceEnabled reports whether any credential source is configured
// for the remote models. Without one they are answered by the local stub.
func (c Config) RemoteInferenceEnabled() bool {
	return c.InferenceAPIToken != "" || c.ParamPrefix != ""
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envList splits a comma-separated variable. Set but empty means an empty list.
func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
