package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"STORE_BACKEND", "STATE_TABLE", "SQLITE_PATH", "PARAM_PREFIX",
	"INFERENCE_BASE_URL", "INFERENCE_API_TOKEN", "REMOTE_MODELS", "STUB_MODELS",
	"MAX_MESSAGE_LENGTH", "LISTEN_ADDR",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_DynamoDBDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATE_TABLE", "chat-state")
	t.Setenv("PARAM_PREFIX", "/chat-history")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	require.Equal(t, "chat-state", cfg.StateTable)
	require.Equal(t, []string{"gpt2-medium"}, cfg.RemoteModels)
	require.Equal(t, []string{"Model 2", "Model 3"}, cfg.StubModels)
	require.Equal(t, 4000, cfg.MaxMessageLen)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.True(t, cfg.RemoteInferenceEnabled())
}

func TestLoad_DynamoDBRequiresTable(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "STATE_TABLE")
}

func TestLoad_SQLite(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/chat.db")
	t.Setenv("INFERENCE_API_TOKEN", " hf-dev ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.StoreBackend)
	require.Equal(t, "/tmp/chat.db", cfg.SQLitePath)
	require.Equal(t, "hf-dev", cfg.InferenceAPIToken)
	require.True(t, cfg.RemoteInferenceEnabled())
}

func TestLoad_UnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "postgres")
}

func TestLoad_ModelLists(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("REMOTE_MODELS", " gpt2-medium , distilgpt2 ,, ")
	t.Setenv("STUB_MODELS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"gpt2-medium", "distilgpt2"}, cfg.RemoteModels)
	require.Empty(t, cfg.StubModels)
	require.False(t, cfg.RemoteInferenceEnabled())
}

func TestLoad_BadIntFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("MAX_MESSAGE_LENGTH", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.MaxMessageLen)
}
