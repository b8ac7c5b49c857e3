package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// setEnv sets an environment variable, ignoring errors (for test setup)
func setEnv(key, value string) {
	_ = os.Setenv(key, value)
}

// unsetEnv unsets an environment variable, ignoring errors (for test cleanup)
func unsetEnv(key string) {
	_ = os.Unsetenv(key)
}

var configEnvVars = []string{
	"DB_PATH", "QDRANT_URL", "QDRANT_COLLECTION", "QDRANT_VECTOR_SIZE",
	"EMBEDDING_BASE_URL", "EMBEDDING_MODEL_NAME", "EMBEDDING_API_KEY",
	"GEMINI_API_KEY", "GEMINI_MODEL",
	"BIGQUERY_PROJECT", "BIGQUERY_DATASET",
	"API_PORT", "LOG_LEVEL", "LOG_FORMAT",
}

// withCleanEnv snapshots and clears the config env vars around a test.
func withCleanEnv(t *testing.T) {
	t.Helper()
	original := make(map[string]string)
	for _, key := range configEnvVars {
		original[key] = os.Getenv(key)
		unsetEnv(key)
	}
	t.Cleanup(func() {
		for key, value := range original {
			if value != "" {
				setEnv(key, value)
			} else {
				unsetEnv(key)
			}
		}
	})

	// Run from a temp directory so no project .env leaks in
	tmpDir := t.TempDir()
	originalWd, _ := os.Getwd()
	_ = os.Chdir(tmpDir)
	t.Cleanup(func() {
		_ = os.Chdir(originalWd)
	})
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*Config) bool
	}{
		{
			name: "valid config with required fields",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
				setEnv("QDRANT_VECTOR_SIZE", "768")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.QdrantVectorSize == 768
			},
		},
		{
			name: "missing QDRANT_VECTOR_SIZE",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
			},
			wantErr: true,
		},
		{
			name: "invalid QDRANT_VECTOR_SIZE",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
				setEnv("QDRANT_VECTOR_SIZE", "invalid")
			},
			wantErr: true,
		},
		{
			name: "zero QDRANT_VECTOR_SIZE",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
				setEnv("QDRANT_VECTOR_SIZE", "0")
			},
			wantErr: true,
		},
		{
			name: "default values for optional fields",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
				setEnv("QDRANT_VECTOR_SIZE", "768")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.QdrantURL == "http://localhost:6333" &&
					cfg.QdrantCollection == "transactions" &&
					cfg.EmbeddingBaseURL == "http://localhost:8081" &&
					cfg.EmbeddingModelName == "granite-embedding-278m-multilingual" &&
					cfg.GeminiModel == "gemini-2.0-flash" &&
					cfg.BigQueryDataset == "finance" &&
					cfg.APIPort == "9000" &&
					cfg.LogLevel == slog.LevelInfo
			},
		},
		{
			name: "invalid LOG_LEVEL",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
				setEnv("QDRANT_VECTOR_SIZE", "768")
				setEnv("LOG_LEVEL", "loudest")
			},
			wantErr: true,
		},
		{
			name: "custom optional values",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "custom", "db.db"))
				setEnv("QDRANT_VECTOR_SIZE", "384")
				setEnv("QDRANT_COLLECTION", "ledger")
				setEnv("GEMINI_MODEL", "custom-model")
				setEnv("LOG_LEVEL", "debug")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.QdrantVectorSize == 384 &&
					cfg.QdrantCollection == "ledger" &&
					cfg.GeminiModel == "custom-model" &&
					cfg.LogLevel == slog.LevelDebug &&
					filepath.Base(cfg.DBPath) == "db.db"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withCleanEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}
			if cfg == nil {
				t.Fatal("Load() returned nil config")
			}
			if tt.checkConfig != nil && !tt.checkConfig(cfg) {
				t.Errorf("Load() config validation failed: %+v", cfg)
			}
		})
	}
}

func TestLoad_CreatesDataDirectory(t *testing.T) {
	withCleanEnv(t)

	dbPath := filepath.Join(t.TempDir(), "nested", "ledger.db")
	setEnv("DB_PATH", dbPath)
	setEnv("QDRANT_VECTOR_SIZE", "768")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
		t.Errorf("Load() should create data directory: %v", err)
	}
	if cfg.DBPath != dbPath {
		t.Errorf("Load() DBPath = %v, want %v", cfg.DBPath, dbPath)
	}
}

func TestRemoteAggregatesEnabled(t *testing.T) {
	if (&Config{}).RemoteAggregatesEnabled() {
		t.Error("RemoteAggregatesEnabled() = true without a project")
	}
	if !(&Config{BigQueryProject: "p"}).RemoteAggregatesEnabled() {
		t.Error("RemoteAggregatesEnabled() = false with a project set")
	}
}
