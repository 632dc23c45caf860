package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/querydesk/querydesk/internal/dataset"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Query.Backend != BackendPostgres {
		t.Fatalf("Query.Backend = %q", cfg.Query.Backend)
	}
	if cfg.Query.MaxRows != 500 {
		t.Fatalf("Query.MaxRows = %d", cfg.Query.MaxRows)
	}
	if len(cfg.Query.ReplicaDSNs) != len(dataset.All()) {
		t.Fatalf("ReplicaDSNs = %v", cfg.Query.ReplicaDSNs)
	}
	if !strings.Contains(cfg.Query.ReplicaDSNs[dataset.TechTuk], "/techtuk?") {
		t.Fatalf("TechTuk replica DSN = %q", cfg.Query.ReplicaDSNs[dataset.TechTuk])
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Fatalf("LLM.Timeout = %s", cfg.LLM.Timeout)
	}
	if cfg.LLM.ReadyCacheTTL != time.Minute {
		t.Fatalf("LLM.ReadyCacheTTL = %s", cfg.LLM.ReadyCacheTTL)
	}
	if cfg.Pipeline.GenerateTimeout != 30*time.Second || cfg.Pipeline.ExecuteTimeout != 10*time.Second {
		t.Fatalf("Pipeline timeouts = %s/%s", cfg.Pipeline.GenerateTimeout, cfg.Pipeline.ExecuteTimeout)
	}
	if cfg.Pipeline.LatencyWindow != 1000 {
		t.Fatalf("Pipeline.LatencyWindow = %d", cfg.Pipeline.LatencyWindow)
	}
	if cfg.Pipeline.DefaultDataset != dataset.TechTuk {
		t.Fatalf("Pipeline.DefaultDataset = %q", cfg.Pipeline.DefaultDataset)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{
		"QUERYDESK_PROFILE":     "prod",
		"QUERYDESK_LLM_API_KEY": "sk-test",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadProdRequiresLLMKey(t *testing.T) {
	_, err := Load("querydesk-api", mapLookup(map[string]string{"QUERYDESK_PROFILE": "prod"}))
	if err == nil || !strings.Contains(err.Error(), "QUERYDESK_LLM_API_KEY") {
		t.Fatalf("Load() error = %v, want missing api key", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{
		"QUERYDESK_PROFILE":                   "test",
		"QUERYDESK_SERVICE_NAME":              "querydesk-custom",
		"QUERYDESK_HTTP_ADDR":                 ":9999",
		"QUERYDESK_HTTP_READ_TIMEOUT":         "2s",
		"QUERYDESK_HTTP_WRITE_TIMEOUT":        "3s",
		"QUERYDESK_LOG_LEVEL":                 "error",
		"QUERYDESK_LOG_JSON":                  "false",
		"QUERYDESK_AUTH_REQUIRED":             "true",
		"QUERYDESK_AUTH_STATIC_KEYS":          "k1:alice:chat_user",
		"QUERYDESK_AUDIT_DSN":                 "postgres://audit",
		"QUERYDESK_AUDIT_MAX_OPEN_CONNS":      "42",
		"QUERYDESK_AUDIT_MAX_IDLE_CONNS":      "17",
		"QUERYDESK_QUERY_BACKEND":             "DuckDB",
		"QUERYDESK_QUERY_MAX_ROWS":            "25",
		"QUERYDESK_QUERY_REPLICA_CONNS":       "4",
		"QUERYDESK_REPLICA_DSN_NOVOTEL":       "postgres://novotel-replica",
		"QUERYDESK_OBJECTSTORE_ENDPOINT":      "s3.example.com",
		"QUERYDESK_OBJECTSTORE_BUCKET":        "querydesk-demo",
		"QUERYDESK_OBJECTSTORE_USE_SSL":       "true",
		"QUERYDESK_OBJECTSTORE_PREFIX":        "demo",
		"QUERYDESK_LLM_BASE_URL":              "https://api.example.com/v1",
		"QUERYDESK_LLM_API_KEY":               "secret-key",
		"QUERYDESK_LLM_MODEL":                 "gpt-4.1-mini",
		"QUERYDESK_LLM_TIMEOUT":               "21s",
		"QUERYDESK_LLM_REFERER":               "https://querydesk.example.com",
		"QUERYDESK_LLM_TITLE":                 "QueryDesk",
		"QUERYDESK_LLM_READY_CACHE_TTL":       "5m",
		"QUERYDESK_PIPELINE_GENERATE_TIMEOUT": "12s",
		"QUERYDESK_PIPELINE_EXECUTE_TIMEOUT":  "4s",
		"QUERYDESK_PIPELINE_LATENCY_WINDOW":   "50",
		"QUERYDESK_PIPELINE_DEFAULT_DATASET":  "pvrinox",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querydesk-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError || cfg.Observability.LogJSON {
		t.Fatalf("Observability = %+v", cfg.Observability)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:alice:chat_user" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.AuditDB.DSN != "postgres://audit" || cfg.AuditDB.MaxOpenConns != 42 || cfg.AuditDB.MaxIdleConns != 17 {
		t.Fatalf("AuditDB = %+v", cfg.AuditDB)
	}
	if cfg.Query.Backend != BackendDuckDB {
		t.Fatalf("Query.Backend = %q", cfg.Query.Backend)
	}
	if cfg.Query.MaxRows != 25 || cfg.Query.ReplicaConns != 4 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Query.ReplicaDSNs[dataset.Novotel] != "postgres://novotel-replica" {
		t.Fatalf("Novotel replica = %q", cfg.Query.ReplicaDSNs[dataset.Novotel])
	}
	if !strings.Contains(cfg.Query.ReplicaDSNs[dataset.TechTuk], "techtuk") {
		t.Fatalf("TechTuk replica should keep its default, got %q", cfg.Query.ReplicaDSNs[dataset.TechTuk])
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "querydesk-demo" || !cfg.ObjectStore.UseSSL || cfg.ObjectStore.Prefix != "demo" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.LLM.BaseURL != "https://api.example.com/v1" || cfg.LLM.APIKey != "secret-key" || cfg.LLM.Model != "gpt-4.1-mini" {
		t.Fatalf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.Timeout != 21*time.Second || cfg.LLM.Referer != "https://querydesk.example.com" || cfg.LLM.Title != "QueryDesk" || cfg.LLM.ReadyCacheTTL != 5*time.Minute {
		t.Fatalf("LLM = %+v", cfg.LLM)
	}
	if cfg.Pipeline.GenerateTimeout != 12*time.Second || cfg.Pipeline.ExecuteTimeout != 4*time.Second {
		t.Fatalf("Pipeline timeouts = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.LatencyWindow != 50 {
		t.Fatalf("Pipeline.LatencyWindow = %d", cfg.Pipeline.LatencyWindow)
	}
	if cfg.Pipeline.DefaultDataset != dataset.PVRINOX {
		t.Fatalf("Pipeline.DefaultDataset = %q", cfg.Pipeline.DefaultDataset)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYDESK_PROFILE": "oops"},
		{"QUERYDESK_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYDESK_HTTP_ADDR": " "},
		{"QUERYDESK_AUDIT_MAX_OPEN_CONNS": "oops"},
		{"QUERYDESK_QUERY_BACKEND": "sqlite"},
		{"QUERYDESK_QUERY_MAX_ROWS": "0"},
		{"QUERYDESK_PIPELINE_LATENCY_WINDOW": "-1"},
		{"QUERYDESK_PIPELINE_DEFAULT_DATASET": "Hilton"},
		{"QUERYDESK_LLM_TIMEOUT": "soon"},
		{"QUERYDESK_AUTH_REQUIRED": "not-bool"},
		{"QUERYDESK_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		if _, err := Load("querydesk-api", mapLookup(env)); err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadReportsEveryInvalidValue(t *testing.T) {
	_, err := Load("querydesk-api", mapLookup(map[string]string{
		"QUERYDESK_LLM_TIMEOUT":   "soon",
		"QUERYDESK_LOG_LEVEL":     "verbose",
		"QUERYDESK_AUTH_REQUIRED": "not-bool",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"QUERYDESK_LLM_TIMEOUT", "QUERYDESK_LOG_LEVEL", "QUERYDESK_AUTH_REQUIRED"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoadAcceptsWarningLogLevel(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{"QUERYDESK_LOG_LEVEL": " Warning "}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("querydesk-api", nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
