package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-ingress/adapters/gologger"
	"github.com/goliatone/go-ingress/auth"
	"github.com/goliatone/go-ingress/core"
	"github.com/goliatone/go-ingress/httpapi"
)

func memoryDSN(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return "file:" + name + "?mode=memory&cache=shared&_foreign_keys=on"
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(context.Background(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	defaults := core.DefaultConfig()
	if cfg.ServiceName != defaults.ServiceName || cfg.HTTP.Addr != defaults.HTTP.Addr {
		t.Fatalf("expected defaults, got %#v", cfg)
	}
	if cfg.Auth.SignatureHeader != "X-Webhook-Signature" {
		t.Fatalf("expected default signature header, got %q", cfg.Auth.SignatureHeader)
	}
	if cfg.Database.Driver != core.DatabaseDriverSQLite {
		t.Fatalf("expected sqlite default driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadConfigReadsNestedEnvironment(t *testing.T) {
	t.Setenv("INGRESS_HTTP__MAX_BODY_BYTES", "2048")
	t.Setenv("INGRESS_HTTP__RATE_LIMIT_RPS", "2.5")
	t.Setenv("INGRESS_HTTP__RATE_LIMIT_BURST", "4")
	t.Setenv("INGRESS_WORKFLOW__TIMEOUT", "3")
	t.Setenv("INGRESS_AUTH__TOKEN_TTL", "90s")
	t.Setenv("INGRESS_AUTH__HMAC_SECRET", "secret")
	t.Setenv("INGRESS_DATABASE__DEBUG", "true")
	t.Setenv("INGRESS_BALANCE__COSTS", "message.created=2, user.typing=0")

	cfg, err := loadConfig(context.Background(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.MaxBodyBytes != 2048 || cfg.HTTP.RateLimitRPS != 2.5 || cfg.HTTP.RateLimitBurst != 4 {
		t.Fatalf("unexpected http section: %#v", cfg.HTTP)
	}
	if cfg.Workflow.Timeout != 3*time.Second {
		t.Fatalf("expected bare number to mean seconds, got %v", cfg.Workflow.Timeout)
	}
	if cfg.Auth.TokenTTL != 90*time.Second || cfg.Auth.HMACSecret != "secret" {
		t.Fatalf("unexpected auth section: %#v", cfg.Auth)
	}
	if !cfg.Database.Debug {
		t.Fatalf("expected database debug flag")
	}
	if cfg.Balance.Costs["message.created"] != 2 || cfg.Balance.Costs["user.typing"] != 0 {
		t.Fatalf("unexpected costs: %#v", cfg.Balance.Costs)
	}
	if _, ok := cfg.Balance.Costs["user.typing"]; !ok {
		t.Fatalf("expected zero cost entry to be kept")
	}
}

func TestLoadConfigRejectsMalformedEnvironment(t *testing.T) {
	cases := map[string]string{
		"INGRESS_HTTP__MAX_BODY_BYTES": "lots",
		"INGRESS_DATABASE__DEBUG":      "perhaps",
		"INGRESS_BALANCE__COSTS":       "message.created",
		"INGRESS_AUTH__CLOCK_SKEW":     "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := loadConfig(context.Background(), ""); err == nil {
				t.Fatalf("expected %s=%q to be rejected", key, value)
			}
		})
	}
}

func TestLoadConfigMergesFileUnderEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingress.yaml")
	yamlBody := strings.Join([]string{
		"service_name: from-file",
		"http:",
		"  addr: \":9090\"",
		"  request_timeout: 12",
		"workflow:",
		"  url: https://workflow.example.com/hook",
		"balance:",
		"  costs:",
		"    message.created: 3",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("INGRESS_CONFIG_FILE", path)
	t.Setenv("INGRESS_SERVICE_NAME", "from-env")

	cfg, err := loadConfig(context.Background(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "from-env" {
		t.Fatalf("expected env to win, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.HTTP.RequestTimeout != 12*time.Second {
		t.Fatalf("expected file http values, got %#v", cfg.HTTP)
	}
	if cfg.Workflow.URL != "https://workflow.example.com/hook" {
		t.Fatalf("expected file workflow url, got %q", cfg.Workflow.URL)
	}
	if cfg.Balance.Costs["message.created"] != 3 {
		t.Fatalf("expected file cost, got %#v", cfg.Balance.Costs)
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	_, err := loadConfig(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("expected missing config file error")
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
	if err := loadDotEnv(""); err != nil {
		t.Fatalf("expected empty path to be ignored, got %v", err)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("INGRESS_TEST_DOTENV_A=file\nINGRESS_TEST_DOTENV_B=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("INGRESS_TEST_DOTENV_A", "process")
	t.Setenv("INGRESS_TEST_DOTENV_B", "")
	os.Unsetenv("INGRESS_TEST_DOTENV_B")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("INGRESS_TEST_DOTENV_A"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
	if got := os.Getenv("INGRESS_TEST_DOTENV_B"); got != "file" {
		t.Fatalf("expected file value for unset variable, got %q", got)
	}
}

func TestOpenDatabaseRejectsUnsupportedDriver(t *testing.T) {
	_, err := openDatabase(context.Background(), core.DatabaseConfig{Driver: "mysql", DSN: "ignored"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestOpenDatabaseMigratesSQLite(t *testing.T) {
	client, err := openDatabase(context.Background(), core.DatabaseConfig{
		Driver: core.DatabaseDriverSQLite,
		DSN:    memoryDSN(t),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer client.Close()

	var count int
	err = client.DB().NewRaw("SELECT COUNT(*) FROM ingress_messages").Scan(context.Background(), &count)
	if err != nil {
		t.Fatalf("expected migrated messages table: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty table, got %d rows", count)
	}
}

func TestApplicationServesSignedIngress(t *testing.T) {
	forwarded := make(chan map[string]any, 1)
	workflow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		forwarded <- payload
		w.WriteHeader(http.StatusAccepted)
	}))
	defer workflow.Close()

	const secret = "cmd-hmac-secret"
	cfg := core.DefaultConfig()
	cfg.Version = "9.9.9"
	cfg.Auth.HMACSecret = secret
	cfg.Workflow.URL = workflow.URL
	cfg.Workflow.PublicBaseURL = "https://gateway.example.com"
	cfg.Database.DSN = memoryDSN(t)
	if err := cfg.ValidateForServing(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	var logs bytes.Buffer
	app, err := newApplication(context.Background(), cfg, gologger.NewProvider(gologger.NewJSONLogger(&logs, "debug")))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	db := app.client.DB()
	if _, err := db.ExecContext(ctx, "INSERT INTO ingress_threads (id, owner_id) VALUES ('T1', 'U1')"); err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO ingress_account_balances (account_id, balance) VALUES ('U1', 2)"); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	server := httptest.NewServer(app.handler)
	defer server.Close()

	res, err := http.Get(server.URL + httpapi.PathHealth)
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	var health map[string]any
	_ = json.NewDecoder(res.Body).Decode(&health)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || health["status"] != "healthy" || health["version"] != "9.9.9" {
		t.Fatalf("unexpected health response %d: %#v", res.StatusCode, health)
	}

	body := []byte(`{"event_type":"message.created","thread_id":"T1","client_msg_id":"cmd-1","payload":{"text":"hello"}}`)
	req, _ := http.NewRequest(http.MethodPost, server.URL+httpapi.PathIngress, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", auth.SignBody(secret, body))
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingress request: %v", err)
	}
	var accepted map[string]any
	_ = json.NewDecoder(res.Body).Decode(&accepted)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || accepted["success"] != true || accepted["received"] != "cmd-1" {
		t.Fatalf("unexpected ingress response %d: %#v", res.StatusCode, accepted)
	}
	messageID, _ := accepted["message_id"].(string)
	if messageID == "" {
		t.Fatalf("expected message id, got %#v", accepted)
	}

	select {
	case payload := <-forwarded:
		if payload["message_id"] != messageID {
			t.Fatalf("expected forwarded message id %s, got %#v", messageID, payload["message_id"])
		}
		if !strings.HasPrefix(payload["callback_url"].(string), "https://gateway.example.com") {
			t.Fatalf("unexpected callback url %#v", payload["callback_url"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected workflow forward")
	}

	var balance int64
	if err := db.NewRaw("SELECT balance FROM ingress_account_balances WHERE account_id = 'U1'").Scan(ctx, &balance); err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 1 {
		t.Fatalf("expected one credit debited, got balance %d", balance)
	}

	res, err = http.Get(server.URL + httpapi.PathMetrics)
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", res.StatusCode)
	}
}
