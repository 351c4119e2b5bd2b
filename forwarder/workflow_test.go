package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-ingress/auth"
	"github.com/goliatone/go-ingress/core"
)

func testForwardRequest() core.ForwardRequest {
	return core.ForwardRequest{
		Message:     core.Message{ID: "msg-1", ThreadID: "T1"},
		Thread:      core.Thread{ID: "T1", OwnerID: "U1"},
		RawBody:     []byte(`{"event_type":"message.created","thread_id":"T1","client_msg_id":"m1","payload":{"text":"hi"},"custom":7}`),
		CallbackURL: "https://gateway.example.com/v1/ingress/callbacks?message_id=msg-1",
	}
}

func testConfig(url string) core.Config {
	cfg := core.DefaultConfig()
	cfg.Workflow.URL = url
	cfg.Auth.HMACSecret = "hmac-secret"
	cfg.Auth.ServiceJWTSecret = "service-secret"
	return cfg
}

func TestWorkflow_ForwardSignsPayloadAndMintsToken(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	result, err := NewWorkflow(cfg, server.Client()).Forward(context.Background(), testForwardRequest())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", result.StatusCode)
	}

	if gotHeaders.Get("X-Webhook-Signature") != auth.SignBody("hmac-secret", gotBody) {
		t.Fatalf("signature header does not match forwarded body")
	}
	if gotHeaders.Get(HeaderMessageID) != "msg-1" {
		t.Fatalf("expected message id header, got %q", gotHeaders.Get(HeaderMessageID))
	}
	token, ok := auth.BearerToken(gotHeaders.Get("Authorization"))
	if !ok {
		t.Fatalf("expected bearer token")
	}
	verifier := auth.BearerVerifier{Secret: "service-secret", ServiceName: cfg.Auth.ServiceName}
	if _, err := verifier.VerifyToken(token); err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode forwarded payload: %v", err)
	}
	if payload["message_id"] != "msg-1" || payload["callback_url"] == "" || payload["thread_id"] != "T1" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if payload["custom"] != float64(7) {
		t.Fatalf("expected caller fields preserved, got %#v", payload["custom"])
	}
}

func TestWorkflow_NonSuccessStatusFails(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result, err := NewWorkflow(testConfig(server.URL), server.Client()).Forward(context.Background(), testForwardRequest())
	if err == nil {
		t.Fatalf("expected forward failure")
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected upstream status recorded, got %d", result.StatusCode)
	}
	if mapped := core.MapError(err); mapped.TextCode != core.ErrorForwardingFailed {
		t.Fatalf("expected forwarding text code, got %q", mapped.TextCode)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestWorkflow_TimeoutIsForwardingFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.Workflow.Timeout = 50 * time.Millisecond
	_, err := NewWorkflow(cfg, server.Client()).Forward(context.Background(), testForwardRequest())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	mapped := core.MapError(err)
	if mapped.TextCode != core.ErrorForwardingFailed || mapped.Metadata["timeout"] == nil {
		t.Fatalf("unexpected timeout error: %#v", mapped)
	}
}

func TestWorkflow_RequiresURL(t *testing.T) {
	_, err := NewWorkflow(core.DefaultConfig(), nil).Forward(context.Background(), testForwardRequest())
	if status := core.HTTPStatus(err); status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
}
