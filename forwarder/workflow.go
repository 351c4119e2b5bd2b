// Package forwarder delivers accepted messages to the workflow engine over a
// signed HTTP hop.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/auth"
	"github.com/goliatone/go-ingress/core"
)

const (
	HeaderMessageID      = "X-Message-Id"
	HeaderThreadID       = "X-Thread-Id"
	HeaderIdempotencyKey = "Idempotency-Key"

	defaultForwardTimeout          = 10 * time.Second
	defaultResponseBodyLimit int64 = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Workflow posts the original request, extended with the message id and the
// callback URL, to the workflow engine. The body is signed with the shared
// HMAC secret; when a service secret is configured a short lived bearer
// token with the inbound claim shape is attached too. It never retries.
type Workflow struct {
	Client               HTTPDoer
	URL                  string
	Timeout              time.Duration
	HMACSecret           string
	SignatureHeader      string
	ServiceJWTSecret     string
	ServiceName          string
	TokenTTL             time.Duration
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewWorkflow(cfg core.Config, client HTTPDoer) *Workflow {
	if client == nil {
		client = &http.Client{}
	}
	return &Workflow{
		Client:               client,
		URL:                  strings.TrimSpace(cfg.Workflow.URL),
		Timeout:              cfg.Workflow.Timeout,
		HMACSecret:           cfg.Auth.HMACSecret,
		SignatureHeader:      cfg.Auth.SignatureHeader,
		ServiceJWTSecret:     cfg.Auth.ServiceJWTSecret,
		ServiceName:          cfg.Auth.ServiceName,
		TokenTTL:             cfg.Auth.TokenTTL,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (w *Workflow) Forward(ctx context.Context, req core.ForwardRequest) (core.ForwardResult, error) {
	if w == nil || w.Client == nil {
		return core.ForwardResult{}, forwardError(
			"forwarder: http client is required",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	metadata := map[string]any{"message_id": req.Message.ID, "thread_id": req.Thread.ID}
	target, err := url.Parse(strings.TrimSpace(w.URL))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return core.ForwardResult{}, forwardError(
			"forwarder: workflow url is not configured",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			metadata,
		)
	}

	body, err := BuildPayload(req)
	if err != nil {
		return core.ForwardResult{}, forwardWrapError(
			err,
			goerrors.CategoryBadInput,
			"forwarder: build outbound payload",
			http.StatusBadRequest,
			metadata,
		)
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return core.ForwardResult{}, forwardWrapError(
			err,
			goerrors.CategoryInternal,
			"forwarder: create http request",
			http.StatusInternalServerError,
			metadata,
		)
	}
	if err := w.decorate(httpReq, req, body); err != nil {
		return core.ForwardResult{}, forwardWrapError(
			err,
			goerrors.CategoryInternal,
			"forwarder: sign outbound request",
			http.StatusInternalServerError,
			metadata,
		)
	}

	startedAt := time.Now()
	httpRes, err := w.Client.Do(httpReq)
	if err != nil {
		message := "forwarder: workflow engine unreachable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(requestCtx.Err(), context.DeadlineExceeded) {
			message = "forwarder: workflow engine timed out"
			metadata["timeout"] = timeout.String()
		}
		return core.ForwardResult{}, forwardWrapError(
			err,
			goerrors.CategoryExternal,
			message,
			http.StatusBadGateway,
			metadata,
		)
	}
	defer httpRes.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpRes.Body, w.responseLimit()))

	result := core.ForwardResult{StatusCode: httpRes.StatusCode, Duration: time.Since(startedAt)}
	if httpRes.StatusCode < 200 || httpRes.StatusCode > 299 {
		metadata["status_code"] = httpRes.StatusCode
		return result, forwardError(
			fmt.Sprintf("forwarder: workflow engine returned status %d", httpRes.StatusCode),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			metadata,
		)
	}
	return result, nil
}

func (w *Workflow) decorate(httpReq *http.Request, req core.ForwardRequest, body []byte) error {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderMessageID, req.Message.ID)
	httpReq.Header.Set(HeaderIdempotencyKey, req.Message.ID)
	if req.Thread.ID != "" {
		httpReq.Header.Set(HeaderThreadID, req.Thread.ID)
	}
	if secret := strings.TrimSpace(w.HMACSecret); secret != "" {
		header := strings.TrimSpace(w.SignatureHeader)
		if header == "" {
			header = auth.DefaultSignatureHeader
		}
		httpReq.Header.Set(header, auth.SignBody(secret, body))
	}
	if secret := strings.TrimSpace(w.ServiceJWTSecret); secret != "" {
		ttl := w.TokenTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		token, err := auth.MintServiceToken(secret, w.ServiceName, ttl, w.now())
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (w *Workflow) responseLimit() int64 {
	if w.MaxResponseBodyBytes > 0 {
		return w.MaxResponseBodyBytes
	}
	return defaultResponseBodyLimit
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// BuildPayload returns the caller's original JSON object with message_id and
// callback_url set. Unknown caller fields pass through untouched.
func BuildPayload(req core.ForwardRequest) ([]byte, error) {
	payload := map[string]any{}
	if len(bytes.TrimSpace(req.RawBody)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(req.RawBody))
		decoder.UseNumber()
		if err := decoder.Decode(&payload); err != nil {
			return nil, err
		}
	} else {
		raw, err := json.Marshal(req.Request)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
	}
	payload["message_id"] = req.Message.ID
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	return json.Marshal(payload)
}

var _ core.Forwarder = (*Workflow)(nil)
