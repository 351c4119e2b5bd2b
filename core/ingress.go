package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// OwnershipHintKeys are the payload.extra keys inspected, in order, for a
// caller supplied owner.
var OwnershipHintKeys = []string{"owner_id", "user_id"}

const (
	AuthSchemeBearer    = "bearer"
	AuthSchemeSignature = "signature"
)

type InboundRequest struct {
	Headers    map[string]string
	Body       []byte
	RemoteAddr string
	Metadata   map[string]any
}

// Header returns the value for name using canonical MIME header matching.
func (r InboundRequest) Header(name string) string {
	if len(r.Headers) == 0 {
		return ""
	}
	if value, ok := r.Headers[name]; ok {
		return strings.TrimSpace(value)
	}
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for key, value := range r.Headers {
		if textproto.CanonicalMIMEHeaderKey(key) == canonical {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type Principal struct {
	Scheme  string
	Subject string
	Service string
}

type IngressRequest struct {
	SpecVersion string         `json:"spec_version,omitempty"`
	EventType   EventType      `json:"event_type"`
	ThreadID    string         `json:"thread_id"`
	ClientMsgID string         `json:"client_msg_id"`
	RoleHint    string         `json:"role_hint,omitempty"`
	MessageType string         `json:"message_type,omitempty"`
	Payload     IngressPayload `json:"payload"`
	Priority    Priority       `json:"priority,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// OwnershipHint returns the lowest priority owner signal carried in
// payload.extra, or "" when none is present.
func (r IngressRequest) OwnershipHint() string {
	for _, key := range OwnershipHintKeys {
		raw, ok := r.Payload.Extra[key]
		if !ok || raw == nil {
			continue
		}
		var value string
		switch typed := raw.(type) {
		case string:
			value = typed
		case json.Number:
			value = typed.String()
		case float64:
			value = strconv.FormatFloat(typed, 'f', -1, 64)
		default:
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// IngressPayload keeps the full payload object next to the two fields the
// gateway interprets.
type IngressPayload struct {
	Text   string
	Extra  map[string]any
	Fields map[string]any
}

func (p *IngressPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = IngressPayload{}
		return nil
	}
	fields := map[string]any{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return fmt.Errorf("core: payload must be an object: %w", err)
	}
	out := IngressPayload{Fields: fields}
	if text, ok := fields["text"].(string); ok {
		out.Text = text
	}
	if extra, ok := fields["extra"].(map[string]any); ok {
		out.Extra = extra
	}
	*p = out
	return nil
}

func (p IngressPayload) MarshalJSON() ([]byte, error) {
	if p.Fields != nil {
		return json.Marshal(p.Fields)
	}
	out := map[string]any{}
	if p.Text != "" {
		out["text"] = p.Text
	}
	if len(p.Extra) > 0 {
		out["extra"] = p.Extra
	}
	return json.Marshal(out)
}

// Priority accepts either a number or one of the named levels.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
	PriorityUrgent Priority = 20

	MaxPriority Priority = 100
)

// ErrPriorityOutOfRange is returned for priorities outside 0..MaxPriority or
// with a fractional part.
var ErrPriorityOutOfRange = errors.New("core: priority out of range")

func checkedPriority(value float64) (Priority, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) ||
		value < 0 || value > float64(MaxPriority) {
		return 0, fmt.Errorf("%w: %v", ErrPriorityOutOfRange, value)
	}
	return Priority(value), nil
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = 0
		return nil
	}
	if trimmed[0] == '"' {
		var named string
		if err := json.Unmarshal(trimmed, &named); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(named)) {
		case "":
			*p = 0
		case "low":
			*p = PriorityLow
		case "normal", "medium":
			*p = PriorityNormal
		case "high":
			*p = PriorityHigh
		case "urgent", "critical":
			*p = PriorityUrgent
		default:
			value, err := strconv.ParseFloat(strings.TrimSpace(named), 64)
			if err != nil {
				return fmt.Errorf("core: unknown priority %q", named)
			}
			checked, err := checkedPriority(value)
			if err != nil {
				return err
			}
			*p = checked
		}
		return nil
	}
	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return fmt.Errorf("core: priority must be a number or level name: %w", err)
	}
	checked, err := checkedPriority(value)
	if err != nil {
		return err
	}
	*p = checked
	return nil
}

type AcceptResult struct {
	Received                string
	ThreadID                string
	MessageID               string
	OwnerID                 string
	ResolvedBy              string
	Duplicate               bool
	Redelivered             bool
	EstimatedProcessingTime string
}

type ResolveRequest struct {
	ThreadID      string
	OwnershipHint string
	Title         string
	ThreadType    string
	Settings      map[string]any
}

type Resolution struct {
	Thread     Thread
	Strategy   string
	Migrated   bool
	Diagnostic []StageDiagnostic
}

type StageDiagnostic struct {
	Stage   string
	Outcome string
	Detail  string
}

type ForwardRequest struct {
	Message     Message
	Thread      Thread
	Request     IngressRequest
	RawBody     []byte
	CallbackURL string
}

type ForwardResult struct {
	StatusCode int
	Duration   time.Duration
}

type CallbackURLResolveRequest struct {
	MessageID string
	ThreadID  string
	Metadata  map[string]any
}

type CallbackRequest struct {
	MessageID string         `json:"message_id"`
	ThreadID  string         `json:"thread_id"`
	Status    MessageStatus  `json:"status"`
	Result    CallbackResult `json:"result"`
	Error     string         `json:"error,omitempty"`
}

type CallbackResult struct {
	Text  string         `json:"text,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

type CallbackOutcome struct {
	MessageID string
	ThreadID  string
	ReplyID   string
	Status    MessageStatus
	Duplicate bool
}
