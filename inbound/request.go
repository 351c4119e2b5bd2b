package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/goliatone/go-ingress/core"
)

const (
	ingressSchemaURL  = "https://schemas.goliatone.dev/ingress/request.json"
	callbackSchemaURL = "https://schemas.goliatone.dev/ingress/callback.json"
)

const ingressSchema = `{
  "type": "object",
  "required": ["event_type", "thread_id", "client_msg_id"],
  "properties": {
    "spec_version": {"type": "string"},
    "event_type": {"type": "string"},
    "thread_id": {"type": "string"},
    "client_msg_id": {"type": "string"},
    "role_hint": {"type": "string"},
    "message_type": {"type": "string"},
    "payload": {
      "type": ["object", "null"],
      "properties": {
        "text": {"type": ["string", "null"]},
        "extra": {"type": ["object", "null"]}
      }
    },
    "priority": {"type": ["integer", "string", "null"], "minimum": 0, "maximum": 100},
    "timestamp": {"type": "string"}
  }
}`

const callbackSchema = `{
  "type": "object",
  "required": ["message_id", "status"],
  "properties": {
    "message_id": {"type": "string"},
    "thread_id": {"type": "string"},
    "status": {"enum": ["completed", "failed"]},
    "result": {
      "type": ["object", "null"],
      "properties": {
        "text": {"type": ["string", "null"]},
        "extra": {"type": ["object", "null"]}
      }
    },
    "error": {"type": ["string", "null"]}
  }
}`

// RequestParser validates raw JSON bodies against the ingress and callback
// schemas before decoding them.
type RequestParser struct {
	ingress  *jsonschema.Schema
	callback *jsonschema.Schema
}

func NewRequestParser() (*RequestParser, error) {
	compiler := jsonschema.NewCompiler()
	for url, raw := range map[string]string{
		ingressSchemaURL:  ingressSchema,
		callbackSchemaURL: callbackSchema,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("inbound: decode schema %s: %w", url, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("inbound: add schema %s: %w", url, err)
		}
	}
	ingress, err := compiler.Compile(ingressSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("inbound: compile ingress schema: %w", err)
	}
	callback, err := compiler.Compile(callbackSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("inbound: compile callback schema: %w", err)
	}
	return &RequestParser{ingress: ingress, callback: callback}, nil
}

// MustRequestParser panics when the embedded schemas fail to compile.
func MustRequestParser() *RequestParser {
	parser, err := NewRequestParser()
	if err != nil {
		panic(err)
	}
	return parser
}

// ParseIngress validates and decodes an ingress body. Identifiers are
// normalized; message.created must carry non-empty text.
func (p *RequestParser) ParseIngress(body []byte) (core.IngressRequest, error) {
	if err := p.validate(p.ingress, body); err != nil {
		return core.IngressRequest{}, err
	}
	var req core.IngressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return core.IngressRequest{}, inboundBadInput("invalid request body", map[string]any{"decode_error": err.Error()})
	}

	req.EventType = core.EventType(strings.TrimSpace(string(req.EventType)))
	if req.EventType == "" {
		return core.IngressRequest{}, inboundBadInput("event_type is required", nil)
	}
	if !req.EventType.Supported() {
		return core.IngressRequest{}, inboundBadInput(
			fmt.Sprintf("unsupported event_type %q", req.EventType),
			map[string]any{"event_type": string(req.EventType)},
		)
	}
	threadID, err := core.NormalizeIdentifier("thread_id", req.ThreadID)
	if err != nil {
		return core.IngressRequest{}, inboundBadInput(identifierMessage(err), map[string]any{"field": "thread_id"})
	}
	clientMsgID, err := core.NormalizeIdentifier("client_msg_id", req.ClientMsgID)
	if err != nil {
		return core.IngressRequest{}, inboundBadInput(identifierMessage(err), map[string]any{"field": "client_msg_id"})
	}
	req.ThreadID = threadID
	req.ClientMsgID = clientMsgID
	req.MessageType = strings.TrimSpace(req.MessageType)

	if req.EventType == core.EventMessageCreated && strings.TrimSpace(req.Payload.Text) == "" {
		return core.IngressRequest{}, inboundBadInput("payload.text is required for message.created", map[string]any{
			"event_type": string(req.EventType),
		})
	}
	return req, nil
}

// ParseCallback validates and decodes a workflow engine callback body.
func (p *RequestParser) ParseCallback(body []byte) (core.CallbackRequest, error) {
	if err := p.validate(p.callback, body); err != nil {
		return core.CallbackRequest{}, err
	}
	var req core.CallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return core.CallbackRequest{}, inboundBadInput("invalid callback body", nil)
	}
	messageID, err := core.NormalizeIdentifier("message_id", req.MessageID)
	if err != nil {
		return core.CallbackRequest{}, inboundBadInput(identifierMessage(err), map[string]any{"field": "message_id"})
	}
	req.MessageID = messageID
	req.ThreadID = strings.TrimSpace(req.ThreadID)
	req.Error = strings.TrimSpace(req.Error)
	return req, nil
}

func (p *RequestParser) validate(schema *jsonschema.Schema, body []byte) error {
	if p == nil || schema == nil {
		return inboundInternal("inbound: request parser is not initialized", nil)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return inboundBadInput("request body is required", nil)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return inboundBadInput("request body must be valid JSON", nil)
	}
	if err := schema.Validate(doc); err != nil {
		detail := schemaViolations(err)
		return inboundBadInput("invalid request: "+detail, map[string]any{"violations": detail})
	}
	return nil
}

func schemaViolations(err error) string {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return err.Error()
	}
	lines := strings.Split(validationErr.Error(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines[1:] {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return strings.TrimSpace(lines[0])
	}
	return strings.Join(out, "; ")
}

func identifierMessage(err error) string {
	return strings.TrimPrefix(err.Error(), core.ErrInvalidIdentifier.Error()+": ")
}
