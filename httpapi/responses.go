package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-ingress/core"
)

type acceptResponse struct {
	Success                 bool   `json:"success"`
	Received                string `json:"received"`
	ThreadID                string `json:"thread_id"`
	MessageID               string `json:"message_id"`
	EstimatedProcessingTime string `json:"estimated_processing_time,omitempty"`
}

type callbackResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	ReplyID   string `json:"reply_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type messageResponse struct {
	Success bool        `json:"success"`
	Message messageView `json:"message"`
}

type messageView struct {
	ID              string         `json:"id"`
	ThreadID        string         `json:"thread_id"`
	Role            string         `json:"role"`
	Kind            string         `json:"kind"`
	Text            string         `json:"text,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
	ClientMsgID     string         `json:"client_msg_id"`
	Status          string         `json:"status"`
	Sequence        int64          `json:"sequence"`
	Priority        int            `json:"priority"`
	ForwardAttempts int            `json:"forward_attempts"`
	LastError       string         `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func newAcceptResponse(result core.AcceptResult) acceptResponse {
	out := acceptResponse{
		Success:   true,
		Received:  result.Received,
		ThreadID:  result.ThreadID,
		MessageID: result.MessageID,
	}
	if !result.Duplicate {
		out.EstimatedProcessingTime = result.EstimatedProcessingTime
	}
	return out
}

func newCallbackResponse(outcome core.CallbackOutcome) callbackResponse {
	return callbackResponse{
		Success:   true,
		MessageID: outcome.MessageID,
		ThreadID:  outcome.ThreadID,
		Status:    string(outcome.Status),
		ReplyID:   outcome.ReplyID,
		Duplicate: outcome.Duplicate,
	}
}

func newMessageView(msg core.Message) messageView {
	return messageView{
		ID:              msg.ID,
		ThreadID:        msg.ThreadID,
		Role:            string(msg.Role),
		Kind:            msg.Kind,
		Text:            msg.Text,
		Extra:           core.CloneMap(msg.Extra),
		ClientMsgID:     msg.ClientMsgID,
		Status:          string(msg.Status),
		Sequence:        msg.Sequence,
		Priority:        msg.Priority,
		ForwardAttempts: msg.ForwardAttempts,
		LastError:       msg.LastError,
		CreatedAt:       msg.CreatedAt.UTC(),
		UpdatedAt:       msg.UpdatedAt.UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err as {success:false,error}. Internal failures never
// expose the wrapped cause.
func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := http.StatusInternalServerError
	message := "An unexpected error occurred"
	code := core.ErrorInternal
	if mapped != nil {
		if mapped.Code > 0 {
			status = mapped.Code
		}
		if strings.TrimSpace(mapped.TextCode) != "" {
			code = mapped.TextCode
		}
		if code != core.ErrorInternal && strings.TrimSpace(mapped.Message) != "" {
			message = mapped.Message
		}
	}
	if retryAfter, ok := retryAfterSeconds(mapped); ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, errorResponse{Success: false, Error: message, Code: code})
}
