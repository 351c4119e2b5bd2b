package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/core"
)

// ReplyClientMsgIDPrefix keys the assistant reply stored for a callback so a
// resent callback never stores a second reply.
const ReplyClientMsgIDPrefix = "reply:"

const maxCallbackStatusAttempts = 3

// CallbackProcessor applies workflow engine results to the message they
// belong to. It shares the ingress credential verifier.
type CallbackProcessor struct {
	Verifier core.Verifier
	Parser   *RequestParser
	Messages core.MessageStore
	Observer core.Observer

	Now   func() time.Time
	NewID func() string
}

func NewCallbackProcessor(verifier core.Verifier, messages core.MessageStore, observer core.Observer) (*CallbackProcessor, error) {
	parser, err := NewRequestParser()
	if err != nil {
		return nil, err
	}
	return &CallbackProcessor{
		Verifier: verifier,
		Parser:   parser,
		Messages: messages,
		Observer: observer,
	}, nil
}

// Complete moves the message to its terminal status and stores the assistant
// reply. Repeating a callback with the same status is a no-op reported as
// Duplicate; a conflicting terminal status is rejected.
func (p *CallbackProcessor) Complete(ctx context.Context, in core.InboundRequest) (outcome core.CallbackOutcome, err error) {
	if p == nil {
		return core.CallbackOutcome{}, inboundInternal("inbound: callback processor is nil", nil)
	}
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		status := string(outcome.Status)
		if err != nil {
			status = "rejected"
		} else if outcome.Duplicate {
			status = "duplicate"
		}
		p.Observer.Observe(ctx, startedAt, "callback", status, err, fields)
	}()

	if p.Verifier == nil || p.Parser == nil || p.Messages == nil {
		return core.CallbackOutcome{}, inboundInternal("inbound: callback processor is not configured", nil)
	}

	fields["stage"] = StageAuthenticate
	if _, err := p.Verifier.Verify(ctx, in); err != nil {
		return core.CallbackOutcome{}, inboundUnauthenticated(err)
	}

	fields["stage"] = StageParse
	req, err := p.Parser.ParseCallback(in.Body)
	if err != nil {
		return core.CallbackOutcome{}, err
	}
	fields["message_id"] = req.MessageID

	fields["stage"] = "load"
	msg, err := p.Messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, core.ErrMessageNotFound) {
			return core.CallbackOutcome{}, messageNotFound(req.MessageID)
		}
		return core.CallbackOutcome{}, passThrough(err, "load")
	}
	if req.ThreadID != "" && req.ThreadID != msg.ThreadID {
		return core.CallbackOutcome{}, messageNotFound(req.MessageID)
	}
	fields["thread_id"] = msg.ThreadID

	for attempt := 1; ; attempt++ {
		outcome, err = p.apply(ctx, msg, req, fields)
		if !errors.Is(err, core.ErrStaleMessageStatus) {
			return outcome, err
		}
		if attempt >= maxCallbackStatusAttempts {
			return core.CallbackOutcome{}, inboundWrapError(
				err,
				goerrors.CategoryConflict,
				"message status changed concurrently",
				http.StatusConflict,
				core.ErrorConflict,
				map[string]any{"message_id": msg.ID},
			)
		}
		fields["stage"] = "reload"
		if msg, err = p.Messages.GetMessage(ctx, msg.ID); err != nil {
			return core.CallbackOutcome{}, passThrough(err, "reload")
		}
	}
}

// apply evaluates one callback against msg as loaded. The status write only
// lands while the row still holds msg.Status; core.ErrStaleMessageStatus is
// returned unwrapped so Complete can reload and try again.
func (p *CallbackProcessor) apply(ctx context.Context, msg core.Message, req core.CallbackRequest, fields map[string]any) (core.CallbackOutcome, error) {
	outcome := core.CallbackOutcome{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Status:    req.Status,
	}
	if msg.Status.Terminal() {
		if msg.Status != req.Status {
			return core.CallbackOutcome{}, inboundError(
				fmt.Sprintf("message already %s", msg.Status),
				goerrors.CategoryConflict,
				http.StatusConflict,
				core.ErrorConflict,
				map[string]any{"message_id": msg.ID, "status": string(msg.Status)},
			)
		}
		outcome.Duplicate = true
		if reply, err := p.Messages.FindByClientMsgID(ctx, msg.ThreadID, ReplyClientMsgIDPrefix+msg.ID); err == nil {
			outcome.ReplyID = reply.ID
		}
		return outcome, nil
	}

	fields["stage"] = "reply"
	if req.Status == core.MessageStatusCompleted && strings.TrimSpace(req.Result.Text) != "" {
		replyID, err := p.storeReply(ctx, msg, req)
		if err != nil {
			return core.CallbackOutcome{}, err
		}
		outcome.ReplyID = replyID
	}

	fields["stage"] = "transition"
	loaded := msg.Status
	if err := msg.TransitionTo(req.Status, req.Error, p.now()); err != nil {
		return core.CallbackOutcome{}, inboundWrapError(
			err,
			goerrors.CategoryConflict,
			"invalid message status transition",
			http.StatusConflict,
			core.ErrorConflict,
			map[string]any{"message_id": msg.ID},
		)
	}
	if _, err := p.Messages.UpdateMessageStatus(ctx, msg, loaded); err != nil {
		if errors.Is(err, core.ErrStaleMessageStatus) {
			return core.CallbackOutcome{}, err
		}
		return core.CallbackOutcome{}, inboundPersistenceFailed(err, map[string]any{"message_id": msg.ID})
	}
	return outcome, nil
}

func (p *CallbackProcessor) storeReply(ctx context.Context, msg core.Message, req core.CallbackRequest) (string, error) {
	reply := core.Message{
		ID:          p.newID(),
		ThreadID:    msg.ThreadID,
		Role:        core.RoleAssistant,
		Kind:        defaultMessageKind,
		Text:        req.Result.Text,
		Extra:       core.CloneMap(req.Result.Extra),
		ClientMsgID: ReplyClientMsgIDPrefix + msg.ID,
		Status:      core.MessageStatusCompleted,
		Priority:    msg.Priority,
	}
	reply.Extra["reply_to"] = msg.ID
	stored, err := p.Messages.CreateMessage(ctx, reply)
	if errors.Is(err, core.ErrDuplicateMessage) {
		existing, findErr := p.Messages.FindByClientMsgID(ctx, msg.ThreadID, reply.ClientMsgID)
		if findErr != nil {
			return "", inboundPersistenceFailed(findErr, map[string]any{"message_id": msg.ID})
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", inboundPersistenceFailed(err, map[string]any{"message_id": msg.ID})
	}
	return stored.ID, nil
}

func (p *CallbackProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *CallbackProcessor) newID() string {
	if p.NewID != nil {
		if id := strings.TrimSpace(p.NewID()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func messageNotFound(messageID string) error {
	return inboundError(
		"message not found",
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		core.ErrorMessageNotFound,
		map[string]any{"message_id": messageID},
	)
}
