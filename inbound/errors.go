package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/core"
)

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return inboundError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ErrorBadInput,
		metadata,
	)
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.ErrorInternal,
		metadata,
	)
}

func inboundQuotaExceeded(metadata map[string]any) error {
	return inboundError(
		"insufficient balance",
		goerrors.CategoryOperation,
		http.StatusPaymentRequired,
		core.ErrorQuotaExceeded,
		metadata,
	)
}

func inboundPersistenceFailed(source error, metadata map[string]any) error {
	return inboundWrapError(
		source,
		goerrors.CategoryInternal,
		"failed to persist message",
		http.StatusInternalServerError,
		core.ErrorPersistenceFailed,
		metadata,
	)
}

func inboundForwardingFailed(source error, metadata map[string]any) error {
	return inboundWrapError(
		source,
		goerrors.CategoryExternal,
		"failed to forward message to workflow engine",
		http.StatusInternalServerError,
		core.ErrorForwardingFailed,
		metadata,
	)
}

// inboundUnauthenticated keeps a verifier's rich error intact and only fills
// the envelope for plain errors.
func inboundUnauthenticated(source error) error {
	var richErr *goerrors.Error
	if goerrors.As(source, &richErr) && richErr.Category == goerrors.CategoryAuth {
		return richErr
	}
	return inboundWrapError(
		source,
		goerrors.CategoryAuth,
		"authentication failed",
		http.StatusUnauthorized,
		core.ErrorUnauthenticated,
		nil,
	)
}

// passThrough returns rich errors unchanged and wraps anything else as an
// internal failure at stage.
func passThrough(source error, stage string) error {
	var richErr *goerrors.Error
	if goerrors.As(source, &richErr) {
		return richErr
	}
	return inboundWrapError(
		source,
		goerrors.CategoryInternal,
		"ingress "+stage+" failed",
		http.StatusInternalServerError,
		core.ErrorInternal,
		map[string]any{"stage": stage},
	)
}
