package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput               = "INGRESS_BAD_INPUT"
	ErrorUnauthenticated        = "INGRESS_UNAUTHENTICATED"
	ErrorThreadNotFound         = "INGRESS_THREAD_NOT_FOUND"
	ErrorMessageNotFound        = "INGRESS_MESSAGE_NOT_FOUND"
	ErrorQuotaExceeded          = "INGRESS_QUOTA_EXCEEDED"
	ErrorPersistenceFailed      = "INGRESS_PERSISTENCE_FAILED"
	ErrorForwardingFailed       = "INGRESS_FORWARDING_FAILED"
	ErrorIdempotencyUnavailable = "INGRESS_IDEMPOTENCY_UNAVAILABLE"
	ErrorRateLimited            = "INGRESS_RATE_LIMITED"
	ErrorPayloadTooLarge        = "INGRESS_PAYLOAD_TOO_LARGE"
	ErrorConflict               = "INGRESS_CONFLICT"
	ErrorInternal               = "INGRESS_INTERNAL_ERROR"
)

// MapError normalizes any error into a rich error carrying an HTTP code and
// a text code. Plain errors never surface their raw message for internal
// failures.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrInvalidIdentifier):
		return newIngressError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	case errors.Is(err, ErrThreadNotFound):
		return newIngressError("thread not found", goerrors.CategoryNotFound, ErrorThreadNotFound)
	case errors.Is(err, ErrMessageNotFound):
		return newIngressError("message not found", goerrors.CategoryNotFound, ErrorMessageNotFound)
	case errors.Is(err, ErrInsufficientBalance):
		return ensureErrorEnvelope(goerrors.New("insufficient balance", goerrors.CategoryOperation).
			WithCode(http.StatusPaymentRequired).
			WithTextCode(ErrorQuotaExceeded))
	case errors.Is(err, ErrInvalidStatusTransition):
		return newIngressError(err.Error(), goerrors.CategoryConflict, ErrorConflict)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := MapError(err)
	if mapped == nil || mapped.Code == 0 {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

func newIngressError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = categoryHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorThreadNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthenticated
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorForwardingFailed
	default:
		return ErrorInternal
	}
}

func categoryHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
