package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorUnauthorized     = "GATEWAY_UNAUTHORIZED"
	ErrorMalformedPayload = "GATEWAY_MALFORMED_PAYLOAD"
	ErrorHandlerFailure   = "GATEWAY_HANDLER_FAILURE"
	ErrorTimeout          = "GATEWAY_TIMEOUT"
	ErrorBadInput         = "GATEWAY_BAD_INPUT"
	ErrorNotFound         = "GATEWAY_NOT_FOUND"
	ErrorConflict         = "GATEWAY_CONFLICT"
	ErrorExternalFailure  = "GATEWAY_EXTERNAL_FAILURE"
	ErrorRateLimited      = "GATEWAY_RATE_LIMITED"
	ErrorInternal         = "GATEWAY_INTERNAL_ERROR"
)

func NewError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return NewError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func Unauthorized(source error, metadata map[string]any) *goerrors.Error {
	return WrapError(source, goerrors.CategoryAuth, "gateway: signature verification failed",
		http.StatusUnauthorized, ErrorUnauthorized, metadata)
}

func MalformedPayload(source error, metadata map[string]any) *goerrors.Error {
	return WrapError(source, goerrors.CategoryValidation, "gateway: malformed payload",
		http.StatusOK, ErrorMalformedPayload, metadata)
}

func HandlerFailure(source error, metadata map[string]any) *goerrors.Error {
	return WrapError(source, goerrors.CategoryOperation, "gateway: handler failed",
		http.StatusInternalServerError, ErrorHandlerFailure, metadata)
}

func Timeout(source error, metadata map[string]any) *goerrors.Error {
	return WrapError(source, goerrors.CategoryOperation, "gateway: handler timed out",
		http.StatusServiceUnavailable, ErrorTimeout, metadata)
}

func BadInput(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, metadata)
}

func NotFound(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryNotFound, http.StatusNotFound, ErrorNotFound, metadata)
}

func Internal(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, metadata)
}

func ExternalFailure(source error, message string, metadata map[string]any) *goerrors.Error {
	return WrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ErrorExternalFailure, metadata)
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

// FailureReasonFor classifies a dispatch error for the ledger. Anything that
// is not explicitly malformed or a timeout is a handler failure.
func FailureReasonFor(err error) FailureReason {
	switch {
	case err == nil:
		return FailureReasonNone
	case HasTextCode(err, ErrorMalformedPayload):
		return FailureReasonMalformedPayload
	case HasTextCode(err, ErrorTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureReasonTimeout
	default:
		return FailureReasonHandlerFailure
	}
}

// StatusCodeForReason is the HTTP status returned to the sender for a
// recorded outcome.
func StatusCodeForReason(reason FailureReason) int {
	switch reason {
	case FailureReasonNone, FailureReasonMalformedPayload:
		return http.StatusOK
	case FailureReasonTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// MapError turns any error into a go-errors envelope with a status code and
// text code filled in.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryAuth).WithTextCode(ErrorUnauthorized))
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryBadInput).WithTextCode(ErrorBadInput))
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
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
	case goerrors.CategoryBadInput:
		return ErrorBadInput
	case goerrors.CategoryValidation:
		return ErrorMalformedPayload
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryOperation:
		return ErrorHandlerFailure
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorExternalFailure
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
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
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
