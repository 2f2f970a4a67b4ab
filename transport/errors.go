package transport

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	return core.NewError(message, category, code, transportTextCode(category), metadata)
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	return core.WrapError(source, category, message, code, transportTextCode(category), metadata)
}

// statusError maps a non-2xx upstream response. 401/403 keep their auth
// category so a bad token is visible as such in logs.
func statusError(kind string, res Response, metadata map[string]any) error {
	metadata = cloneMetadata(metadata)
	metadata["adapter"] = kind
	metadata["status_code"] = res.StatusCode
	message := fmt.Sprintf("transport: %s upstream returned status %d", kind, res.StatusCode)
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return transportError(message, goerrors.CategoryAuth, http.StatusBadGateway, metadata)
	case res.StatusCode == http.StatusForbidden:
		return transportError(message, goerrors.CategoryAuthz, http.StatusBadGateway, metadata)
	case res.StatusCode == http.StatusTooManyRequests:
		return transportError(message, goerrors.CategoryRateLimit, http.StatusBadGateway, metadata)
	default:
		return transportError(message, goerrors.CategoryExternal, http.StatusBadGateway, metadata)
	}
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return core.ErrorUnauthorized
	case goerrors.CategoryInternal:
		return core.ErrorInternal
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	default:
		return core.ErrorExternalFailure
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+2)
	for key, value := range metadata {
		out[key] = value
	}
	return out
}
