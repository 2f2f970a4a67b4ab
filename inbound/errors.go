package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
)

func inboundBadInput(message string, metadata map[string]any) error {
	return core.BadInput(message, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return core.Internal(message, metadata)
}

func inboundNotFound(message string, metadata map[string]any) error {
	return core.NotFound(message, metadata)
}

func inboundConflict(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryConflict, http.StatusConflict, core.ErrorConflict, metadata)
}
