package sqlstore

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
)

func storeFailure(source error, message string, metadata map[string]any) error {
	return core.WrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, core.ErrorInternal, metadata)
}

func storeConflict(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryConflict, http.StatusConflict, core.ErrorConflict, metadata)
}

func storeNotFound(deliveryID string) error {
	return core.NotFound("sqlstore: no record for delivery", map[string]any{"delivery_id": deliveryID})
}
