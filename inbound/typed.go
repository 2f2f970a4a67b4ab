package inbound

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-webhook-gateway/core"
)

// TypedPayload is a per-event data schema.
type TypedPayload interface {
	Validate() error
}

// TypedHandlerFunc handles one event type with its decoded payload.
type TypedHandlerFunc[T TypedPayload] func(ctx context.Context, delivery core.Delivery, payload T) (core.HandlerResult, error)

// Typed decodes the delivery data into T and rejects it as MalformedPayload
// when decoding or T.Validate fails. The wrapped function only ever sees a
// valid payload.
func Typed[T TypedPayload](fn TypedHandlerFunc[T]) core.EventHandler {
	return core.EventHandlerFunc(func(ctx context.Context, delivery core.Delivery) (core.HandlerResult, error) {
		payload, err := DecodePayload[T](delivery)
		if err != nil {
			return core.HandlerResult{}, err
		}
		return fn(ctx, delivery, payload)
	})
}

func DecodePayload[T TypedPayload](delivery core.Delivery) (T, error) {
	var payload T
	metadata := map[string]any{
		"delivery_id": delivery.ID,
		"event_type":  delivery.Type.String(),
	}
	if err := json.Unmarshal(delivery.Data(), &payload); err != nil {
		return payload, core.MalformedPayload(err, metadata)
	}
	if err := payload.Validate(); err != nil {
		return payload, core.MalformedPayload(err, metadata)
	}
	return payload, nil
}
