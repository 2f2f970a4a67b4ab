package inbound

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/goliatone/go-webhook-gateway/core"
)

// EventDispatcher routes a verified, admitted delivery to the handler
// registered for its event type. Unknown types and known types without a
// handler are answered with an Ignored result.
type EventDispatcher struct {
	Schemas *SchemaValidator

	mu       sync.RWMutex
	handlers map[core.EventKind]core.EventHandler
}

func NewEventDispatcher(schemas *SchemaValidator) *EventDispatcher {
	return &EventDispatcher{
		Schemas:  schemas,
		handlers: map[core.EventKind]core.EventHandler{},
	}
}

func (d *EventDispatcher) Register(eventType core.EventType, handler core.EventHandler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	if !eventType.IsKnown() {
		return inboundBadInput(
			fmt.Sprintf("inbound: cannot register handler for unknown event type %q", eventType.String()),
			map[string]any{"event_type": eventType.String()},
		)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[core.EventKind]core.EventHandler{}
	}
	if _, exists := d.handlers[eventType.Kind]; exists {
		return inboundConflict(
			fmt.Sprintf("inbound: handler already registered for event type %q", eventType.String()),
			map[string]any{"event_type": eventType.String()},
		)
	}
	d.handlers[eventType.Kind] = handler
	return nil
}

func (d *EventDispatcher) Dispatch(ctx context.Context, delivery core.Delivery) (result core.HandlerResult, err error) {
	if d == nil {
		return core.HandlerResult{}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	metadata := map[string]any{
		"delivery_id": delivery.ID,
		"event_type":  delivery.Type.String(),
	}

	var handler core.EventHandler
	switch delivery.Type.Kind {
	case core.EventKindAssignment, core.EventKindIssue, core.EventKindComment:
		handler = d.handlerFor(delivery.Type.Kind)
	default:
		return core.IgnoredResult(delivery.Type), nil
	}
	if handler == nil {
		return core.IgnoredResult(delivery.Type), nil
	}

	if err := d.Schemas.Validate(delivery.Type, delivery.Data()); err != nil {
		return core.HandlerResult{}, err
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			panicMetadata := cloneMetadata(metadata)
			panicMetadata["stack"] = string(debug.Stack())
			result = core.HandlerResult{}
			err = core.HandlerFailure(fmt.Errorf("inbound: handler panic: %v", recovered), panicMetadata)
		}
	}()

	result, err = handler.Handle(ctx, delivery)
	if err != nil {
		return core.HandlerResult{}, classifyHandlerError(ctx, err, metadata)
	}
	if strings.TrimSpace(result.Status) == "" {
		return core.HandlerResult{}, core.HandlerFailure(
			errors.New("inbound: handler returned a result without status"),
			metadata,
		)
	}
	return result.Clone(), nil
}

func (d *EventDispatcher) handlerFor(kind core.EventKind) core.EventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[kind]
}

// classifyHandlerError keeps malformed payload and timeout errors as they
// are and folds everything else, collaborator failures included, into
// HandlerFailure.
func classifyHandlerError(ctx context.Context, err error, metadata map[string]any) error {
	switch {
	case core.HasTextCode(err, core.ErrorMalformedPayload),
		core.HasTextCode(err, core.ErrorTimeout),
		core.HasTextCode(err, core.ErrorHandlerFailure):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return core.Timeout(err, metadata)
	default:
		return core.HandlerFailure(err, metadata)
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		out[key] = value
	}
	return out
}
