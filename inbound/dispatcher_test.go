package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
)

type countingHandler struct {
	calls  int
	result core.HandlerResult
	err    error
}

func (h *countingHandler) Handle(context.Context, core.Delivery) (core.HandlerResult, error) {
	h.calls++
	return h.result, h.err
}

func newDelivery(id string, eventType core.EventType, data string) core.Delivery {
	return core.NewDelivery(id, eventType, "create", []byte(data), json.RawMessage(data), time.Now(), "")
}

func TestEventDispatcher_RoutesAssignmentThroughTypedHandler(t *testing.T) {
	dispatcher := NewEventDispatcher(MustSchemaValidator())
	err := dispatcher.Register(core.AssignmentEvent, Typed(func(_ context.Context, _ core.Delivery, data core.AssignmentData) (core.HandlerResult, error) {
		return core.NewHandlerResult(core.ResultStatusProcessed, map[string]any{
			"assignee_id": data.AssigneeID,
			"issue_id":    data.IssueID,
		}), nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := dispatcher.Dispatch(context.Background(), newDelivery("d1", core.AssignmentEvent, `{"assigneeId":"u1","issueId":"i1"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Status != core.ResultStatusProcessed || result.Fields["assignee_id"] != "u1" || result.Fields["issue_id"] != "i1" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestEventDispatcher_UnknownTypeIsIgnored(t *testing.T) {
	dispatcher := NewEventDispatcher(MustSchemaValidator())
	result, err := dispatcher.Dispatch(context.Background(), newDelivery("d2", core.ParseEventType("Widget"), `{}`))
	if err != nil {
		t.Fatalf("expected unknown type not to fail, got %v", err)
	}
	if result.Status != core.ResultStatusIgnored || result.Fields["type"] != "Widget" {
		t.Fatalf("unexpected ignored result %#v", result)
	}
}

func TestEventDispatcher_KnownTypeWithoutHandlerIsIgnored(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	result, err := dispatcher.Dispatch(context.Background(), newDelivery("d3", core.CommentEvent, `{"id":"c1","issueId":"i1"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Status != core.ResultStatusIgnored {
		t.Fatalf("expected ignored, got %#v", result)
	}
}

func TestEventDispatcher_SchemaViolationIsMalformed(t *testing.T) {
	handler := &countingHandler{result: core.NewHandlerResult("processed", nil)}
	dispatcher := NewEventDispatcher(MustSchemaValidator())
	if err := dispatcher.Register(core.AssignmentEvent, handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := dispatcher.Dispatch(context.Background(), newDelivery("d4", core.AssignmentEvent, `{"assigneeId":42}`))
	if core.FailureReasonFor(err) != core.FailureReasonMalformedPayload {
		t.Fatalf("expected malformed payload, got %v", err)
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not to run for malformed payload")
	}
}

func TestEventDispatcher_TypedDecodeFailureIsMalformed(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	if err := dispatcher.Register(core.IssueEvent, Typed(func(context.Context, core.Delivery, core.IssueData) (core.HandlerResult, error) {
		t.Fatalf("handler must not run")
		return core.HandlerResult{}, nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := dispatcher.Dispatch(context.Background(), newDelivery("d5", core.IssueEvent, `{"title":"no id"}`))
	if !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
}

func TestEventDispatcher_HandlerErrorsBecomeHandlerFailure(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	if err := dispatcher.Register(core.IssueEvent, &countingHandler{err: errors.New("graphql down")}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := dispatcher.Dispatch(context.Background(), newDelivery("d6", core.IssueEvent, `{"id":"i1"}`))
	if !core.HasTextCode(err, core.ErrorHandlerFailure) {
		t.Fatalf("expected handler failure, got %v", err)
	}
}

func TestEventDispatcher_DeadlineBecomesTimeout(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	if err := dispatcher.Register(core.IssueEvent, core.EventHandlerFunc(func(ctx context.Context, _ core.Delivery) (core.HandlerResult, error) {
		<-ctx.Done()
		return core.HandlerResult{}, ctx.Err()
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := dispatcher.Dispatch(ctx, newDelivery("d7", core.IssueEvent, `{"id":"i1"}`))
	if core.FailureReasonFor(err) != core.FailureReasonTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestEventDispatcher_RecoversPanics(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	if err := dispatcher.Register(core.CommentEvent, core.EventHandlerFunc(func(context.Context, core.Delivery) (core.HandlerResult, error) {
		panic("nil map write")
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := dispatcher.Dispatch(context.Background(), newDelivery("d8", core.CommentEvent, `{"id":"c1","issueId":"i1"}`))
	if !core.HasTextCode(err, core.ErrorHandlerFailure) {
		t.Fatalf("expected panic to surface as handler failure, got %v", err)
	}
}

func TestEventDispatcher_EmptyResultIsFailure(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	if err := dispatcher.Register(core.IssueEvent, &countingHandler{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := dispatcher.Dispatch(context.Background(), newDelivery("d9", core.IssueEvent, `{"id":"i1"}`))
	if !core.HasTextCode(err, core.ErrorHandlerFailure) {
		t.Fatalf("expected empty result to be rejected, got %v", err)
	}
}

func TestEventDispatcher_RegisterRejectsDuplicatesAndUnknown(t *testing.T) {
	dispatcher := NewEventDispatcher(nil)
	handler := &countingHandler{}
	if err := dispatcher.Register(core.IssueEvent, handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := dispatcher.Register(core.IssueEvent, handler); !core.HasTextCode(err, core.ErrorConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := dispatcher.Register(core.UnknownEvent("Widget"), handler); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
	if err := dispatcher.Register(core.CommentEvent, nil); err == nil {
		t.Fatalf("expected nil handler to be rejected")
	}
}
