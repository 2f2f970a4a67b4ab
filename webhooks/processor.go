package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
)

const (
	AckStatusUnauthorized = "unauthorized"
	AckStatusRejected     = "rejected"
	AckStatusProcessing   = "processing"
	AckStatusSucceeded    = "succeeded"
	AckStatusFailed       = "failed"
	AckStatusIgnored      = "ignored"

	DefaultHandlerTimeout = 10 * time.Second
)

// Processor runs one delivery through verify, admit, dispatch and complete.
type Processor struct {
	Verifier        core.Verifier
	Ledger          core.Ledger
	Dispatcher      core.Dispatcher
	Publisher       core.OutcomePublisher
	ExtractID       DeliveryIDExtractor
	SignatureHeader string
	HandlerTimeout  time.Duration
	Observer        *core.Observer
	Now             core.Clock

	// abandoned holds delivery ids whose handler outlived its timeout and
	// is still running. Redeliveries of those ids are not admitted.
	abandoned sync.Map
}

func NewProcessor(verifier core.Verifier, ledger core.Ledger, dispatcher core.Dispatcher) *Processor {
	return &Processor{
		Verifier:        verifier,
		Ledger:          ledger,
		Dispatcher:      dispatcher,
		ExtractID:       DefaultDeliveryIDExtractor(""),
		SignatureHeader: "Linear-Signature",
		HandlerTimeout:  DefaultHandlerTimeout,
		Observer:        core.NewObserver("gateway", nil, nil),
		Now:             core.SystemClock,
	}
}

type execution struct {
	result core.HandlerResult
	err    error
}

type settled struct {
	record core.ProcessingRecord
	err    error
}

// Process never returns a zero Acknowledgment: the returned error explains a
// non-2xx acknowledgment and is meant for logging, not for the sender.
func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.Acknowledgment, error) {
	if p == nil || p.Verifier == nil || p.Ledger == nil || p.Dispatcher == nil {
		err := core.Internal("webhooks: processor requires verifier, ledger and dispatcher", nil)
		return core.Acknowledgment{StatusCode: http.StatusInternalServerError, Status: AckStatusFailed}, err
	}
	startedAt := time.Now()
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = p.now()
	}

	if err := p.Verifier.Verify(ctx, req); err != nil {
		rejected := core.Unauthorized(err, nil)
		p.Observer.Operation(ctx, startedAt, "webhook.verify", rejected, nil)
		return core.Acknowledgment{StatusCode: http.StatusUnauthorized, Status: AckStatusUnauthorized}, rejected
	}

	envelope, parseErr := ParseEnvelope(req.Body)
	deliveryID := p.extractor()(req, envelope)
	if deliveryID == "" {
		err := core.BadInput("webhooks: delivery id is required", nil)
		if parseErr != nil {
			err = core.BadInput("webhooks: request body is not a webhook envelope: "+parseErr.Error(), nil)
		}
		p.Observer.Operation(ctx, startedAt, "webhook.admit", err, nil)
		return core.Acknowledgment{StatusCode: http.StatusBadRequest, Status: AckStatusRejected}, err
	}
	eventType := envelope.EventType()
	fields := map[string]any{
		"delivery_id": deliveryID,
		"event_type":  eventType.String(),
	}

	if _, running := p.abandoned.Load(deliveryID); running {
		p.Observer.Info(ctx, "timed out handler still running, deferring redelivery", fields)
		return core.Acknowledgment{
			StatusCode: http.StatusAccepted,
			Status:     AckStatusProcessing,
			DeliveryID: deliveryID,
		}, nil
	}

	decision, err := p.Ledger.Admit(ctx, deliveryID, eventType)
	if err != nil {
		mapped := core.MapError(err)
		p.Observer.Operation(ctx, startedAt, "webhook.admit", mapped, fields)
		return core.Acknowledgment{StatusCode: http.StatusInternalServerError, Status: AckStatusFailed, DeliveryID: deliveryID}, mapped
	}
	fields["outcome"] = string(decision.Outcome)

	switch decision.Outcome {
	case core.AdmitAlreadyProcessing:
		p.Observer.Info(ctx, "delivery already in flight", fields)
		return core.Acknowledgment{
			StatusCode: http.StatusAccepted,
			Status:     AckStatusProcessing,
			DeliveryID: deliveryID,
		}, nil
	case core.AdmitAlreadyCompleted:
		p.Observer.Info(ctx, "delivery already completed, replaying stored result", fields)
		return Acknowledge(decision.Record), nil
	}

	if parseErr != nil {
		malformed := core.MalformedPayload(parseErr, fields)
		record, err := p.complete(context.WithoutCancel(ctx), deliveryID, execution{err: malformed})
		if err != nil {
			return p.completionFailed(ctx, startedAt, deliveryID, fields, err)
		}
		p.Observer.Operation(ctx, startedAt, "webhook.process", malformed, withReason(fields, record))
		return Acknowledge(record), malformed
	}

	delivery := core.NewDelivery(
		deliveryID,
		eventType,
		envelope.Action,
		req.Body,
		envelope.Data,
		req.ReceivedAt,
		headerValue(req.Headers, p.SignatureHeader),
	)

	// The handler runs on a context detached from the request so a client
	// disconnect does not abandon it; the ledger is completed either way.
	detached := context.WithoutCancel(ctx)
	done := make(chan settled, 1)
	go func() {
		outcome := p.execute(detached, delivery)
		record, err := p.complete(detached, deliveryID, outcome)
		if err == nil {
			err = outcome.err
		} else {
			err = errors.Join(outcome.err, err)
		}
		p.report(detached, startedAt, record, err, fields)
		done <- settled{record: record, err: err}
	}()

	select {
	case out := <-done:
		if out.record.DeliveryID == "" {
			return p.completionFailed(ctx, startedAt, deliveryID, fields, out.err)
		}
		return Acknowledge(out.record), out.err
	case <-ctx.Done():
		p.Observer.Warn(ctx, "client disconnected, delivery continues in background", fields)
		return core.Acknowledgment{
			StatusCode: http.StatusAccepted,
			Status:     AckStatusProcessing,
			DeliveryID: deliveryID,
		}, ctx.Err()
	}
}

// execute dispatches under the per-delivery timeout. A handler that ignores
// its context is left to finish on its own and its late result is logged and
// dropped. Until it returns the delivery id stays in abandoned so a retry of
// the timed out record cannot start a second handler alongside it.
func (p *Processor) execute(ctx context.Context, delivery core.Delivery) execution {
	timeout := p.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dispatched := make(chan execution, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				dispatched <- execution{err: core.HandlerFailure(fmt.Errorf("webhooks: dispatcher panic: %v", recovered), nil)}
			}
		}()
		result, err := p.Dispatcher.Dispatch(runCtx, delivery)
		dispatched <- execution{result: result, err: err}
	}()

	select {
	case out := <-dispatched:
		if out.err != nil && core.FailureReasonFor(out.err) == core.FailureReasonHandlerFailure &&
			errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			out.err = core.Timeout(out.err, map[string]any{"delivery_id": delivery.ID})
		}
		return out
	case <-runCtx.Done():
		fields := map[string]any{"delivery_id": delivery.ID, "event_type": delivery.Type.String()}
		p.abandoned.Store(delivery.ID, struct{}{})
		go func() {
			late := <-dispatched
			p.abandoned.Delete(delivery.ID)
			lateFields := map[string]any{"delivery_id": delivery.ID, "late_status": late.result.Status}
			if late.err != nil {
				lateFields["error"] = late.err.Error()
			}
			p.Observer.Warn(ctx, "discarding handler result that arrived after timeout", lateFields)
		}()
		return execution{err: core.Timeout(runCtx.Err(), fields)}
	}
}

func (p *Processor) complete(ctx context.Context, deliveryID string, outcome execution) (core.ProcessingRecord, error) {
	return p.Ledger.Complete(ctx, deliveryID, CompletionFor(outcome.result, outcome.err))
}

func (p *Processor) report(ctx context.Context, startedAt time.Time, record core.ProcessingRecord, err error, fields map[string]any) {
	fields = withReason(fields, record)
	if record.DeliveryID != "" && p.Publisher != nil {
		if pubErr := p.Publisher.Publish(ctx, record); pubErr != nil {
			p.Observer.Warn(ctx, "outcome publish failed", map[string]any{
				"delivery_id": record.DeliveryID,
				"error":       pubErr.Error(),
			})
		}
	}
	if record.Reason == core.FailureReasonTimeout {
		p.Observer.Warn(ctx, "handler timed out", fields)
		p.Observer.Counter(ctx, "webhook.timeout.total", 1, map[string]string{"event_type": fmt.Sprint(fields["event_type"])})
	}
	p.Observer.Operation(ctx, startedAt, "webhook.process", err, fields)
}

func (p *Processor) completionFailed(ctx context.Context, startedAt time.Time, deliveryID string, fields map[string]any, err error) (core.Acknowledgment, error) {
	mapped := core.MapError(err)
	p.Observer.Operation(ctx, startedAt, "webhook.complete", mapped, fields)
	return core.Acknowledgment{
		StatusCode: http.StatusInternalServerError,
		Status:     AckStatusFailed,
		DeliveryID: deliveryID,
	}, mapped
}

// CompletionFor turns a dispatch outcome into the ledger completion.
func CompletionFor(result core.HandlerResult, err error) core.Completion {
	if err == nil {
		return core.Completion{Status: core.ProcessingStatusSucceeded, Result: result.Clone()}
	}
	reason := core.FailureReasonFor(err)
	status := core.ResultStatusFailed
	switch reason {
	case core.FailureReasonMalformedPayload:
		status = core.ResultStatusMalformed
	case core.FailureReasonTimeout:
		status = core.ResultStatusTimeout
	}
	return core.Completion{
		Status: core.ProcessingStatusFailed,
		Reason: reason,
		Result: core.NewHandlerResult(status, map[string]any{"error": err.Error()}),
	}
}

// Acknowledge builds the response for a completed record. Replays of the
// same delivery produce the same acknowledgment.
func Acknowledge(record core.ProcessingRecord) core.Acknowledgment {
	status := AckStatusSucceeded
	switch {
	case record.Status == core.ProcessingStatusPending:
		status = AckStatusProcessing
	case record.Status == core.ProcessingStatusFailed:
		status = AckStatusFailed
	case record.Result.Status == core.ResultStatusIgnored:
		status = AckStatusIgnored
	}
	code := core.StatusCodeForReason(record.Reason)
	if record.Status == core.ProcessingStatusPending {
		code = http.StatusAccepted
	}
	return core.Acknowledgment{
		StatusCode: code,
		Status:     status,
		DeliveryID: record.DeliveryID,
		Result:     record.Result.Map(),
	}
}

func withReason(fields map[string]any, record core.ProcessingRecord) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for key, value := range fields {
		out[key] = value
	}
	if record.Status != "" {
		out["record_status"] = string(record.Status)
	}
	if record.Reason != core.FailureReasonNone {
		out["reason"] = string(record.Reason)
	}
	return out
}

func (p *Processor) extractor() DeliveryIDExtractor {
	if p.ExtractID != nil {
		return p.ExtractID
	}
	return DefaultDeliveryIDExtractor("")
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
