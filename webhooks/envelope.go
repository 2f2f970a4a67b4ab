package webhooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/goliatone/go-webhook-gateway/core"
)

// Envelope is the outer JSON object of a delivery body. WebhookID names the
// subscription, not the delivery, and is never used as a delivery id.
type Envelope struct {
	ID               string          `json:"id,omitempty"`
	Action           string          `json:"action,omitempty"`
	Type             string          `json:"type"`
	Data             json.RawMessage `json:"data,omitempty"`
	CreatedAt        string          `json:"createdAt,omitempty"`
	WebhookID        string          `json:"webhookId,omitempty"`
	WebhookTimestamp int64           `json:"webhookTimestamp,omitempty"`
}

// ParseEnvelope decodes the body. A body that is not a JSON object, or one
// without a type, is returned with an error alongside whatever was decoded so
// the caller can still find a delivery id.
func ParseEnvelope(body []byte) (Envelope, error) {
	var envelope Envelope
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return envelope, errors.New("webhooks: request body is empty")
	}
	if trimmed[0] != '{' {
		return envelope, errors.New("webhooks: request body must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		// Salvage the id so the failure can still be recorded.
		var probe struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(trimmed, &probe) == nil {
			envelope.ID = probe.ID
		}
		return envelope, err
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return envelope, errors.New("webhooks: type field is required")
	}
	return envelope, nil
}

func (e Envelope) EventType() core.EventType {
	return core.ParseEventType(e.Type)
}

// DeliveryIDExtractor resolves the delivery identifier of a request.
type DeliveryIDExtractor func(req core.InboundRequest, envelope Envelope) string

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest, _ Envelope) string {
		for _, key := range keys {
			if value := headerValue(req.Headers, key); value != "" {
				return value
			}
		}
		return ""
	}
}

func PayloadDeliveryIDExtractor() DeliveryIDExtractor {
	return func(_ core.InboundRequest, envelope Envelope) string {
		return strings.TrimSpace(envelope.ID)
	}
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest, envelope Envelope) string {
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			if deliveryID := strings.TrimSpace(extractor(req, envelope)); deliveryID != "" {
				return deliveryID
			}
		}
		return ""
	}
}

// DefaultDeliveryIDExtractor prefers the delivery header and falls back to
// the top-level id field of the body.
func DefaultDeliveryIDExtractor(header string) DeliveryIDExtractor {
	if strings.TrimSpace(header) == "" {
		header = "Linear-Delivery"
	}
	return ChainDeliveryIDExtractors(
		HeaderDeliveryIDExtractor(header),
		PayloadDeliveryIDExtractor(),
	)
}
