package webhooks

import (
	"testing"

	"github.com/goliatone/go-webhook-gateway/core"
)

func TestParseEnvelope(t *testing.T) {
	envelope, err := ParseEnvelope([]byte(`{"id":"d1","action":"create","type":"Assignment","data":{"assigneeId":"u1"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if envelope.ID != "d1" || envelope.EventType() != core.AssignmentEvent || envelope.Action != "create" {
		t.Fatalf("unexpected envelope %#v", envelope)
	}
	if string(envelope.Data) != `{"assigneeId":"u1"}` {
		t.Fatalf("expected raw data preserved, got %s", envelope.Data)
	}
}

func TestParseEnvelope_Failures(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "",
		"array":      `[1,2]`,
		"no type":    `{"id":"d1","data":{}}`,
		"wrong type": `{"id":"d1","type":7}`,
	} {
		if _, err := ParseEnvelope([]byte(body)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}

	envelope, err := ParseEnvelope([]byte(`{"id":"d9","type":7}`))
	if err == nil || envelope.ID != "d9" {
		t.Fatalf("expected id to survive a type mismatch, got %#v %v", envelope, err)
	}
}

func TestDefaultDeliveryIDExtractor_HeaderThenBody(t *testing.T) {
	extract := DefaultDeliveryIDExtractor("Linear-Delivery")
	envelope := Envelope{ID: "from-body"}

	withHeader := core.InboundRequest{Headers: map[string]string{"linear-delivery": "from-header"}}
	if got := extract(withHeader, envelope); got != "from-header" {
		t.Fatalf("expected header to win, got %q", got)
	}
	if got := extract(core.InboundRequest{}, envelope); got != "from-body" {
		t.Fatalf("expected body fallback, got %q", got)
	}
	if got := extract(core.InboundRequest{}, Envelope{}); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestDefaultDeliveryIDExtractor_IgnoresWebhookID(t *testing.T) {
	extract := DefaultDeliveryIDExtractor("Linear-Delivery")
	if got := extract(core.InboundRequest{}, Envelope{WebhookID: "wh-1"}); got != "" {
		t.Fatalf("expected subscription id to be ignored, got %q", got)
	}
	if got := extract(core.InboundRequest{}, Envelope{ID: "d1", WebhookID: "wh-1"}); got != "d1" {
		t.Fatalf("expected body id, got %q", got)
	}
}
