package kafkaevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
	kgo "github.com/segmentio/kafka-go"
)

const DefaultWriteTimeout = 3 * time.Second

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) (*kgo.Writer, error) {
	brokers = cleanBrokers(brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkaevents: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafkaevents: topic is required")
	}
	return &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        strings.TrimSpace(topic),
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}, nil
}

func NewReader(brokers []string, topic string, groupID string) (*kgo.Reader, error) {
	brokers = cleanBrokers(brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkaevents: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" || strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("kafkaevents: topic and consumer group are required")
	}
	return kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          strings.TrimSpace(topic),
		GroupID:        strings.TrimSpace(groupID),
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	}), nil
}

// outcomeMessage is the wire shape of a completed delivery.
type outcomeMessage struct {
	DeliveryID  string         `json:"delivery_id"`
	EventType   string         `json:"event_type,omitempty"`
	Status      string         `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Attempts    int            `json:"attempts"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Publisher emits one message per completed delivery, keyed by delivery id
// so every outcome for a delivery lands on the same partition.
type Publisher struct {
	writer  MessageWriter
	timeout time.Duration
	Now     core.Clock
}

func NewPublisher(writer MessageWriter) (*Publisher, error) {
	if writer == nil {
		return nil, fmt.Errorf("kafkaevents: writer is required")
	}
	return &Publisher{writer: writer, timeout: DefaultWriteTimeout, Now: core.SystemClock}, nil
}

func (p *Publisher) Publish(ctx context.Context, record core.ProcessingRecord) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafkaevents: publisher is not configured")
	}
	deliveryID := strings.TrimSpace(record.DeliveryID)
	if deliveryID == "" {
		return core.BadInput("kafkaevents: delivery id is required", nil)
	}
	msg := outcomeMessage{
		DeliveryID:  deliveryID,
		EventType:   record.EventType,
		Status:      string(record.Status),
		Reason:      string(record.Reason),
		Attempts:    record.Attempts,
		CompletedAt: record.CompletedAt,
	}
	if record.Result.Status != "" {
		msg.Result = record.Result.Map()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(wctx, kgo.Message{
		Key:   []byte(deliveryID),
		Value: value,
		Time:  p.now(),
		Headers: []kgo.Header{
			{Key: "event_type", Value: []byte(record.EventType)},
			{Key: "status", Value: []byte(record.Status)},
		},
	})
	if err != nil {
		return core.ExternalFailure(err, "kafkaevents: publish outcome", map[string]any{
			"delivery_id": deliveryID,
		})
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func cleanBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		for _, part := range strings.Split(broker, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

var _ core.OutcomePublisher = (*Publisher)(nil)
