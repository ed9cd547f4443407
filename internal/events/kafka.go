// Package events публикует события жизненного цикла ваучеров для внешних
// потребителей, например статистики. Публикация идёт после коммита и не
// гарантирована: потерянное событие не отменяет выдачу или погашение.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

type Type string

const (
	VoucherIssued   Type = "voucher.issued"
	VoucherRedeemed Type = "voucher.redeemed"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	UserID     int64     `json:"user_id"`
	VoucherID  int64     `json:"voucher_id"`
	CouponID   string    `json:"coupon_id"`
	StoreID    int64     `json:"store_id"`
	// Remaining: остаток купона после выдачи, nil для безлимитных.
	Remaining *int `json:"remaining,omitempty"`
}

func NewEvent(t Type, occurredAt time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: occurredAt}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// MessageWriter это часть *kafka.Writer, нужная паблишеру.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish использует user id как ключ, события одного пользователя идут по порядку.
// Контекст трейса передаётся в заголовках сообщения.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}

	carrier := &headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := append(carrier.headers, kafka.Header{Key: "event_type", Value: []byte(e.Type)})

	msg := kafka.Message{
		Key:     []byte(strconv.FormatInt(e.UserID, 10)),
		Value:   body,
		Headers: headers,
		Time:    e.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s event: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher выбрасывает события. Используется, когда брокеры не заданы.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.headers {
		if h.Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
