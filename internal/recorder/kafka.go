package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"GapPullback/internal/model"
)

// messageWriter is the part of *kafka.Writer the recorder needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON body of every ledger message.
type Envelope struct {
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

const (
	KindSignal   = "signal"
	KindTrade    = "trade"
	KindPosition = "position"
)

// KafkaRecorder publishes ledger records to a topic, keyed by symbol so
// per-symbol ordering is preserved.
type KafkaRecorder struct {
	w     messageWriter
	topic string
}

func NewKafkaRecorder(brokers []string, topic string) (*KafkaRecorder, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaRecorder{w: w, topic: topic}, nil
}

func (k *KafkaRecorder) RecordSignal(ctx context.Context, s *model.Signal) error {
	return k.publish(ctx, KindSignal, s.Symbol, s.At, s)
}

func (k *KafkaRecorder) RecordTrade(ctx context.Context, t *model.Trade) error {
	return k.publish(ctx, KindTrade, t.Symbol, t.UpdatedAt, t)
}

func (k *KafkaRecorder) UpsertPosition(ctx context.Context, p *model.Position) error {
	return k.publish(ctx, KindPosition, p.Symbol, time.Now(), p)
}

func (k *KafkaRecorder) publish(ctx context.Context, kind, symbol string, at time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	body, err := json.Marshal(Envelope{Kind: kind, At: at, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(symbol),
		Value: body,
		Time:  at,
	})
}

func (k *KafkaRecorder) Close() error {
	if k.w != nil {
		return k.w.Close()
	}
	return nil
}
