package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type KafkaConfig struct {
	// Brokers is a comma separated host:port list.
	Brokers      string
	TopicPrefix  string
	WriteTimeout time.Duration
}

// Kafka writes each event to the topic named after its type.
type Kafka struct {
	writer *kafka.Writer
	prefix string
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events.NewKafka: no brokers configured")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{writer: w, prefix: cfg.TopicPrefix}, nil
}

func (k *Kafka) Publish(ctx context.Context, evs ...Event) error {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, e := range evs {
		body, err := e.Body()
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Type, err)
		}
		msg := kafka.Message{
			Topic: k.prefix + string(e.Type),
			Key:   e.Key(),
			Value: body,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(e.ID)},
				{Key: "event_type", Value: []byte(e.Type)},
			},
		}
		msg.Headers = injectTraceHeaders(ctx, msg.Headers)
		msgs = append(msgs, msg)
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events.Kafka.Publish: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }

// ReadyCheck dials the first broker.
func ReadyCheck(brokers string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return fmt.Errorf("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", list[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// =============================================================================
// TRACE PROPAGATION
// =============================================================================

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

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

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
