package kafka_producer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"go-news-collector/internal/logger"
)

const deliveryTimeout = 30 * time.Second

// StoreUpdate is published after a keyword set's store has been written.
type StoreUpdate struct {
	KeywordSet string    `json:"keyword_set"`
	Path       string    `json:"path"`
	Added      int       `json:"added"`
	Total      int       `json:"total"`
	Partial    bool      `json:"partial,omitempty"`
	RunAt      time.Time `json:"run_at"`
}

// KafkaError represents Kafka-related errors
type KafkaError struct {
	Operation string `json:"operation"`
	Topic     string `json:"topic"`
	Cause     error  `json:"cause"`
}

func (e *KafkaError) Error() string {
	return fmt.Sprintf("kafka %s failed for topic '%s': %v", e.Operation, e.Topic, e.Cause)
}

func (e *KafkaError) Unwrap() error {
	return e.Cause
}

// Publisher notifies downstream consumers about store updates.
type Publisher interface {
	PublishUpdate(ctx context.Context, update StoreUpdate) error
	Close() error
}

type Producer struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger
	mutex    sync.Mutex
	closed   bool
}

func NewProducer(brokerURL, topic string, log *logger.Logger) (*Producer, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("broker URL cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if log == nil {
		log = logger.Discard()
	}

	config := &kafka.ConfigMap{
		"bootstrap.servers": brokerURL,
		"acks":              "all",
		"retries":           3,
	}

	producer, err := kafka.NewProducer(config)
	if err != nil {
		return nil, &KafkaError{Operation: "create producer", Topic: topic, Cause: err}
	}

	p := &Producer{
		producer: producer,
		topic:    topic,
		log:      log.With("component", "kafka"),
	}

	go p.handleEvents()
	return p, nil
}

// handleEvents drains events that were produced without a delivery channel.
func (p *Producer) handleEvents() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Recovered from panic in event loop", "panic", r)
		}
	}()

	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.log.Warn("Delivery failed", "error", ev.TopicPartition.Error)
			}
		case kafka.Error:
			p.log.Error("Kafka error", "error", ev)
		}
	}
}

// PublishUpdate sends update keyed by its keyword set and waits for delivery.
func (p *Producer) PublishUpdate(ctx context.Context, update StoreUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return &KafkaError{Operation: "marshal", Topic: p.topic, Cause: err}
	}
	return p.publish(ctx, []byte(update.KeywordSet), payload)
}

func (p *Producer) publish(ctx context.Context, key, value []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return &KafkaError{Operation: "publish", Topic: p.topic, Cause: fmt.Errorf("producer is closed")}
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}

	// Buffered and never closed: librdkafka may still deliver after we stop waiting.
	deliveryChan := make(chan kafka.Event, 1)

	if err := p.producer.Produce(msg, deliveryChan); err != nil {
		return &KafkaError{Operation: "produce", Topic: p.topic, Cause: err}
	}

	select {
	case e := <-deliveryChan:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return &KafkaError{Operation: "delivery", Topic: p.topic, Cause: m.TopicPartition.Error}
		}
	case <-ctx.Done():
		return &KafkaError{Operation: "publish", Topic: p.topic, Cause: ctx.Err()}
	case <-time.After(deliveryTimeout):
		return &KafkaError{Operation: "publish", Topic: p.topic, Cause: fmt.Errorf("publish timeout")}
	}

	p.log.Debug("Store update delivered", "topic", p.topic, "key", string(key))
	return nil
}

func (p *Producer) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if remaining := p.producer.Flush(int(deliveryTimeout / time.Millisecond)); remaining > 0 {
		p.log.Warn("Unflushed messages on close", "count", remaining)
	}
	p.producer.Close()
	return nil
}
