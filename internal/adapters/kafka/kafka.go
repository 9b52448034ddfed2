package kafka

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"charity-service/internal/ws"

	"github.com/IBM/sarama"
)

var (
	ErrOutboxFull   = errors.New("event outbox buffer is full")
	ErrOutboxClosed = errors.New("event outbox is closed")
)

func InitKafkaProducer(brokers []string) (sarama.AsyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy  // Enable compression
	config.Producer.Partitioner = sarama.NewHashPartitioner // Same community, same partition
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Version = sarama.V2_0_0_0
	config.ClientID = "charity-service"
	config.Producer.MaxMessageBytes = 1000000 // 1MB

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return producer, nil
}

// EventOutbox forwards community events to a topic for downstream consumers
// such as notification workers. Records are keyed by community id.
//
// Emit never waits on the brokers: records are handed to the async producer
// and delivery results are drained into the log.
type EventOutbox struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	drains sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

func NewEventOutbox(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *EventOutbox {
	if logger == nil {
		logger = slog.Default()
	}
	o := &EventOutbox{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	o.drains.Add(2)
	go o.drainSuccesses()
	go o.drainErrors()
	return o
}

// Emit queues ev, in its wire encoding, for the outbox topic. It returns
// ErrOutboxFull instead of blocking when the producer buffer is saturated.
func (o *EventOutbox) Emit(communityID string, ev ws.Event) error {
	frame, err := ws.Encode(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: o.topic,
		Key:   sarama.StringEncoder(communityID),
		Value: sarama.ByteEncoder(frame),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(ev.EventName())},
		},
		Metadata:  ev.EventName(),
		Timestamp: time.Now().UTC(),
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}

	select {
	case o.producer.Input() <- msg:
		return nil
	default:
		o.failed.Add(1)
		return fmt.Errorf("emit %s for community %s: %w", ev.EventName(), communityID, ErrOutboxFull)
	}
}

func (o *EventOutbox) drainSuccesses() {
	defer o.drains.Done()
	for msg := range o.producer.Successes() {
		o.delivered.Add(1)
		o.logger.Debug("Event emitted to outbox",
			"topic", msg.Topic,
			"event", msg.Metadata,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}

func (o *EventOutbox) drainErrors() {
	defer o.drains.Done()
	for perr := range o.producer.Errors() {
		o.failed.Add(1)
		attrs := []any{"error", perr.Err}
		if perr.Msg != nil {
			attrs = append(attrs, "topic", perr.Msg.Topic, "event", perr.Msg.Metadata)
		}
		o.logger.Warn("Failed to emit event to outbox", attrs...)
	}
}

// Stats returns the number of records acknowledged and the number lost.
func (o *EventOutbox) Stats() (delivered, failed int64) {
	return o.delivered.Load(), o.failed.Load()
}

// Close flushes buffered records and waits for their delivery results.
func (o *EventOutbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.producer.AsyncClose()
	o.drains.Wait()
	return nil
}
