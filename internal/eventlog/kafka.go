package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"gossipsim/internal/gossip"
)

// DefaultKafkaBuffer is the number of events queued ahead of the producer.
const DefaultKafkaBuffer = 4096

// ProducerConfig returns the sarama configuration used for event shipping.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "gossipd"
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = 3
	return cfg
}

// KafkaSink publishes events to a topic, keyed by message. Record queues
// the event and returns; a background goroutine sends. Events that do not
// fit the queue are dropped and counted.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan gossip.Event
	done   chan struct{}

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// DialKafka connects a sync producer to brokers.
func DialKafka(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka sink: failed to create producer: %w", err)
	}
	return NewKafkaSink(producer, topic, DefaultKafkaBuffer, logger), nil
}

// NewKafkaSink starts a sink on an existing producer. The sink owns the
// producer and closes it on Close.
func NewKafkaSink(producer sarama.SyncProducer, topic string, buffer int, logger *zap.Logger) *KafkaSink {
	if buffer <= 0 {
		buffer = DefaultKafkaBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger.Named("kafka"),
		queue:    make(chan gossip.Event, buffer),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Record implements gossip.Sink.
func (s *KafkaSink) Record(e gossip.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- e:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("event queue full, dropping events", zap.String("topic", s.topic))
		}
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for e := range s.queue {
		value, err := json.Marshal(e)
		if err != nil {
			s.failed.Add(1)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(e.Message),
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("version"), Value: []byte("1")},
				{Key: []byte("event"), Value: []byte(e.Kind)},
			},
		}
		if _, _, err := s.producer.SendMessage(msg); err != nil {
			s.failed.Add(1)
			s.logger.Warn("failed to publish event",
				zap.String("topic", s.topic),
				zap.String("message", e.Message),
				zap.Error(err))
			continue
		}
		s.sent.Add(1)
	}
}

// Stats returns the sent, failed and dropped counts.
func (s *KafkaSink) Stats() (sent, failed, dropped uint64) {
	return s.sent.Load(), s.failed.Load(), s.dropped.Load()
}

// Close drains the queue and closes the producer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.producer.Close()
}
