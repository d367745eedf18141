package broadcast

import (
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// KafkaRelay ships collaboration events to a Kafka topic for downstream
// consumers (timeline materializers, analytics). A bounded local queue keeps
// the submit path from blocking on the broker; events are dropped with a log
// line once the queue is full or retries are exhausted.
type KafkaRelay struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan relayEnvelope

	maxRetry    int
	baseBackoff time.Duration
	done        chan struct{}
}

type relayEnvelope struct {
	key  string
	data []byte
}

type KafkaRelayOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
}

func NewKafkaRelay(producer sarama.SyncProducer, topic string, opt KafkaRelayOptions) *KafkaRelay {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 3
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 100 * time.Millisecond
	}

	r := &KafkaRelay{
		producer:    producer,
		topic:       topic,
		queue:       make(chan relayEnvelope, opt.QueueSize),
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		done:        make(chan struct{}),
	}
	for i := 0; i < opt.Workers; i++ {
		go r.workerLoop()
	}
	return r
}

// Enqueue serializes the event and queues it for delivery. Keying by session
// token keeps per-session ordering within a partition.
func (r *KafkaRelay) Enqueue(sessionToken string, event any) {
	if r == nil || r.producer == nil || r.topic == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("kafka relay: failed to encode event: %v", err)
		return
	}
	select {
	case r.queue <- relayEnvelope{key: sessionToken, data: data}:
	default:
		log.Printf("kafka relay: queue full, dropping event for session %s", sessionToken)
	}
}

func (r *KafkaRelay) Close() {
	close(r.done)
}

func (r *KafkaRelay) workerLoop() {
	for {
		select {
		case env := <-r.queue:
			r.sendWithRetry(env)
		case <-r.done:
			return
		}
	}
}

func (r *KafkaRelay) sendWithRetry(env relayEnvelope) {
	msg := &sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(env.key),
		Value: sarama.ByteEncoder(env.data),
	}
	for attempt := 0; attempt <= r.maxRetry; attempt++ {
		_, _, err := r.producer.SendMessage(msg)
		if err == nil {
			return
		}
		if attempt == r.maxRetry {
			log.Printf("kafka relay: dropping event for session %s after %d attempts: %v", env.key, attempt+1, err)
			return
		}
		time.Sleep(r.baseBackoff * time.Duration(1<<attempt))
	}
}
