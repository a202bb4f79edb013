package offset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// readPrimeTimeout bounds how long KafkaManager waits for the next message
// while priming its cache; once no message arrives within this window the
// topic is assumed caught up.
const readPrimeTimeout = 2 * time.Second

// checkpointMessage is the value written to the checkpoint topic for a
// single (task, partition) update. The message key is "taskName|partition"
// so a compacted checkpoint topic naturally retains only the latest offset
// per (task, partition) pair.
type checkpointMessage struct {
	Task      string          `json:"task"`
	Partition string          `json:"partition"`
	Offset    envelope.Offset `json:"offset"`
}

// KafkaManager persists checkpoints to a compacted Kafka topic, the way a
// Samza-style container checkpoints a changelog. It also maintains an
// in-memory cache populated by reading the topic once on construction, so
// Checkpoints calls after Update do not round-trip to the broker.
type KafkaManager struct {
	writer *kafka.Writer
	reader *kafka.Reader

	mu    sync.RWMutex
	cache map[string]map[string]envelope.Offset // task -> partition string -> offset
}

// KafkaManagerConfig configures the broker connection for the checkpoint
// topic.
type KafkaManagerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaManager constructs a KafkaManager and primes its cache by reading
// the checkpoint topic from the beginning.
func NewKafkaManager(ctx context.Context, cfg KafkaManagerConfig) (*KafkaManager, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("offset: kafka manager requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("offset: kafka manager requires a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}

	m := &KafkaManager{
		writer: writer,
		cache:  make(map[string]map[string]envelope.Offset),
	}

	if err := m.prime(ctx, cfg); err != nil {
		_ = writer.Close()
		return nil, err
	}

	return m, nil
}

// prime reads the checkpoint topic to end-of-partition, replaying every
// message into m.cache so the most recent write per key wins.
func (m *KafkaManager) prime(ctx context.Context, cfg KafkaManagerConfig) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	defer reader.Close()

	for {
		readCtx, cancel := context.WithTimeout(ctx, readPrimeTimeout)
		msg, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			// Timeout or context cancellation ends priming: the topic has
			// no more immediately available messages.
			return nil
		}
		var cm checkpointMessage
		if err := json.Unmarshal(msg.Value, &cm); err != nil {
			continue
		}
		m.setCache(cm.Task, cm.Partition, cm.Offset)
	}
}

func (m *KafkaManager) setCache(task, partition string, off envelope.Offset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPartition, ok := m.cache[task]
	if !ok {
		byPartition = make(map[string]envelope.Offset)
		m.cache[task] = byPartition
	}
	byPartition[partition] = off
}

func (m *KafkaManager) Update(ctx context.Context, taskName string, p envelope.PartitionId, off envelope.Offset) error {
	cm := checkpointMessage{Task: taskName, Partition: p.String(), Offset: off}
	data, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("offset: marshal checkpoint message: %w", err)
	}

	key := []byte(taskName + "|" + p.String())
	if err := m.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: data}); err != nil {
		return fmt.Errorf("offset: write checkpoint for %q %s: %w", taskName, p, err)
	}

	m.setCache(taskName, p.String(), off)
	return nil
}

func (m *KafkaManager) Checkpoints(_ context.Context, taskName string) (map[string]envelope.Offset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]envelope.Offset, len(m.cache[taskName]))
	for k, v := range m.cache[taskName] {
		out[k] = v
	}
	return out, nil
}

func (m *KafkaManager) Close() error {
	return m.writer.Close()
}

var _ Manager = (*KafkaManager)(nil)
