package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// KafkaMux fans in one kafka.Reader per registered partition into a single
// channel a RunLoop drains with Choose. Each reader runs its own fetch
// loop in a dedicated goroutine; Choose itself never blocks on the broker
// directly, only on the fan-in channel.
type KafkaMux struct {
	brokers []string
	groupID string

	mu      sync.Mutex
	readers map[envelope.SystemStreamPartition]*kafka.Reader
	cancel  map[envelope.SystemStreamPartition]context.CancelFunc

	envelopes chan envelope.Envelope
	errs      chan error
	wg        sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// KafkaMuxConfig configures broker connectivity shared by every registered
// partition reader.
type KafkaMuxConfig struct {
	Brokers []string
	GroupID string
}

// NewKafkaMux constructs an empty KafkaMux; partitions are added with
// Register.
func NewKafkaMux(cfg KafkaMuxConfig) *KafkaMux {
	return &KafkaMux{
		brokers:   cfg.Brokers,
		groupID:   cfg.GroupID,
		readers:   make(map[envelope.SystemStreamPartition]*kafka.Reader),
		cancel:    make(map[envelope.SystemStreamPartition]context.CancelFunc),
		envelopes: make(chan envelope.Envelope, 256),
		errs:      make(chan error, 16),
		closed:    make(chan struct{}),
	}
}

func (m *KafkaMux) Register(ssp envelope.SystemStreamPartition, from envelope.Offset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.readers[ssp]; exists {
		return fmt.Errorf("consumer: partition %s already registered", ssp)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   m.brokers,
		GroupID:   m.groupID,
		Topic:     ssp.Stream,
		Partition: ssp.Partition,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})

	if from != "" && !from.IsControl() {
		// Best-effort seek; a GroupID-based reader ignores explicit seeks,
		// so this only applies when running without consumer-group
		// coordination (GroupID empty).
		if off, err := parseKafkaOffset(from); err == nil && m.groupID == "" {
			_ = reader.SetOffset(off)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.readers[ssp] = reader
	m.cancel[ssp] = cancel

	m.wg.Add(1)
	go m.pump(ctx, ssp, reader)

	return nil
}

func (m *KafkaMux) pump(ctx context.Context, ssp envelope.SystemStreamPartition, reader *kafka.Reader) {
	defer m.wg.Done()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			default:
			}
			select {
			case m.errs <- fmt.Errorf("consumer: read %s: %w", ssp, err):
			case <-m.closed:
			}
			return
		}

		e := envelope.New(ssp, envelope.Offset(fmt.Sprintf("%d", msg.Offset)), msg.Key, msg.Value, msg.Time.UnixMilli())
		select {
		case m.envelopes <- e:
		case <-m.closed:
			return
		}
	}
}

func (m *KafkaMux) Choose(ctx context.Context, block bool) (envelope.Envelope, error) {
	if block {
		select {
		case e := <-m.envelopes:
			return e, nil
		case err := <-m.errs:
			return envelope.Envelope{}, err
		case <-ctx.Done():
			return envelope.Envelope{}, ctx.Err()
		}
	}

	select {
	case e := <-m.envelopes:
		return e, nil
	case err := <-m.errs:
		return envelope.Envelope{}, err
	default:
		return envelope.Envelope{}, nil
	}
}

func (m *KafkaMux) Close() error {
	var closeErr error
	m.closeOnce.Do(func() {
		close(m.closed)
		m.mu.Lock()
		for _, cancel := range m.cancel {
			cancel()
		}
		m.mu.Unlock()
		m.wg.Wait()

		m.mu.Lock()
		for ssp, r := range m.readers {
			if err := r.Close(); err != nil && closeErr == nil {
				closeErr = fmt.Errorf("consumer: close reader %s: %w", ssp, err)
			}
		}
		m.mu.Unlock()
	})
	return closeErr
}

var _ Mux = (*KafkaMux)(nil)

func parseKafkaOffset(off envelope.Offset) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(string(off), "%d", &n)
	return n, err
}
