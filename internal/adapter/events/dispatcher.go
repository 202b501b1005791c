package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

var (
	ErrDispatcherClosed = errors.New("event dispatcher closed")
	ErrQueueFull        = errors.New("event queue full")
)

const publishTimeout = 5 * time.Second

// Dispatcher decouples request handling from the broker: Publish only
// enqueues, and a fixed pool of workers forwards events to next.
type Dispatcher struct {
	next   port.EventPublisher
	queue  chan domain.Event
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ port.EventPublisher = (*Dispatcher)(nil)

func NewDispatcher(next port.EventPublisher, workerCount, queueSize int, logger *zap.Logger) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	d := &Dispatcher{
		next:   next,
		queue:  make(chan domain.Event, queueSize),
		logger: logger,
	}

	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	logger.Info("event dispatcher started", zap.Int("workers", workerCount), zap.Int("queue_size", queueSize))
	return d
}

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(ctx context.Context, event domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("event dispatcher stopped")
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := d.next.Publish(ctx, event); err != nil {
			d.logger.Error("failed to deliver event",
				zap.Int("worker", id),
				zap.String("event_type", event.EventType()),
				zap.String("key", event.PartitionKey()),
				zap.Error(err),
			)
		}

		cancel()
	}
}
