// Package notify доставляет доменные события по каналам (Telegram, Redis).
// Ядро расписания только публикует события, доставка идёт в фоне.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// Channel канал доставки уведомлений
type Channel interface {
	Name() string
	Send(ctx context.Context, event events.Event) error
}

// Dispatcher асинхронно раздаёт события каналам.
// Publish не блокируется: при переполненной очереди событие отбрасывается
type Dispatcher struct {
	channels    []Channel
	queue       chan events.Event
	sendTimeout time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер и запускает workers обработчиков
func NewDispatcher(queueSize, workers int, logger *zap.Logger, channels ...Channel) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}

	d := &Dispatcher{
		channels:    channels,
		queue:       make(chan events.Event, queueSize),
		sendTimeout: defaultSendTimeout,
		logger:      logger,
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}

	logger.Info("Notification dispatcher started",
		zap.Int("queue_size", queueSize),
		zap.Int("workers", workers),
		zap.Int("channels", len(channels)),
	)

	return d
}

// Publish ставит событие в очередь
func (d *Dispatcher) Publish(_ context.Context, event events.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Dispatcher closed, event dropped",
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.Type)),
		)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.logger.Warn("Notification queue is full, event dropped",
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.Type)),
		)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event events.Event) {
	for _, ch := range d.channels {
		// Контекст запроса уже завершён, у доставки свой таймаут
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := ch.Send(ctx, event)
		cancel()

		if err != nil {
			d.logger.Warn("Failed to deliver notification",
				zap.String("channel", ch.Name()),
				zap.String("event_id", event.ID.String()),
				zap.String("type", string(event.Type)),
				zap.Error(err),
			)
		}
	}
}

// Close перестаёт принимать события и ждёт доставки очереди
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
