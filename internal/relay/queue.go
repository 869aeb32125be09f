package relay

import (
	"errors"
	"sync"

	"github.com/arcosum/lead-relay/pkg/logging"
)

// ErrQueueFull is returned when the inbound buffer is at capacity. The webhook
// still acknowledges the platform; the message is dropped with a log record.
var ErrQueueFull = errors.New("relay: inbound queue full")

// ErrQueueClosed is returned when enqueueing after shutdown has begun.
var ErrQueueClosed = errors.New("relay: inbound queue closed")

// Queue is the bounded in-memory buffer between webhook ingestion and the
// worker pool. Enqueue never blocks the HTTP handler.
type Queue struct {
	ch     chan InboundMessage
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(buffer int, logger *logging.Logger) *Queue {
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Queue{
		ch:     make(chan InboundMessage, buffer),
		logger: logger,
	}
}

// Enqueue hands a message to the workers without blocking.
func (q *Queue) Enqueue(msg InboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		q.logger.Warn("inbound queue full, dropping message",
			"correspondent", msg.Correspondent,
			"message_id", msg.MessageID,
		)
		return ErrQueueFull
	}
}

// Messages exposes the receive side for the worker pool.
func (q *Queue) Messages() <-chan InboundMessage {
	return q.ch
}

// Close stops accepting messages. Workers drain what is already buffered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len reports how many messages are currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}
