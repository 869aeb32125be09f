package relay

import (
	"context"
	"sync"

	"github.com/arcosum/lead-relay/pkg/logging"
)

// WorkerPool drains the inbound queue into the relay service. Messages for
// different correspondents process concurrently; ordering per correspondent is
// whatever the platform delivered, which is good enough for a chat relay.
type WorkerPool struct {
	service *Service
	queue   *Queue
	count   int
	logger  *logging.Logger

	wg sync.WaitGroup
}

// NewWorkerPool creates a pool of count workers over the queue.
func NewWorkerPool(service *Service, queue *Queue, count int, logger *logging.Logger) *WorkerPool {
	if count <= 0 {
		count = 2
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WorkerPool{
		service: service,
		queue:   queue,
		count:   count,
		logger:  logger,
	}
}

// Start launches the workers. They exit when the context is cancelled or the
// queue is closed and drained.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("relay workers started", "count", p.count)
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.queue.Messages():
			if !ok {
				return
			}
			if _, err := p.service.ProcessInbound(ctx, msg); err != nil {
				p.logger.Error("relay worker: message processing failed",
					"error", err,
					"worker", id,
					"correspondent", msg.Correspondent,
				)
			}
		}
	}
}

// Stop closes the queue and waits for in-flight messages to finish.
func (p *WorkerPool) Stop() {
	p.queue.Close()
	p.wg.Wait()
	p.logger.Info("relay workers stopped")
}
