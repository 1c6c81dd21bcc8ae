package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// RecordInteractionAsync validates the record synchronously, then queues the
// append for background processing. The caller never sees the append
// outcome; failures are logged and counted. Returns an error only when the
// record is invalid, the queue is full, or the service is shutting down.
func (s *Service) RecordInteractionAsync(ctx context.Context, descriptor trail.ContextDescriptor, record trail.InteractionRecord) error {
	_, span := s.tracer.Start(ctx, "Service.RecordInteractionAsync",
		trace.WithAttributes(
			attribute.String("agent.id", record.AgentID),
			attribute.String("interaction.id", record.InteractionID),
		),
	)
	defer span.End()

	if err := record.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.async.submit(descriptor, record); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

type asyncTask struct {
	descriptor trail.ContextDescriptor
	record     trail.InteractionRecord
}

// asyncRecorder fans queued interactions out to a worker pool. Each worker
// runs the normal synchronous pipeline, so per-agent lane ordering still
// holds; only the caller is decoupled.
type asyncRecorder struct {
	service *Service

	mu     sync.RWMutex
	closed bool
	tasks  chan asyncTask

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped int64
}

func newAsyncRecorder(parent context.Context, service *Service) *asyncRecorder {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	a := &asyncRecorder{
		service: service,
		tasks:   make(chan asyncTask, service.config.AsyncBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < service.config.AsyncWorkers; i++ {
		a.wg.Add(1)
		go a.worker()
	}

	service.logger.Debug("async recorder workers started",
		zap.Int("workers", service.config.AsyncWorkers),
	)
	return a
}

// submit enqueues without blocking. A full queue drops the task rather than
// stalling the caller.
func (a *asyncRecorder) submit(descriptor trail.ContextDescriptor, record trail.InteractionRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return errors.NewInternalError("ledger service is shutting down")
	}

	select {
	case a.tasks <- asyncTask{descriptor: descriptor, record: record}:
		a.service.metrics.SetAsyncQueueDepth(int64(len(a.tasks)))
		return nil
	default:
		atomic.AddInt64(&a.dropped, 1)
		a.service.metrics.RecordAsyncDrop(context.Background(), "queue_full")
		a.service.logger.Warn("async queue full, interaction dropped",
			zap.String("agent_id", record.AgentID),
			zap.String("interaction_id", record.InteractionID),
		)
		return errors.NewInternalError("async queue full, interaction dropped")
	}
}

func (a *asyncRecorder) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case task, ok := <-a.tasks:
			if !ok {
				return
			}
			a.process(task)
		}
	}
}

func (a *asyncRecorder) process(task asyncTask) {
	a.service.metrics.SetAsyncQueueDepth(int64(len(a.tasks)))

	// RecordInteraction logs and counts its own failures; nothing to
	// surface to the detached caller.
	_, _ = a.service.RecordInteraction(a.ctx, task.descriptor, task.record)
}

// close stops intake, drains the queue, then stops the workers. After the
// timeout any still-queued tasks are abandoned.
func (a *asyncRecorder) close(timeout time.Duration) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.tasks)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		return nil
	case <-time.After(timeout):
		a.cancel()
		a.service.logger.Warn("async recorder drain timed out",
			zap.Int("abandoned", len(a.tasks)),
		)
		return errors.NewInternalError("async recorder drain timed out")
	}
}

func (a *asyncRecorder) droppedCount() int64 {
	return atomic.LoadInt64(&a.dropped)
}

func (a *asyncRecorder) queueDepth() int {
	return len(a.tasks)
}

func (a *asyncRecorder) queueUsage() float64 {
	if cap(a.tasks) == 0 {
		return 0
	}
	return float64(len(a.tasks)) / float64(cap(a.tasks))
}

func (a *asyncRecorder) running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.closed && a.ctx.Err() == nil
}
