package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWorkerCount   = 4
	defaultQueueCapacity = 256

	logEventJobAccepted = "refresh_job_accepted"
	logEventJobDropped  = "refresh_job_dropped"
	logEventJobStarted  = "refresh_job_started"
	logFieldJobID       = "job_id"
	logFieldJobURL      = "url"
)

// RefreshHandler processes one queued refresh job.
type RefreshHandler func(ctx context.Context, targetURL string)

type refreshJob struct {
	id        string
	targetURL string
}

// RefreshQueue accepts background refresh jobs and runs them on a fixed
// pool of workers. Delivery is at-least-once within a process lifetime;
// the handler is expected to be idempotent.
type RefreshQueue struct {
	handler      RefreshHandler
	logger       *zap.Logger
	jobs         chan refreshJob
	workerCount  int
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewRefreshQueue creates a queue with the given worker pool size. A
// non-positive workerCount falls back to the default pool size.
func NewRefreshQueue(workerCount int, handler RefreshHandler, logger *zap.Logger) *RefreshQueue {
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshQueue{
		handler:     handler,
		logger:      logger,
		jobs:        make(chan refreshJob, defaultQueueCapacity),
		workerCount: workerCount,
	}
}

// Start launches the worker pool. Starting an already running queue is a
// no-op.
func (queue *RefreshQueue) Start(ctx context.Context) {
	if queue == nil || queue.handler == nil {
		return
	}
	queue.controlMutex.Lock()
	if queue.cancel != nil {
		queue.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	queue.cancel = cancel
	done := make(chan struct{})
	queue.done = done
	queue.controlMutex.Unlock()

	var workers sync.WaitGroup
	workers.Add(queue.workerCount)
	for workerIndex := 0; workerIndex < queue.workerCount; workerIndex++ {
		go func() {
			defer workers.Done()
			queue.consume(runtimeCtx)
		}()
	}
	go func() {
		workers.Wait()
		close(done)
	}()
}

// Enqueue schedules a refresh for the URL. It never blocks: when the queue
// is full the job is dropped and false is returned.
func (queue *RefreshQueue) Enqueue(targetURL string) bool {
	if queue == nil || targetURL == "" {
		return false
	}

	job := refreshJob{id: uuid.NewString(), targetURL: targetURL}
	select {
	case queue.jobs <- job:
		queue.logger.Debug(logEventJobAccepted,
			zap.String(logFieldJobID, job.id),
			zap.String(logFieldJobURL, job.targetURL),
		)
		return true
	default:
		queue.logger.Warn(logEventJobDropped, zap.String(logFieldJobURL, targetURL))
		return false
	}
}

// Stop cancels the workers and waits for them to drain.
func (queue *RefreshQueue) Stop() {
	if queue == nil {
		return
	}
	queue.controlMutex.Lock()
	cancel := queue.cancel
	done := queue.done
	queue.cancel = nil
	queue.done = nil
	queue.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (queue *RefreshQueue) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queue.jobs:
			queue.logger.Debug(logEventJobStarted,
				zap.String(logFieldJobID, job.id),
				zap.String(logFieldJobURL, job.targetURL),
			)
			queue.handler(ctx, job.targetURL)
		}
	}
}
