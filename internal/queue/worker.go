package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// ErrNoHandler is raised when a message type has no registered handler
var ErrNoHandler = errors.New("no handler for message type")

// Handler processes one message type
type Handler func(ctx context.Context, msg *Message) error

// WorkerPool processes messages from a single named queue with bounded
// concurrency and an external rate limit protecting downstream API quotas.
type WorkerPool struct {
	mgr          *Manager
	queueName    string
	handlers     map[string]Handler
	logger       arbor.ILogger
	concurrency  int
	pollInterval time.Duration
	limiter      *rate.Limiter
	retryDelay   time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a pool for a queue. ratePerMinute of 0 disables
// rate limiting.
func NewWorkerPool(mgr *Manager, queueName string, concurrency int, pollInterval time.Duration, ratePerMinute int, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	var limiter *rate.Limiter
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		mgr:          mgr,
		queueName:    queueName,
		handlers:     make(map[string]Handler),
		logger:       logger,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		limiter:      limiter,
		retryDelay:   30 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterHandler registers a handler for a message type
func (wp *WorkerPool) RegisterHandler(msgType string, handler Handler) {
	wp.handlers[msgType] = handler
	wp.logger.Debug().
		Str("queue", wp.queueName).
		Str("type", msgType).
		Msg("Queue handler registered")
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Str("queue", wp.queueName).
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop stops the pool
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Str("queue", wp.queueName).Msg("Stopping worker pool")
	wp.cancel()
}

func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce lock contention on the queue database
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Str("queue", wp.queueName).
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Str("queue", wp.queueName).
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil && err != ErrNoMessage {
				wp.logger.Warn().
					Err(err).
					Str("queue", wp.queueName).
					Int("worker_id", workerID).
					Msg("Error processing message")
			}
		}
	}
}

func (wp *WorkerPool) processMessage(workerID int) error {
	msg, err := wp.mgr.Receive(wp.ctx, wp.queueName)
	if err != nil {
		return err
	}

	if wp.limiter != nil {
		if err := wp.limiter.Wait(wp.ctx); err != nil {
			// Shutting down mid-claim: put the message back immediately
			return wp.mgr.Retry(wp.ctx, msg, 0)
		}
	}

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("queue", wp.queueName).
			Str("type", msg.Type).
			Str("message_id", msg.ID).
			Msg("No handler registered for message type")
		return wp.mgr.Exhaust(wp.ctx, msg, ErrNoHandler)
	}

	start := time.Now()
	handlerErr := handler(wp.ctx, msg)
	duration := time.Since(start)

	if handlerErr != nil {
		if msg.Attempts >= msg.MaxAttempts {
			wp.logger.Error().
				Err(handlerErr).
				Str("queue", wp.queueName).
				Str("message_id", msg.ID).
				Int("attempts", msg.Attempts).
				Msg("Message exhausted all attempts")
			return wp.mgr.Exhaust(wp.ctx, msg, handlerErr)
		}

		delay := wp.backoff(msg.Attempts)
		wp.logger.Warn().
			Err(handlerErr).
			Str("queue", wp.queueName).
			Str("message_id", msg.ID).
			Int("attempt", msg.Attempts).
			Dur("retry_in", delay).
			Msg("Message handler failed, retrying")
		return wp.mgr.Retry(wp.ctx, msg, delay)
	}

	wp.logger.Debug().
		Str("queue", wp.queueName).
		Str("message_id", msg.ID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Message processed")

	return wp.mgr.Done(wp.ctx, msg)
}

// backoff doubles the base retry delay per delivery attempt, capped at 10m
func (wp *WorkerPool) backoff(attempt int) time.Duration {
	delay := wp.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return delay
}
