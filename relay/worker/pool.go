// Package worker persists finished streams off the relay's hot path. Each
// job carries one transcript; a worker stores it through the storage.Driver
// and, when the transcript is new, publishes a message-completed event.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/papercomputeco/chatstream/pkg/eventstream"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool.
type Job struct {
	Transcript *storage.Transcript
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Driver persists transcripts. Required.
	Driver storage.Driver

	// Publisher receives an event for every newly stored transcript.
	// Optional.
	Publisher eventstream.Publisher

	// Upstream is reported as the event source.
	Upstream string

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger *slog.Logger
}

// Pool processes storage jobs asynchronously.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Driver == nil {
		return nil, errors.New("storage driver is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job without blocking. It returns false when the queue is
// full or the pool is closed, in which case the job is dropped.
func (p *Pool) Enqueue(job Job) bool {
	if job.Transcript == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("job not queued, pool closed", "message_id", job.Transcript.ID)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"message_id", job.Transcript.ID,
			"provider", job.Transcript.Provider,
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"message_id", job.Transcript.ID,
			"provider", job.Transcript.Provider,
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to drain. Call it
// after the relay server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// processJob stores the transcript and publishes its event.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()
	t := job.Transcript

	inserted, err := p.config.Driver.Put(ctx, t)
	if err != nil {
		p.logger.Error("storing transcript failed",
			"message_id", t.ID,
			"error", err,
		)
		return
	}
	if !inserted {
		p.logger.Debug("transcript already stored", "message_id", t.ID)
		return
	}

	p.logger.Info("transcript stored",
		"message_id", t.ID,
		"provider", t.Provider,
		"state", t.State,
		"duration", t.Duration(),
	)

	if p.config.Publisher == nil {
		return
	}

	event := eventstream.NewMessageCompletedEvent(t, p.config.Upstream)
	if err := p.config.Publisher.PublishMessage(ctx, event); err != nil {
		p.logger.Warn("publishing message event failed",
			"message_id", t.ID,
			"event_id", event.EventID,
			"error", err,
		)
	}
}
