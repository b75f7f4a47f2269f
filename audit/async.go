package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue/v2"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when the async queue is at capacity.
var ErrQueueFull = errors.New("audit queue full")

// ErrClosed is returned for writes after Close.
var ErrClosed = errors.New("audit sink closed")

// AsyncSink decouples request handling from a slow sink. Records are queued
// in FIFO order and written by a single worker goroutine; Close drains the
// queue before closing the wrapped sink.
type AsyncSink struct {
	next    Sink
	logger  *zap.Logger
	onError func(error)
	maxSize int

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue[GenerationAudit]
	closed  bool
	done    chan struct{}
}

// NewAsyncSink starts the worker for next. A maxSize of zero or less means
// the queue is unbounded.
func NewAsyncSink(next Sink, maxSize int, logger *zap.Logger, onError func(error)) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncSink{
		next:    next,
		logger:  logger,
		onError: onError,
		maxSize: maxSize,
		pending: queue.New[GenerationAudit](),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Record queues a for writing. It only fails when the queue is full or the
// sink is closed.
func (s *AsyncSink) Record(_ context.Context, a GenerationAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.maxSize > 0 && s.pending.Length() >= s.maxSize {
		return ErrQueueFull
	}
	s.pending.Add(a.Stamp())
	s.cond.Signal()
	return nil
}

// Pending returns the number of queued records.
func (s *AsyncSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Length()
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.pending.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.pending.Length() == 0 {
			s.mu.Unlock()
			return
		}
		a := s.pending.Remove()
		s.mu.Unlock()

		if err := s.next.Record(context.Background(), a); err != nil {
			s.logger.Warn("async audit write failed", zap.String("id", a.ID), zap.Error(err))
			if s.onError != nil {
				s.onError(err)
			}
		}
	}
}

// Close stops accepting records, waits for the queue to drain, and closes
// the wrapped sink.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done
	return s.next.Close()
}
