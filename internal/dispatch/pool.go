// Package dispatch runs deferred pipeline tasks on a bounded worker pool,
// detached from the HTTP request that produced them.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/persona-engine/internal/observability"
)

var (
	// ErrQueueFull is returned by Submit when no slot frees up within the enqueue timeout.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrClosed is returned by Submit after Shutdown has been called.
	ErrClosed = errors.New("dispatch: pool closed")
)

// Task is one unit of deferred work. Tasks sharing a non-empty Key run one at a
// time when the pool serializes by key.
type Task struct {
	Key  string
	Name string
	Run  func(ctx context.Context)
}

// Options sizes a Pool. Zero values fall back to small defaults.
type Options struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	TaskTimeout    time.Duration
	SerializeByKey bool
}

// Pool is a fixed set of workers draining a buffered queue.
type Pool struct {
	opts  Options
	queue chan Task

	mu     sync.RWMutex
	closed bool

	base   context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	keys *keyedMutex
}

// New starts opts.Workers goroutines. Call Shutdown to stop them.
func New(opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:   opts,
		queue:  make(chan Task, opts.QueueSize),
		base:   base,
		cancel: cancel,
		group:  &errgroup.Group{},
		keys:   newKeyedMutex(),
	}
	for i := 0; i < opts.Workers; i++ {
		p.group.Go(func() error {
			p.worker()
			return nil
		})
	}
	return p
}

// Submit enqueues t, waiting up to the enqueue timeout for room.
func (p *Pool) Submit(t Task) error {
	if t.Run == nil {
		return errors.New("dispatch: task has no Run func")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.DispatchDropped.Inc()
		return ErrClosed
	}

	select {
	case p.queue <- t:
		observability.DispatchQueueDepth.Inc()
		return nil
	default:
	}

	timer := time.NewTimer(p.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- t:
		observability.DispatchQueueDepth.Inc()
		return nil
	case <-timer.C:
		observability.DispatchDropped.Inc()
		log.Warn().Str("task", t.Name).Str("key", t.Key).Msg("dispatch queue full; task dropped")
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx ends first, running tasks see their context cancelled and
// Shutdown returns ctx.Err() once the workers exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	for t := range p.queue {
		observability.DispatchQueueDepth.Dec()
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	if p.opts.SerializeByKey && t.Key != "" {
		unlock := p.keys.lock(t.Key)
		defer unlock()
	}

	ctx := p.base
	if p.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("task", t.Name).Str("key", t.Key).Msg("task panicked")
		}
	}()
	t.Run(ctx)
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
