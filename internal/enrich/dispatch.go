package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher runs enrichment tasks on a small fixed worker pool so webhook
// handlers can acknowledge immediately. Tasks are detached from the request
// context and bounded by their own timeout.
type Dispatcher struct {
	tasks   chan task
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type task struct {
	name string
	fn   func(context.Context)
}

func NewDispatcher(workers, queueSize int, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		tasks:   make(chan task, queueSize),
		timeout: timeout,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit queues fn for background execution. Returns false when the queue is
// full or the dispatcher is shut down; the caller treats that as a soft
// failure since every stage can be re-triggered manually or by the sweep.
func (d *Dispatcher) Submit(name string, fn func(context.Context)) bool {
	// The mutex stays held across the send so Shutdown cannot close the
	// channel between the closed check and the send. The send never blocks;
	// a full queue falls through to default.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.tasks <- task{name: name, fn: fn}:
		return true
	default:
		d.log.Warn("background task queue full, dropping task", "task", name)
		return false
	}
}

// Shutdown stops accepting tasks and waits for in-flight ones to finish.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	// Closing under the mutex keeps the close ordered against any Submit
	// currently holding it.
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("background task panicked", "task", t.name, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	t.fn(ctx)
}
