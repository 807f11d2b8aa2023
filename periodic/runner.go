// Package periodic implements the cooperative periodic task runner: a
// single worker goroutine owns a set of
// (frequency, notifyable, userData, runFn) tasks and invokes each due
// task in turn, catching and logging panics rather than letting one
// task's failure take down the loop.
package periodic

import (
	"context"
	"sync"
	"time"

	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/notifyable"
)

// RunFunc is a periodic task body.
type RunFunc func(ctx context.Context, n *notifyable.Impl, userData interface{})

// DefaultTick bounds the runner's scheduling resolution: no task fires
// more than this long after it becomes due. Chosen well below any
// plausible liveness reporting interval.
const DefaultTick = 100 * time.Millisecond

type task struct {
	id         int64
	frequency  time.Duration
	notifyable *notifyable.Impl
	userData   interface{}
	run        RunFunc

	mu        sync.Mutex
	nextDue   time.Time
	cancelled bool
	running   sync.WaitGroup
}

// Task is a handle to a scheduled periodic task, returned by Schedule.
type Task struct {
	r *Runner
	t *task
}

// Cancel stops this task from running again and waits for any
// in-flight invocation to finish. Idempotent: a second cancel returns
// false.
func (tk *Task) Cancel() bool {
	tk.t.mu.Lock()
	if tk.t.cancelled {
		tk.t.mu.Unlock()
		return false
	}
	tk.t.cancelled = true
	tk.t.mu.Unlock()

	tk.r.remove(tk.t.id)
	tk.t.running.Wait()
	return true
}

// Runner is owned by a Factory and drives every registered task from
// one goroutine, scanning the due-task set each tick so a scan always
// observes a consistent snapshot of what is due.
type Runner struct {
	mu     sync.Mutex
	tasks  map[int64]*task
	nextID int64

	tick   time.Duration
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *clog.Entry
}

// New creates a Runner whose worker loop wakes every tick to check for
// due tasks. A zero or negative tick uses DefaultTick.
func New(tick time.Duration) *Runner {
	if tick <= 0 {
		tick = DefaultTick
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		tasks:  make(map[int64]*task),
		tick:   tick,
		ctx:    ctx,
		cancel: cancel,
		log:    clog.NewEntry(clog.Logger, map[string]interface{}{"component": "periodic"}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Schedule registers a task invoked roughly every frequency, starting
// one interval from now, and returns a handle to cancel it.
func (r *Runner) Schedule(frequency time.Duration, n *notifyable.Impl, userData interface{}, run RunFunc) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t := &task{
		id:         r.nextID,
		frequency:  frequency,
		notifyable: n,
		userData:   userData,
		run:        run,
		nextDue:    time.Now().Add(frequency),
	}
	r.tasks[t.id] = t
	return &Task{r: r, t: t}
}

// Len reports how many tasks are currently scheduled, for tests and
// diagnostics.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Runner) remove(id int64) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

func (r *Runner) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.runDue(now)
		}
	}
}

// runDue invokes every currently-due task in turn, on this single
// worker goroutine.
func (r *Runner) runDue(now time.Time) {
	r.mu.Lock()
	var due []*task
	for _, t := range r.tasks {
		t.mu.Lock()
		if !t.cancelled && !now.Before(t.nextDue) {
			t.nextDue = now.Add(t.frequency)
			due = append(due, t)
		}
		t.mu.Unlock()
	}
	r.mu.Unlock()

	for _, t := range due {
		r.invoke(t)
	}
}

func (r *Runner) invoke(t *task) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.running.Add(1)
	t.mu.Unlock()
	defer t.running.Done()

	select {
	case <-r.ctx.Done():
		return
	default:
	}

	entry := clog.NewEntry(clog.Logger, map[string]interface{}{
		"component": "periodic",
		"task":      t.id,
	})
	defer clog.RecoverAndLog(entry)
	t.run(r.ctx, t.notifyable, t.userData)
}

// Shutdown stops the worker loop so no task runs again, and waits for
// the loop goroutine to exit before returning. Because every
// task invocation happens synchronously on that one goroutine, its
// exit guarantees no invocation is still in flight.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
