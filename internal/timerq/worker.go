package timerq

import (
	"container/heap"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logx "tasktimer/pkg/logx"
)

var ErrStopped = errors.New("timer worker stopped")

// Handle identifies an armed timer. The zero Handle is never issued.
type Handle uint64

// Func is invoked on the worker goroutine when a timer fires.
type Func func()

type item struct {
	handle Handle
	due    time.Time
	sched  cron.Schedule // nil for one-shot
	fn     Func
	index  int // heap position, -1 when not queued
}

type Worker struct {
	log logx.Logger

	mu      sync.Mutex
	seq     Handle
	items   map[Handle]*item
	queue   itemHeap
	stopped bool

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts a worker goroutine. Call Stop to release it.
func New(log logx.Logger) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Worker{
		log:   log,
		items: map[Handle]*item{},
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Arm fires fn once after delay. A negative delay fires on the next tick.
func (w *Worker) Arm(delay time.Duration, fn Func) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return w.add(time.Now().Add(delay), nil, fn)
}

// ArmPeriodic fires fn after initialDelay and then at sched.Next(fire time)
// until cancelled.
func (w *Worker) ArmPeriodic(initialDelay time.Duration, sched cron.Schedule, fn Func) (Handle, error) {
	if sched == nil {
		return 0, errors.New("schedule required")
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	return w.add(time.Now().Add(initialDelay), sched, fn)
}

func (w *Worker) add(due time.Time, sched cron.Schedule, fn Func) (Handle, error) {
	if fn == nil {
		return 0, errors.New("func required")
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return 0, ErrStopped
	}
	w.seq++
	it := &item{handle: w.seq, due: due, sched: sched, fn: fn}
	w.items[it.handle] = it
	heap.Push(&w.queue, it)
	w.mu.Unlock()

	w.signal()
	return it.handle, nil
}

// Cancel removes a pending timer without firing it. It reports whether the
// handle was still armed. Cancelling a periodic timer from inside its own
// callback stops all later fires.
func (w *Worker) Cancel(h Handle) bool {
	w.mu.Lock()
	it, ok := w.items[h]
	if ok {
		delete(w.items, h)
		if it.index >= 0 {
			heap.Remove(&w.queue, it.index)
		}
	}
	w.mu.Unlock()
	if ok {
		w.signal()
	}
	return ok
}

// Pending reports how many timers are armed.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Next returns the due time of an armed timer.
func (w *Worker) Next(h Handle) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.items[h]
	if !ok {
		return time.Time{}, false
	}
	return it.due, true
}

// Stop refuses new timers and abandons pending ones without firing them.
// A callback already running is allowed to finish; Done is closed after that.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		abandoned := len(w.items)
		w.items = map[Handle]*item{}
		w.queue = nil
		w.mu.Unlock()
		close(w.quit)
		w.log.Debug("timer worker stopped", logx.Int("abandoned", abandoned))
	})
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		wait := time.Duration(-1)
		if len(w.queue) > 0 {
			wait = time.Until(w.queue[0].due)
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		if wait < 0 {
			select {
			case <-w.quit:
				return
			case <-w.wake:
				continue
			}
		}
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-w.quit:
				t.Stop()
				return
			case <-w.wake:
				t.Stop()
				continue
			case <-t.C:
			}
		}

		select {
		case <-w.quit:
			return
		default:
		}
		w.fireDue()
	}
}

// fireDue runs the earliest timer if it is due.
func (w *Worker) fireDue() {
	w.mu.Lock()
	if len(w.queue) == 0 || w.queue[0].due.After(time.Now()) {
		w.mu.Unlock()
		return
	}
	it := heap.Pop(&w.queue).(*item)
	if it.sched == nil {
		delete(w.items, it.handle)
	}
	w.mu.Unlock()

	firedAt := time.Now()
	w.invoke(it)

	if it.sched == nil {
		return
	}
	w.mu.Lock()
	// Re-queue only if nobody cancelled it (or stopped the worker) during the callback.
	if cur, ok := w.items[it.handle]; ok && cur == it && !w.stopped {
		it.due = it.sched.Next(firedAt)
		if it.due.IsZero() {
			delete(w.items, it.handle)
		} else {
			heap.Push(&w.queue, it)
		}
	}
	w.mu.Unlock()
}

// invoke guards against callback panics so one bad callback can't take the worker down.
func (w *Worker) invoke(it *item) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("timer.panic",
				logx.Int64("handle", int64(it.handle)),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	it.fn()
}
