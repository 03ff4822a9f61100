package worker

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Pool runs submitted tasks on a fixed set of goroutines over a bounded
// queue. Submission never blocks: a full queue means the task is refused
// and the caller decides what dropping it means.
type Pool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func NewPool(workers, queue int) *Pool {
	p := &Pool{
		tasks:  make(chan func(), queue),
		quit:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Pool: task panicked", "panic", r)
		}
	}()
	task()
}

// Submit queues a task for execution. Returns false when the queue is full
// or the pool has stopped.
func (p *Pool) Submit(task func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}

	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// SubmitAfter queues a task once the delay has elapsed. The delay happens
// off-pool; the queue-full rule applies at fire time, and a task dropped
// then is logged and lost.
func (p *Pool) SubmitAfter(delay time.Duration, task func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()

		if !p.Submit(task) {
			log.Warn("Pool: delayed task dropped, queue full or pool stopped")
		}
	})

	p.mu.Lock()
	p.timers[timer] = struct{}{}
	p.mu.Unlock()
	return true
}

// Stop cancels pending timers and waits for running tasks to finish.
// Queued tasks that have not started are discarded.
func (p *Pool) Stop() {
	close(p.quit)

	p.mu.Lock()
	for timer := range p.timers {
		timer.Stop()
	}
	p.timers = map[*time.Timer]struct{}{}
	p.mu.Unlock()

	p.wg.Wait()
}

// Depth reports how many tasks are waiting in the queue.
func (p *Pool) Depth() int {
	return len(p.tasks)
}
