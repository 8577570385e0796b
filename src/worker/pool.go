package worker

import (
	"context"
	"log"
	"runtime"
	"sync"
)

// Task is one unit of work run on a pool goroutine.
type Task func(ctx context.Context)

// Pool is a fixed-size worker pool with a bounded input queue (strict
// back-pressure: Submit never blocks).
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	ctx  context.Context
	name string
	run  Task
}

// New creates a worker pool. Size defaults to NumCPU when size<=0 and the
// queue holds at least one job.
func New(size, queue int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queue <= 0 {
		queue = 1
	}
	p := &Pool{jobs: make(chan job, queue)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.runJob(j)
			}
		}()
	}
}

func (p *Pool) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker: PANIC in %s: %v", j.name, r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		log.Printf("Worker: %s starting with done context: %v", j.name, err)
	}
	j.run(j.ctx)
}

// Submit enqueues a task if the queue has room. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, name string, task Task) bool {
	select {
	case p.jobs <- job{ctx: ctx, name: name, run: task}:
		return true
	default:
		log.Printf("Worker: queue full, dropping %s", name)
		return false
	}
}

// Close stops the pool after draining queued work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
