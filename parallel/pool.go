// Package parallel runs closures on a fixed set of worker goroutines.
package parallel

import (
	"runtime"
	"sync"
)

type (
	// WorkerFunc queues a task. It may block while all workers are busy.
	WorkerFunc func(func())
	// WaitFunc blocks until every queued task has returned. With done set
	// the pool is closed first and accepts no more work.
	WaitFunc   func(done bool)
	CancelFunc func()
)

type Pool struct {
	wg      sync.WaitGroup
	workers int
	Do      WorkerFunc
	Wait    WaitFunc
	Cancel  CancelFunc
}

// Start launches numWorkers goroutines, GOMAXPROCS when numWorkers < 1. A
// pool of one worker runs every task inline on the caller's goroutine.
func Start(numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	pool := &Pool{
		workers: numWorkers,
		Do: func(f func()) {
			f()
		},
		Wait:   func(bool) {},
		Cancel: func() {},
	}

	if numWorkers == 1 {
		return pool
	}

	tasks := make(chan func(), numWorkers)
	for range numWorkers {
		pool.wg.Go(func() {
			for f := range tasks {
				f()
			}
		})
	}

	// pending tracks queued tasks so Wait(false) can act as a barrier
	// without closing the channel.
	var pending sync.WaitGroup
	pool.Do = func(f func()) {
		pending.Add(1)
		tasks <- func() {
			defer pending.Done()
			f()
		}
	}
	pool.Cancel = sync.OnceFunc(func() { close(tasks) })
	pool.Wait = func(done bool) {
		if done {
			pool.Cancel()
			pool.wg.Wait()
			return
		}
		pending.Wait()
	}

	return pool
}

func (p *Pool) Workers() int {
	return p.workers
}
