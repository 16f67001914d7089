package bot

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// serialQueue runs submitted work one at a time per key, in submission order.
// Each busy key has one goroutine draining its backlog.
type serialQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func newSerialQueue() *serialQueue {
	return &serialQueue{pending: make(map[int64][]func())}
}

func (q *serialQueue) Submit(key int64, fn func()) {
	q.wg.Add(1)

	q.mu.Lock()
	backlog, busy := q.pending[key]
	q.pending[key] = append(backlog, fn)
	q.mu.Unlock()

	if !busy {
		go q.drain(key)
	}
}

func (q *serialQueue) drain(key int64) {
	for {
		q.mu.Lock()
		backlog := q.pending[key]
		if len(backlog) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		fn := backlog[0]
		q.pending[key] = backlog[1:]
		q.mu.Unlock()

		q.run(fn)
	}
}

func (q *serialQueue) run(fn func()) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "bot").Interface("panic", r).Msg("Handler panicked")
		}
	}()
	fn()
}

// Wait blocks until all submitted work has run.
func (q *serialQueue) Wait() {
	q.wg.Wait()
}

func (q *serialQueue) busy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
