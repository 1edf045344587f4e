package drawsync

import (
	"sync"

	"github.com/starford/sketchmark/internal/apperr"
)

// executor runs queued functions one at a time on its own goroutine. All
// session state is touched only from there.
type executor struct {
	ch   chan func()
	done chan struct{}
	once sync.Once
}

func newExecutor() *executor {
	e := &executor{
		ch:   make(chan func()),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	for {
		select {
		case fn := <-e.ch:
			fn()
		case <-e.done:
			return
		}
	}
}

// post queues fn without waiting. Work posted after close is dropped.
func (e *executor) post(fn func()) {
	go func() {
		select {
		case e.ch <- fn:
		case <-e.done:
		}
	}()
}

func (e *executor) close() {
	e.once.Do(func() { close(e.done) })
}

// call runs fn on the executor and waits for its result.
func call[T any](e *executor, fn func() (T, error)) (T, error) {
	var (
		value T
		err   error
	)
	select {
	case <-e.done:
		return value, apperr.ErrSessionClosed
	default:
	}
	result := make(chan struct{})
	select {
	case e.ch <- func() {
		value, err = fn()
		close(result)
	}:
	case <-e.done:
		return value, apperr.ErrSessionClosed
	}
	<-result
	return value, err
}
