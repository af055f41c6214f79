// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"sync"
)

// executor runs closures one at a time, in submission order, on a single
// goroutine. The queue is unbounded so dispatch never blocks.
type executor struct {
	mut     sync.Mutex
	queue   []func()
	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
}

func newExecutor() *executor {
	e := &executor{
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go e.run()
	return e
}

// dispatch schedules fn. It returns false if the executor is stopped.
func (e *executor) dispatch(fn func()) bool {
	e.mut.Lock()
	if e.stopped {
		e.mut.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mut.Unlock()

	select {
	case e.wakeCh <- struct{}{}:
	default:
	}

	return true
}

// call runs fn on the executor and waits for it to return.
func (e *executor) call(fn func()) error {
	doneCh := make(chan struct{})
	if !e.dispatch(func() {
		defer close(doneCh)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-doneCh:
		return nil
	case <-e.doneCh:
		// The executor may have drained fn right before stopping.
		select {
		case <-doneCh:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (e *executor) next() (func(), bool) {
	e.mut.Lock()
	defer e.mut.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	fn := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return fn, true
}

func (e *executor) run() {
	defer close(e.doneCh)
	for {
		for {
			select {
			case <-e.stopCh:
				return
			default:
			}
			fn, ok := e.next()
			if !ok {
				break
			}
			fn()
		}

		select {
		case <-e.wakeCh:
		case <-e.stopCh:
			return
		}
	}
}

// stop discards pending closures and waits for the running one to return.
// It must not be called from the executor goroutine.
func (e *executor) stop() {
	e.mut.Lock()
	if e.stopped {
		e.mut.Unlock()
		<-e.doneCh
		return
	}
	e.stopped = true
	e.queue = nil
	e.mut.Unlock()

	close(e.stopCh)
	<-e.doneCh
}
