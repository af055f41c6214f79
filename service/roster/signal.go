// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"sync"
)

// Subscription receives values from a Signal until closed.
type Subscription[T any] struct {
	id  int
	ch  chan T
	sig *Signal[T]
}

// C returns the channel values are delivered on. It is closed when the
// subscription or the signal is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

func (s *Subscription[T]) Close() {
	s.sig.unsubscribe(s.id)
}

// Signal multicasts values to any number of subscribers without ever
// blocking the publisher.
//
// A value signal keeps only the latest value per subscriber and replays the
// current value to new subscribers. An event signal queues up to size values
// per subscriber and drops on overflow.
type Signal[T any] struct {
	mut      sync.Mutex
	subs     map[int]*Subscription[T]
	lastID   int
	size     int
	isValue  bool
	hasValue bool
	value    T
	closed   bool
	dropped  int
}

func newValueSignal[T any]() *Signal[T] {
	return &Signal[T]{
		subs:    make(map[int]*Subscription[T]),
		size:    1,
		isValue: true,
	}
}

func newEventSignal[T any](size int) *Signal[T] {
	if size <= 0 {
		size = 1
	}
	return &Signal[T]{
		subs: make(map[int]*Subscription[T]),
		size: size,
	}
}

func (s *Signal[T]) Subscribe() *Subscription[T] {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.lastID++
	sub := &Subscription[T]{
		id:  s.lastID,
		ch:  make(chan T, s.size),
		sig: s,
	}

	if s.closed {
		close(sub.ch)
		return sub
	}

	if s.isValue && s.hasValue {
		sub.ch <- s.value
	}
	s.subs[sub.id] = sub

	return sub
}

// Value returns the latest published value.
func (s *Signal[T]) Value() (T, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.value, s.hasValue
}

// Dropped returns how many event deliveries were dropped on full queues.
func (s *Signal[T]) Dropped() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.dropped
}

func (s *Signal[T]) publish(v T) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.closed {
		return
	}

	s.value = v
	s.hasValue = true

	for _, sub := range s.subs {
		if s.isValue {
			// Only the publisher sends, so after draining there is room.
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- v
			continue
		}

		select {
		case sub.ch <- v:
		default:
			s.dropped++
		}
	}
}

func (s *Signal[T]) unsubscribe(id int) {
	s.mut.Lock()
	defer s.mut.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	close(sub.ch)
}

func (s *Signal[T]) close() {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}
