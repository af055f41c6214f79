// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"sync"
)

type requestKind string

const (
	requestKindMute         requestKind = "mute"
	requestKindRaiseHand    requestKind = "raise_hand"
	requestKindVideo        requestKind = "video"
	requestKindRecording    requestKind = "recording"
	requestKindDefaultMuted requestKind = "default_muted"
	requestKindInviteLinks  requestKind = "invite_links"
	requestKindSubscription requestKind = "scheduled_subscription"
	requestKindLoadMore     requestKind = "load_more"
	requestKindMissingSSRCs requestKind = "missing_ssrcs"
	requestKindReset        requestKind = "reset"
	requestKindChainBlock   requestKind = "chain_block"
	requestKindTitle        requestKind = "title"
	requestKindDiscard      requestKind = "discard"
	requestKindInvite       requestKind = "invite"
	requestKindCallInfo     requestKind = "call_info"
)

// exclusive reports whether a new request of the kind supersedes the
// previous one still in flight.
func (k requestKind) exclusive() bool {
	return k != requestKindInvite
}

// Request is the handle of an in-flight operation. It completes exactly once,
// with ErrClosed at the latest when its parent context is done.
type Request struct {
	kind   requestKind
	ctx    context.Context
	cancel context.CancelFunc
	detach func() bool

	mut    sync.Mutex
	err    error
	done   bool
	doneCh chan struct{}
}

func newRequest(parent context.Context, kind requestKind) *Request {
	ctx, cancel := context.WithCancel(parent)
	r := &Request{
		kind:   kind,
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	r.mut.Lock()
	r.detach = context.AfterFunc(parent, func() {
		r.finish(ErrClosed)
	})
	r.mut.Unlock()
	return r
}

// Done returns a channel closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.doneCh
}

// Err returns the completion error. It is nil while the request is running.
func (r *Request) Err() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.err
}

// Wait blocks until the request completes or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.doneCh:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the request. A canceled request never touches roster state.
func (r *Request) Cancel() {
	r.finish(ErrCanceled)
}

func (r *Request) canceled() bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.done && r.err == ErrCanceled
}

// finish completes the request. It returns false if it was already complete.
func (r *Request) finish(err error) bool {
	r.mut.Lock()
	if r.done {
		r.mut.Unlock()
		return false
	}
	r.done = true
	r.err = err
	close(r.doneCh)
	detach := r.detach
	r.mut.Unlock()
	detach()
	r.cancel()
	return true
}
