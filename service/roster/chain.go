// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// BroadcastChainBlock appends a block to the conference chain. Write
// conflicts and transport failures are retried with a linearly growing
// delay.
func (c *Context) BroadcastChainBlock(block []byte) *Request {
	req := newRequest(c.ctx, requestKindChainBlock)
	block = append([]byte(nil), block...)
	if !c.run(func() {
		c.trackRequest(req)
		c.goAsync(func(_ context.Context) {
			env, err := c.sendChainBlock(req.ctx, block)
			if err == nil {
				c.storeEnvelopePeers(req.ctx, env)
			}
			c.run(func() {
				c.untrackRequest(req)
				if req.canceled() {
					return
				}
				if err != nil {
					c.log.Error("failed to broadcast chain block", mlog.Int("callID", c.ref.ID), mlog.Err(err))
					c.metrics.IncMutations(string(req.kind), "error")
					c.handleCallError(err)
					req.finish(err)
					return
				}
				c.applyEcho(env, nil)
				c.metrics.IncMutations(string(req.kind), "ok")
				req.finish(nil)
			})
		})
	}) {
		req.finish(ErrClosed)
	}
	return req
}

func (c *Context) sendChainBlock(ctx context.Context, block []byte) (Envelope, error) {
	var err error
	for attempt := 0; ; attempt++ {
		var env Envelope
		env, err = c.api.SendChainBlock(ctx, ChainBlockRequest{
			Call:  c.ref,
			Block: block,
		})
		if err == nil {
			return env, nil
		}
		if !isRetryableChainError(err) || attempt >= c.cfg.ChainRetries {
			break
		}

		delay := min(c.cfg.ChainRetryDelayIncrement*time.Duration(attempt+1), c.cfg.ChainRetryMaxDelay)
		c.log.Debug("retrying chain block broadcast",
			mlog.Int("callID", c.ref.ID),
			mlog.Int("attempt", attempt+1),
			mlog.Err(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Envelope{}, ctx.Err()
		}
	}
	return Envelope{}, fmt.Errorf("failed to send chain block: %w", err)
}

// isRetryableChainError reports whether a chain write may succeed if sent
// again. Server rejections other than write conflicts are final.
func isRetryableChainError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrChainWriteConflict) {
		return true
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

// PollChainBlocks reads blocks of a conference sub-chain starting at offset.
func (c *Context) PollChainBlocks(ctx context.Context, subChainID, offset, limit int) (ChainBlocksUpdate, error) {
	update, err := c.api.PollChainBlocks(ctx, ChainPollRequest{
		Call:       c.ref,
		SubChainID: subChainID,
		Offset:     offset,
		Limit:      limit,
	})
	if err != nil {
		return ChainBlocksUpdate{}, fmt.Errorf("failed to poll chain blocks: %w", err)
	}
	if update.SubChainID != subChainID {
		return ChainBlocksUpdate{}, fmt.Errorf("unexpected sub chain %d in poll response", update.SubChainID)
	}
	return update, nil
}
