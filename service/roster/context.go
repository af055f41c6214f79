// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type Params struct {
	// Call must be an id based reference. Updates for other calls are ignored.
	Call CallReference
	// ChannelPeerID is the peer hosting the call, if any.
	ChannelPeerID *PeerID
	// MyPeerID is the peer the local user participates as.
	MyPeerID PeerID
	// AccountPeerID is the peer of the local account.
	AccountPeerID PeerID
	State         State

	API     API
	Peers   PeerStore
	Updates UpdateSource
	Logger  mlog.LoggerIFace
}

func (p Params) IsValid() error {
	if p.Call.ID == 0 {
		return fmt.Errorf("invalid Call value: should be an id reference")
	}
	if p.API == nil {
		return fmt.Errorf("invalid API value: should not be nil")
	}
	if p.Peers == nil {
		return fmt.Errorf("invalid Peers value: should not be nil")
	}
	if p.Logger == nil {
		return fmt.Errorf("invalid Logger value: should not be nil")
	}
	return nil
}

type Option func(c *Context) error

func WithMetrics(m Metrics) Option {
	return func(c *Context) error {
		if m == nil {
			return fmt.Errorf("metrics should not be nil")
		}
		c.metrics = m
		return nil
	}
}

// WithE2E attaches the encryption context of a conference call.
func WithE2E(e2e E2EContext) Option {
	return func(c *Context) error {
		c.e2e = e2e
		return nil
	}
}

// WithActivityFeed attaches a stream of speaking samples.
func WithActivityFeed(ch <-chan ActivitySample) Option {
	return func(c *Context) error {
		c.activity = ch
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Context) error {
		if now == nil {
			return fmt.Errorf("clock should not be nil")
		}
		c.now = now
		return nil
	}
}

// Context keeps the participant roster of a single call in sync with the
// server. All roster state is owned by a serial executor; public methods only
// schedule work on it and never block on the network.
type Context struct {
	cfg      Config
	log      mlog.LoggerIFace
	metrics  Metrics
	api      API
	peers    PeerStore
	updates  UpdateSource
	e2e      E2EContext
	activity <-chan ActivitySample
	now      func() time.Time

	ref           CallReference
	channelPeerID *PeerID
	myPeerID      PeerID
	accountPeerID PeerID

	exec   *executor
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once

	asyncMut sync.Mutex
	closing  bool

	// The fields below are only accessed on the executor.
	state                      State
	overlay                    OverlayState
	blockchain                 BlockchainState
	updateQueue                []ParticipantsUpdate
	isProcessingUpdate         bool
	drainingUpdates            bool
	isLoadingMore              bool
	shouldResetStateFromServer bool
	missingSSRCs               map[uint32]struct{}
	nextActivityRank           int
	hasReceivedSpeakingReport  bool
	activeSpeakers             map[PeerID]struct{}
	localVideoMuted            *bool
	localVideoPaused           *bool
	localPresentationPaused    *bool
	pendingBlockchain          []ResolvedBlockchainParticipant
	hasPendingBlockchain       bool
	blockchainTimer            *time.Timer
	blockchainTimerSeq         uint64
	failedReported             bool
	slots                      map[requestKind]*Request
	inflight                   map[*Request]struct{}
	published                  *State

	stateSignal          *Signal[State]
	memberEvents         *Signal[MemberEvent]
	isFailedEvents       *Signal[bool]
	activeSpeakersSignal *Signal[[]PeerID]
	chainBlocks          *Signal[ChainBlocksUpdate]
}

// New creates a Context seeded with p.State and starts its background
// routines. Close must be called to release them.
func New(cfg Config, p Params, opts ...Option) (*Context, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := p.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		cfg:                  cfg,
		log:                  p.Logger,
		metrics:              noopMetrics{},
		api:                  p.API,
		peers:                p.Peers,
		updates:              p.Updates,
		now:                  time.Now,
		ref:                  p.Call,
		channelPeerID:        clonePtr(p.ChannelPeerID),
		myPeerID:             p.MyPeerID,
		accountPeerID:        p.AccountPeerID,
		ctx:                  ctx,
		cancel:               cancel,
		stopCh:               make(chan struct{}),
		state:                p.State.Clone(),
		overlay:              newOverlayState(),
		missingSSRCs:         make(map[uint32]struct{}),
		activeSpeakers:       make(map[PeerID]struct{}),
		slots:                make(map[requestKind]*Request),
		inflight:             make(map[*Request]struct{}),
		stateSignal:          newValueSignal[State](),
		memberEvents:         newEventSignal[MemberEvent](cfg.EventQueueSize),
		isFailedEvents:       newValueSignal[bool](),
		activeSpeakersSignal: newValueSignal[[]PeerID](),
		chainBlocks:          newEventSignal[ChainBlocksUpdate](cfg.EventQueueSize),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	c.state.sortParticipants()
	c.isFailedEvents.publish(false)
	c.activeSpeakersSignal.publish([]PeerID{})

	c.exec = newExecutor()
	c.exec.dispatch(c.commit)

	if c.updates != nil {
		updatesCh, unsubscribe := c.updates.Subscribe()
		c.wg.Add(1)
		go c.updatesReader(updatesCh, unsubscribe)
	}

	if c.activity != nil {
		c.wg.Add(1)
		go c.activityReader()
	}

	if c.e2e != nil {
		c.wg.Add(2)
		go c.blockchainReader()
		go c.isFailedReader()
	}

	c.wg.Add(1)
	go c.activityDecayLoop()

	return c, nil
}

// Close stops background routines, cancels in-flight requests and closes
// every stream.
func (c *Context) Close() error {
	c.once.Do(func() {
		c.asyncMut.Lock()
		c.closing = true
		c.asyncMut.Unlock()

		close(c.stopCh)
		c.cancel()
		_ = c.exec.call(func() {
			c.stopBlockchainTimer()
			for req := range c.inflight {
				req.finish(ErrClosed)
			}
			c.inflight = map[*Request]struct{}{}
		})
		c.wg.Wait()
		c.exec.stop()

		c.stateSignal.close()
		c.memberEvents.close()
		c.isFailedEvents.close()
		c.activeSpeakersSignal.close()
		c.chainBlocks.close()
	})
	return nil
}

func (c *Context) CallID() int64 {
	return c.ref.ID
}

// State subscribes to the public roster projection. The current value is
// delivered first; slow subscribers only see the newest state.
func (c *Context) State() *Subscription[State] {
	return c.stateSignal.Subscribe()
}

// ImmediateState returns the latest published projection.
func (c *Context) ImmediateState() (State, bool) {
	s, ok := c.stateSignal.Value()
	if !ok {
		return State{}, false
	}
	return s.Clone(), true
}

func (c *Context) MemberEvents() *Subscription[MemberEvent] {
	return c.memberEvents.Subscribe()
}

// IsFailedEvents reports true once when the E2E context fails.
func (c *Context) IsFailedEvents() *Subscription[bool] {
	return c.isFailedEvents.Subscribe()
}

// ActiveSpeakers streams the set of peers the activity feed reports as
// speaking, sorted by id.
func (c *Context) ActiveSpeakers() *Subscription[[]PeerID] {
	return c.activeSpeakersSignal.Subscribe()
}

// ChainBlocks streams conference chain blocks received for the call.
func (c *Context) ChainBlocks() *Subscription[ChainBlocksUpdate] {
	return c.chainBlocks.Subscribe()
}

// Sync waits until every operation scheduled before it has run.
func (c *Context) Sync() error {
	return c.exec.call(func() {})
}

// run schedules fn on the executor and publishes the resulting state.
func (c *Context) run(fn func()) bool {
	return c.exec.dispatch(func() {
		fn()
		c.commit()
	})
}

// commit publishes the public projection if it changed.
func (c *Context) commit() {
	pub := c.project()
	if c.published != nil && reflect.DeepEqual(*c.published, pub) {
		return
	}
	c.published = &pub
	c.stateSignal.publish(pub.Clone())
	c.metrics.SetParticipants(c.ref.ID, len(pub.Participants))
}

// goAsync runs fn off the executor, tracked for Close. It is a no-op once
// the context is closing.
func (c *Context) goAsync(fn func(ctx context.Context)) {
	c.asyncMut.Lock()
	defer c.asyncMut.Unlock()
	if c.closing {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *Context) trackRequest(req *Request) {
	c.inflight[req] = struct{}{}
}

func (c *Context) untrackRequest(req *Request) {
	delete(c.inflight, req)
}

// takeSlot cancels the previous request of the same kind and records req.
func (c *Context) takeSlot(req *Request) {
	if prev := c.slots[req.kind]; prev != nil && prev != req {
		prev.Cancel()
		c.untrackRequest(prev)
	}
	c.slots[req.kind] = req
	c.trackRequest(req)
}

func (c *Context) releaseSlot(req *Request) {
	if c.slots[req.kind] == req {
		delete(c.slots, req.kind)
	}
	c.untrackRequest(req)
}

func (c *Context) updatesReader(ch <-chan Envelope, unsubscribe func()) {
	defer c.wg.Done()
	defer unsubscribe()
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			c.handleEnvelope(env)
		case <-c.stopCh:
			return
		}
	}
}

// handleEnvelope stores referenced peers, then queues this call's updates.
func (c *Context) handleEnvelope(env Envelope) {
	updates, err := env.UpdatesForCall(c.ref.ID)
	if err != nil {
		c.log.Error("failed to decode updates", mlog.Int("callID", c.ref.ID), mlog.Err(err))
		return
	}
	if len(updates) == 0 {
		return
	}
	if len(env.Peers) > 0 {
		if err := c.peers.PutPeers(c.ctx, env.Peers); err != nil {
			c.log.Error("failed to store peers", mlog.Int("callID", c.ref.ID), mlog.Err(err))
		}
	}
	c.AddUpdates(updates)
}

// AddUpdates applies call attribute deltas immediately and queues participant
// deltas for ordered processing.
func (c *Context) AddUpdates(updates []Update) {
	c.run(func() {
		c.addUpdates(updates)
	})
}

func (c *Context) addUpdates(updates []Update) {
	var queued []ParticipantsUpdate
	for _, u := range updates {
		switch u := u.(type) {
		case ParticipantsUpdate:
			queued = append(queued, u)
		case CallUpdate:
			c.applyCallUpdate(u)
		case ChainBlocksUpdate:
			c.chainBlocks.publish(u)
		}
	}
	if len(queued) > 0 {
		c.updateQueue = append(c.updateQueue, queued...)
		c.beginProcessingUpdatesIfNeeded()
	}
}

func (c *Context) applyCallUpdate(u CallUpdate) {
	c.state.DefaultParticipantsAreMuted = u.DefaultParticipantsAreMuted
	c.state.RecordingStartTimestamp = clonePtr(u.RecordingStartTimestamp)
	c.state.Title = clonePtr(u.Title)
	c.state.ScheduleTimestamp = clonePtr(u.ScheduleTimestamp)
	c.state.IsVideoEnabled = u.IsVideoEnabled
	if u.ParticipantCount != nil {
		c.state.TotalCount = *u.ParticipantCount
	}
	if u.IsTerminated && c.channelPeerID != nil {
		peerID := *c.channelPeerID
		c.goAsync(func(ctx context.Context) {
			if err := c.peers.SetActiveCall(ctx, peerID, nil); err != nil {
				c.log.Error("failed to clear active call", mlog.Int("callID", c.ref.ID), mlog.Err(err))
			}
		})
	}
}

// RemoveLocalPeer drops the local participant from the roster.
func (c *Context) RemoveLocalPeer() {
	c.run(func() {
		id := PeerParticipantID(c.myPeerID)
		participants := c.state.Participants[:0]
		for _, p := range c.state.Participants {
			if p.ID != id {
				participants = append(participants, p)
			}
		}
		c.state.Participants = participants
	})
}

func (c *Context) UpdateAdminIDs(ids []PeerID) {
	c.run(func() {
		c.state.AdminIDs = peerSet(ids...)
	})
}

func sortedPeerIDs(m map[PeerID]struct{}) []PeerID {
	ids := make([]PeerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
