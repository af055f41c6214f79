// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/stretchr/testify/require"
)

const (
	testCallID     int64  = 4242
	testMyPeer     PeerID = 1
	testChannelID  PeerID = 900
	waitFor               = 2 * time.Second
	tickFor               = 10 * time.Millisecond
	testAccessHash int64  = 77
)

type fakeAPI struct {
	mut sync.Mutex

	pageFn     func(req FetchRequest) (ParticipantsPage, error)
	call       RawCall
	callErr    error
	fetches    []FetchRequest
	editFn     func(req EditParticipantRequest) (Envelope, error)
	edits      []EditParticipantRequest
	settingsFn func(req SettingsRequest) (Envelope, error)
	settings   []SettingsRequest
	recordings []ToggleRecordingRequest
	subFn      func(req ScheduledSubscriptionRequest) (Envelope, error)
	subs       []ScheduledSubscriptionRequest
	chainFn    func(attempt int) (Envelope, error)
	chainCalls int
	pollFn     func(req ChainPollRequest) (ChainBlocksUpdate, error)
	titles     []EditTitleRequest
	titleFn    func(req EditTitleRequest) (Envelope, error)
	discards   int
	invites    []InviteRequest
	inviteFn   func(req InviteRequest) (Envelope, error)
	links      InviteLinks
	linksErr   error
	checkFn    func(req CheckCallRequest) (CheckCallResult, error)

	// block, when set, holds fetches and edits until closed.
	block chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		call: RawCall{ID: testCallID, AccessHash: testAccessHash},
	}
}

func (a *fakeAPI) FetchParticipants(ctx context.Context, req FetchRequest) (ParticipantsPage, error) {
	a.mut.Lock()
	a.fetches = append(a.fetches, req)
	fn := a.pageFn
	block := a.block
	a.mut.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ParticipantsPage{}, ctx.Err()
		}
	}

	if fn == nil {
		return ParticipantsPage{}, nil
	}
	return fn(req)
}

func (a *fakeAPI) FetchCallInfo(_ context.Context, _ CallReference) (RawCall, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	return a.call, a.callErr
}

func (a *fakeAPI) EditParticipant(ctx context.Context, req EditParticipantRequest) (Envelope, error) {
	a.mut.Lock()
	a.edits = append(a.edits, req)
	fn := a.editFn
	block := a.block
	a.mut.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}

	if fn == nil {
		return Envelope{}, nil
	}
	return fn(req)
}

func (a *fakeAPI) ToggleRecording(_ context.Context, req ToggleRecordingRequest) (Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.recordings = append(a.recordings, req)
	return Envelope{}, nil
}

func (a *fakeAPI) UpdateSettings(_ context.Context, req SettingsRequest) (Envelope, error) {
	a.mut.Lock()
	a.settings = append(a.settings, req)
	fn := a.settingsFn
	a.mut.Unlock()
	if fn == nil {
		return Envelope{}, nil
	}
	return fn(req)
}

func (a *fakeAPI) ToggleScheduledSubscription(_ context.Context, req ScheduledSubscriptionRequest) (Envelope, error) {
	a.mut.Lock()
	a.subs = append(a.subs, req)
	fn := a.subFn
	a.mut.Unlock()
	if fn == nil {
		return Envelope{}, nil
	}
	return fn(req)
}

func (a *fakeAPI) SendChainBlock(_ context.Context, _ ChainBlockRequest) (Envelope, error) {
	a.mut.Lock()
	attempt := a.chainCalls
	a.chainCalls++
	fn := a.chainFn
	a.mut.Unlock()
	if fn == nil {
		return Envelope{}, nil
	}
	return fn(attempt)
}

func (a *fakeAPI) PollChainBlocks(_ context.Context, req ChainPollRequest) (ChainBlocksUpdate, error) {
	a.mut.Lock()
	fn := a.pollFn
	a.mut.Unlock()
	if fn == nil {
		return ChainBlocksUpdate{SubChainID: req.SubChainID}, nil
	}
	return fn(req)
}

func (a *fakeAPI) EditTitle(_ context.Context, req EditTitleRequest) (Envelope, error) {
	a.mut.Lock()
	a.titles = append(a.titles, req)
	fn := a.titleFn
	a.mut.Unlock()
	if fn == nil {
		return Envelope{}, nil
	}
	return fn(req)
}

func (a *fakeAPI) DiscardCall(_ context.Context, ref CallReference) (Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.discards++
	discarded := a.call
	discarded.Discarded = true
	return Envelope{
		Updates: []RawUpdate{{
			Type:   RawUpdateCall,
			CallID: ref.ID,
			Call:   &discarded,
		}},
	}, nil
}

func (a *fakeAPI) InviteToCall(_ context.Context, req InviteRequest) (Envelope, error) {
	a.mut.Lock()
	a.invites = append(a.invites, req)
	fn := a.inviteFn
	a.mut.Unlock()
	if fn == nil {
		return Envelope{}, nil
	}
	return fn(req)
}

func (a *fakeAPI) ExportInviteLinks(_ context.Context, _ CallReference) (InviteLinks, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	return a.links, a.linksErr
}

func (a *fakeAPI) CheckCall(_ context.Context, req CheckCallRequest) (CheckCallResult, error) {
	a.mut.Lock()
	fn := a.checkFn
	a.mut.Unlock()
	if fn == nil {
		return CheckCallResult{SSRCs: req.SSRCs}, nil
	}
	return fn(req)
}

func (a *fakeAPI) fetchCount() int {
	a.mut.Lock()
	defer a.mut.Unlock()
	return len(a.fetches)
}

func (a *fakeAPI) lastFetch() FetchRequest {
	a.mut.Lock()
	defer a.mut.Unlock()
	return a.fetches[len(a.fetches)-1]
}

func (a *fakeAPI) editCount() int {
	a.mut.Lock()
	defer a.mut.Unlock()
	return len(a.edits)
}

func (a *fakeAPI) lastEdit() EditParticipantRequest {
	a.mut.Lock()
	defer a.mut.Unlock()
	return a.edits[len(a.edits)-1]
}

func (a *fakeAPI) settingsRequests() []SettingsRequest {
	a.mut.Lock()
	defer a.mut.Unlock()
	return append([]SettingsRequest(nil), a.settings...)
}

func (a *fakeAPI) recordingRequests() []ToggleRecordingRequest {
	a.mut.Lock()
	defer a.mut.Unlock()
	return append([]ToggleRecordingRequest(nil), a.recordings...)
}

func (a *fakeAPI) chainCallCount() int {
	a.mut.Lock()
	defer a.mut.Unlock()
	return a.chainCalls
}

type fakePeerStore struct {
	mut         sync.Mutex
	peers       map[PeerID]Peer
	activeCalls map[PeerID]*CallReference
	subscribed  map[int64]bool
	getErr      error
}

func newFakePeerStore(peers ...Peer) *fakePeerStore {
	s := &fakePeerStore{
		peers:       make(map[PeerID]Peer),
		activeCalls: make(map[PeerID]*CallReference),
		subscribed:  make(map[int64]bool),
	}
	for _, p := range peers {
		s.peers[p.ID] = p
	}
	return s
}

func (s *fakePeerStore) GetPeers(_ context.Context, ids []PeerID) (map[PeerID]Peer, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	m := make(map[PeerID]Peer, len(ids))
	for _, id := range ids {
		if p, ok := s.peers[id]; ok {
			m[id] = p
		}
	}
	return m, nil
}

func (s *fakePeerStore) PutPeers(_ context.Context, peers []Peer) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	for _, p := range peers {
		s.peers[p.ID] = p
	}
	return nil
}

func (s *fakePeerStore) SetActiveCall(_ context.Context, peerID PeerID, ref *CallReference) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.activeCalls[peerID] = clonePtr(ref)
	return nil
}

func (s *fakePeerStore) SetScheduledSubscription(_ context.Context, callID int64, subscribed bool) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.subscribed[callID] = subscribed
	return nil
}

func (s *fakePeerStore) isSubscribed(callID int64) (bool, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	v, ok := s.subscribed[callID]
	return v, ok
}

func (s *fakePeerStore) activeCall(peerID PeerID) (*CallReference, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	ref, ok := s.activeCalls[peerID]
	return ref, ok
}

type fakeUpdates struct {
	ch chan Envelope
}

func newFakeUpdates() *fakeUpdates {
	return &fakeUpdates{ch: make(chan Envelope, 16)}
}

func (u *fakeUpdates) Subscribe() (<-chan Envelope, func()) {
	return u.ch, func() {}
}

type fakeE2E struct {
	participants chan []BlockchainParticipant
	failed       chan bool
}

func newFakeE2E() *fakeE2E {
	return &fakeE2E{
		participants: make(chan []BlockchainParticipant, 4),
		failed:       make(chan bool, 4),
	}
}

func (e *fakeE2E) BlockchainParticipants() <-chan []BlockchainParticipant {
	return e.participants
}

func (e *fakeE2E) IsFailed() <-chan bool {
	return e.failed
}

type testHelper struct {
	tb     testing.TB
	log    *mlog.Logger
	api    *fakeAPI
	peers  *fakePeerStore
	params Params
	cfg    Config

	contexts []*Context
}

func setupTestHelper(tb testing.TB, peers ...Peer) *testHelper {
	tb.Helper()

	log, err := mlog.NewLogger()
	require.NoError(tb, err)
	require.NotNil(tb, log)

	th := &testHelper{
		tb:    tb,
		log:   log,
		api:   newFakeAPI(),
		peers: newFakePeerStore(append([]Peer{testPeer(testMyPeer)}, peers...)...),
	}
	th.cfg.SetDefaults()
	th.params = Params{
		Call:          CallReference{ID: testCallID, AccessHash: testAccessHash},
		MyPeerID:      testMyPeer,
		AccountPeerID: testMyPeer,
		API:           th.api,
		Peers:         th.peers,
		Logger:        log,
	}

	return th
}

func (th *testHelper) newContext(state State, opts ...Option) *Context {
	th.tb.Helper()
	params := th.params
	params.State = state
	c, err := New(th.cfg, params, opts...)
	require.NoError(th.tb, err)
	require.NotNil(th.tb, c)
	th.contexts = append(th.contexts, c)
	return c
}

func (th *testHelper) teardown() {
	for _, c := range th.contexts {
		require.NoError(th.tb, c.Close())
	}
	require.NoError(th.tb, th.log.Shutdown())
}

type testClock struct {
	mut sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.now = c.now.Add(d)
}

// overlayCount returns the number of pending mute intents.
func overlayCount(tb testing.TB, c *Context) int {
	tb.Helper()
	var n int
	require.NoError(tb, c.exec.call(func() {
		n = c.overlay.PendingMuteStateCount()
	}))
	return n
}

func testPeer(id PeerID) Peer {
	return Peer{ID: id, AccessHash: int64(id) * 10, DisplayName: "peer " + id.String()}
}

func testParticipant(id PeerID, ssrc uint32, joined int32) Participant {
	peer := testPeer(id)
	return Participant{
		ID:            PeerParticipantID(id),
		Peer:          &peer,
		SSRC:          ptr(ssrc),
		JoinTimestamp: joined,
	}
}

func testState(version int32, participants ...Participant) State {
	s := State{
		Participants: participants,
		AdminIDs:     map[PeerID]struct{}{},
		TotalCount:   len(participants),
		Version:      version,
	}
	s.sortParticipants()
	return s
}

func rawParticipant(id PeerID, ssrc uint32, joined int32, flags int32) RawParticipant {
	return RawParticipant{
		Flags:  flags,
		PeerID: id,
		Date:   joined,
		Source: ssrc,
	}
}

func participantsEnvelope(version int32, raw ...RawParticipant) Envelope {
	return Envelope{
		Updates: []RawUpdate{
			{
				Type:         RawUpdateParticipants,
				CallID:       testCallID,
				Participants: raw,
				Version:      version,
			},
		},
	}
}

func participantsUpdate(version int32, raw ...RawParticipant) ParticipantsUpdate {
	return ParticipantsUpdate{
		Participants: decodeParticipantUpdates(raw),
		Version:      version,
	}
}

// immediateState syncs the executor and returns the published state.
func immediateState(tb testing.TB, c *Context) State {
	tb.Helper()
	require.NoError(tb, c.Sync())
	s, ok := c.ImmediateState()
	require.True(tb, ok)
	return s
}

func participantIDs(s State) []ParticipantID {
	ids := make([]ParticipantID, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

func findParticipant(s State, id PeerID) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == PeerParticipantID(id) {
			return p, true
		}
	}
	return Participant{}, false
}
