// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/rosterd/logger"
	"github.com/mattermost/rosterd/service/api"
	"github.com/mattermost/rosterd/service/roster"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/stretchr/testify/require"
)

const (
	testCallID     int64         = 4242
	testAccountID  roster.PeerID = 1
	testAdminKey                 = "admin_secret_key"
	testAccessHash int64         = 77
	waitFor                      = 2 * time.Second
	tickFor                      = 10 * time.Millisecond
)

type fakeCallAPI struct {
	mut sync.Mutex

	participants []roster.RawParticipant
	peers        []roster.Peer
	version      int32
	fetchErr     error
	edits        []roster.EditParticipantRequest
	settings     []roster.SettingsRequest
	recordings   []roster.ToggleRecordingRequest
	subs         []roster.ScheduledSubscriptionRequest
	blocks       [][]byte
	titles       []string
	discards     int
	invites      []roster.InviteRequest
	inviteErr    error
}

func newFakeCallAPI() *fakeCallAPI {
	return &fakeCallAPI{
		participants: []roster.RawParticipant{
			{PeerID: 2, Date: 10, Source: 20},
			{PeerID: 3, Date: 11, Source: 30},
		},
		peers: []roster.Peer{
			{ID: 2, AccessHash: 20, DisplayName: "peer 2"},
			{ID: 3, AccessHash: 30, DisplayName: "peer 3"},
		},
		version: 5,
	}
}

func (a *fakeCallAPI) FetchParticipants(_ context.Context, _ roster.FetchRequest) (roster.ParticipantsPage, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	if a.fetchErr != nil {
		return roster.ParticipantsPage{}, a.fetchErr
	}
	return roster.ParticipantsPage{
		Participants: append([]roster.RawParticipant(nil), a.participants...),
		Peers:        append([]roster.Peer(nil), a.peers...),
		Count:        len(a.participants),
		Version:      a.version,
	}, nil
}

func (a *fakeCallAPI) FetchCallInfo(_ context.Context, _ roster.CallReference) (roster.RawCall, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	if a.fetchErr != nil {
		return roster.RawCall{}, a.fetchErr
	}
	return roster.RawCall{
		ID:                testCallID,
		AccessHash:        testAccessHash,
		ParticipantsCount: int32(len(a.participants)),
		Version:           a.version,
	}, nil
}

func (a *fakeCallAPI) EditParticipant(_ context.Context, req roster.EditParticipantRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.edits = append(a.edits, req)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) ToggleRecording(_ context.Context, req roster.ToggleRecordingRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.recordings = append(a.recordings, req)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) UpdateSettings(_ context.Context, req roster.SettingsRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.settings = append(a.settings, req)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) ToggleScheduledSubscription(_ context.Context, req roster.ScheduledSubscriptionRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.subs = append(a.subs, req)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) SendChainBlock(_ context.Context, req roster.ChainBlockRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.blocks = append(a.blocks, req.Block)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) PollChainBlocks(_ context.Context, req roster.ChainPollRequest) (roster.ChainBlocksUpdate, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	var blocks [][]byte
	if req.Offset < len(a.blocks) {
		blocks = a.blocks[req.Offset:min(len(a.blocks), req.Offset+req.Limit)]
	}
	return roster.ChainBlocksUpdate{
		SubChainID: req.SubChainID,
		Blocks:     blocks,
		NextOffset: req.Offset + len(blocks),
	}, nil
}

func (a *fakeCallAPI) EditTitle(_ context.Context, req roster.EditTitleRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.titles = append(a.titles, req.Title)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) DiscardCall(_ context.Context, _ roster.CallReference) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.discards++
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) InviteToCall(_ context.Context, req roster.InviteRequest) (roster.Envelope, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	if a.inviteErr != nil {
		return roster.Envelope{}, a.inviteErr
	}
	a.invites = append(a.invites, req)
	return roster.Envelope{}, nil
}

func (a *fakeCallAPI) ExportInviteLinks(_ context.Context, ref roster.CallReference) (roster.InviteLinks, error) {
	return roster.InviteLinks{ListenerLink: "https://example.com/join/" + ref.String()}, nil
}

// CheckCall reports the sources of the current participants as joined.
func (a *fakeCallAPI) CheckCall(_ context.Context, req roster.CheckCallRequest) (roster.CheckCallResult, error) {
	a.mut.Lock()
	defer a.mut.Unlock()
	var res roster.CheckCallResult
	for _, ssrc := range req.SSRCs {
		for _, p := range a.participants {
			if p.Source == ssrc {
				res.SSRCs = append(res.SSRCs, ssrc)
				break
			}
		}
	}
	return res, nil
}

func (a *fakeCallAPI) lastEdit() (roster.EditParticipantRequest, int) {
	a.mut.Lock()
	defer a.mut.Unlock()
	if len(a.edits) == 0 {
		return roster.EditParticipantRequest{}, 0
	}
	return a.edits[len(a.edits)-1], len(a.edits)
}

// fakeUpdates fans envelopes out to every subscriber.
type fakeUpdates struct {
	mut  sync.Mutex
	subs map[chan roster.Envelope]struct{}
}

func newFakeUpdates() *fakeUpdates {
	return &fakeUpdates{
		subs: make(map[chan roster.Envelope]struct{}),
	}
}

func (u *fakeUpdates) Subscribe() (<-chan roster.Envelope, func()) {
	ch := make(chan roster.Envelope, 16)
	u.mut.Lock()
	u.subs[ch] = struct{}{}
	u.mut.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			u.mut.Lock()
			delete(u.subs, ch)
			u.mut.Unlock()
			close(ch)
		})
	}
}

func (u *fakeUpdates) push(env roster.Envelope) {
	u.mut.Lock()
	defer u.mut.Unlock()
	for ch := range u.subs {
		ch <- env
	}
}

func (u *fakeUpdates) count() int {
	u.mut.Lock()
	defer u.mut.Unlock()
	return len(u.subs)
}

type TestHelper struct {
	srvc    *Service
	cfg     Config
	tb      testing.TB
	apiURL  string
	dbDir   string
	log     *mlog.Logger
	api     *fakeCallAPI
	updates *fakeUpdates
}

func MakeDefaultCfg(tb testing.TB) *Config {
	tb.Helper()

	var cfg Config
	cfg.SetDefaults()
	cfg.API.HTTP = api.Config{
		ListenAddress: "localhost:0",
	}
	cfg.API.Security.EnableAdmin = true
	cfg.API.Security.AdminSecretKey = testAdminKey
	cfg.Client.SiteURL = "http://localhost:8065"
	cfg.Client.AuthToken = "token"
	cfg.Calls.AccountPeerID = testAccountID
	cfg.Calls.SpeakingReportInterval = 20 * time.Millisecond
	cfg.Logger = logger.Config{
		EnableConsole: true,
		ConsoleLevel:  "ERROR",
	}

	return &cfg
}

func SetupTestHelper(tb testing.TB, cfg *Config) *TestHelper {
	tb.Helper()

	if cfg == nil {
		cfg = MakeDefaultCfg(tb)
	}

	dbDir, err := os.MkdirTemp("", "db")
	require.NoError(tb, err)
	cfg.Store.DataSource = dbDir

	log, err := mlog.NewLogger()
	require.NoError(tb, err)

	th := &TestHelper{
		cfg:     *cfg,
		tb:      tb,
		dbDir:   dbDir,
		log:     log,
		api:     newFakeCallAPI(),
		updates: newFakeUpdates(),
	}

	th.srvc, err = New(th.cfg, log, WithCallAPI(th.api, th.updates))
	require.NoError(tb, err)
	require.NotNil(tb, th.srvc)

	err = th.srvc.Start()
	require.NoError(tb, err)

	_, port, err := net.SplitHostPort(th.srvc.apiServer.Addr())
	require.NoError(tb, err)
	th.apiURL = "http://localhost:" + port

	return th
}

func (th *TestHelper) Teardown() {
	err := th.srvc.Stop()
	require.NoError(th.tb, err)

	err = os.RemoveAll(th.dbDir)
	require.NoError(th.tb, err)

	err = th.log.Shutdown()
	require.NoError(th.tb, err)
}

func (th *TestHelper) watchTestCall() {
	th.tb.Helper()
	callID, err := th.srvc.WatchCall(context.Background(), CallConfig{
		Call: roster.CallReference{ID: testCallID, AccessHash: testAccessHash},
	})
	require.NoError(th.tb, err)
	require.Equal(th.tb, testCallID, callID)
}
