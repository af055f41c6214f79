// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"github.com/mattermost/rosterd/service/roster"
	"github.com/mattermost/rosterd/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/vmihailenco/msgpack/v5"
)

type FeedMessageType string

const (
	FeedMessageTypeState     FeedMessageType = "state"
	FeedMessageTypeUnwatched FeedMessageType = "unwatched"
)

// FeedMessage is sent, msgpack encoded, to the websocket consumers of the
// state feed.
type FeedMessage struct {
	Type   FeedMessageType `msgpack:"type"`
	CallID int64           `msgpack:"call_id"`
	State  *roster.State   `msgpack:"state,omitempty"`
}

func newStateMessage(callID int64, state roster.State) FeedMessage {
	return FeedMessage{
		Type:   FeedMessageTypeState,
		CallID: callID,
		State:  &state,
	}
}

func newUnwatchedMessage(callID int64) FeedMessage {
	return FeedMessage{
		Type:   FeedMessageTypeUnwatched,
		CallID: callID,
	}
}

// sendFeedMessage sends msg to connID, or to every connection if connID is
// empty. clientID only labels metrics.
func (s *Service) sendFeedMessage(connID, clientID string, msg FeedMessage) {
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		s.log.Error("failed to marshal feed message", mlog.Err(err), mlog.Int("callID", msg.CallID))
		return
	}

	if err := s.wsServer.Send(ws.Message{
		ConnID: connID,
		Type:   ws.BinaryMessage,
		Data:   data,
	}); err != nil {
		s.log.Debug("failed to send feed message", mlog.Err(err), mlog.String("connID", connID))
		return
	}

	s.metrics.IncWSMessages(clientID, string(msg.Type), "out")
}

func (s *Service) broadcastFeedMessage(msg FeedMessage) {
	s.sendFeedMessage("", "broadcast", msg)
}

// sendCurrentStates sends the latest state of every watched call to a newly
// opened connection.
func (s *Service) sendCurrentStates(connID, clientID string) {
	for _, callID := range s.watchedCallIDs() {
		call, err := s.getCall(callID)
		if err != nil {
			continue
		}
		if state, ok := call.roster.ImmediateState(); ok {
			s.sendFeedMessage(connID, clientID, newStateMessage(callID, state))
		}
	}
}

func (s *Service) wsReader() {
	defer close(s.wsDoneCh)

	for msg := range s.wsServer.ReceiveCh() {
		clientID := msg.ClientID
		if clientID == "" {
			clientID = "admin"
		}

		switch msg.Type {
		case ws.OpenMessage:
			s.log.Debug("feed connection opened", mlog.String("connID", msg.ConnID), mlog.String("clientID", clientID))
			s.metrics.IncWSConnections(clientID)
			s.sendCurrentStates(msg.ConnID, clientID)
		case ws.CloseMessage:
			s.log.Debug("feed connection closed", mlog.String("connID", msg.ConnID), mlog.String("clientID", clientID))
			s.metrics.DecWSConnections(clientID)
		default:
			// The feed is one way.
			s.metrics.IncWSMessages(clientID, msg.Type.String(), "in")
		}
	}
}
