// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

const pluginID = "com.mattermost.calls"

const (
	rosterAPIPath = "/plugins/" + pluginID + "/roster"

	participantsPath          = "/participants"
	callPath                  = "/call"
	editParticipantPath       = "/participants/edit"
	recordingPath             = "/recording"
	settingsPath              = "/settings"
	scheduledSubscriptionPath = "/scheduled_subscription"
	chainBlocksPath           = "/chain/blocks"
	chainPollPath             = "/chain/poll"
	titlePath                 = "/call/title"
	discardPath               = "/call/discard"
	invitePath                = "/call/invite"
	inviteLinksPath           = "/call/invite_links"
	checkCallPath             = "/call/check"
	updatesPath               = "/updates"
)

const msgpackContentType = "application/msgpack"

type EventType string

const (
	WSConnectEvent    EventType = "WSConnect"
	WSDisconnectEvent EventType = "WSDisconnect"
	CloseEvent        EventType = "Close"
	ErrorEvent        EventType = "Error"
)

func (e EventType) IsValid() bool {
	switch e {
	case WSConnectEvent, WSDisconnectEvent,
		CloseEvent,
		ErrorEvent:
		return true
	default:
		return false
	}
}
