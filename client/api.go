// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mattermost/rosterd/service/roster"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	httpRequestTimeout           = 10 * time.Second
	httpResponseBodyMaxSizeBytes = 1024 * 1024 // 1MB
)

// doRequest posts req as JSON to the given roster API path and decodes the
// msgpack response into res.
func (c *Client) doRequest(ctx context.Context, path string, req, res any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, httpRequestTimeout)
	defer cancel()

	resp, err := c.apiClient.DoAPIRequest(ctx, http.MethodPost, c.cfg.baseURL+path, string(data), "")
	if err != nil {
		return apiError(resp, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status code %d", resp.StatusCode)
	}

	dec := msgpack.NewDecoder(&io.LimitedReader{
		R: resp.Body,
		N: httpResponseBodyMaxSizeBytes,
	})
	if err := dec.Decode(res); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// apiError converts errors reported by the server into *roster.APIError.
// Transport errors are returned wrapped.
func apiError(resp *http.Response, err error) error {
	var appErr *model.AppError
	if !errors.As(err, &appErr) || resp == nil {
		return fmt.Errorf("request failed: %w", err)
	}

	statusCode := appErr.StatusCode
	if statusCode == 0 {
		statusCode = resp.StatusCode
	}

	return &roster.APIError{
		StatusCode: statusCode,
		Code:       appErr.Id,
		Message:    appErr.Message,
	}
}

func (c *Client) FetchParticipants(ctx context.Context, req roster.FetchRequest) (roster.ParticipantsPage, error) {
	var page roster.ParticipantsPage
	if err := c.doRequest(ctx, participantsPath, req, &page); err != nil {
		return roster.ParticipantsPage{}, err
	}
	return page, nil
}

func (c *Client) FetchCallInfo(ctx context.Context, ref roster.CallReference) (roster.RawCall, error) {
	var call roster.RawCall
	if err := c.doRequest(ctx, callPath, ref, &call); err != nil {
		return roster.RawCall{}, err
	}
	return call, nil
}

func (c *Client) doEnvelopeRequest(ctx context.Context, path string, req any) (roster.Envelope, error) {
	var env roster.Envelope
	if err := c.doRequest(ctx, path, req, &env); err != nil {
		return roster.Envelope{}, err
	}
	return env, nil
}

func (c *Client) EditParticipant(ctx context.Context, req roster.EditParticipantRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, editParticipantPath, req)
}

func (c *Client) ToggleRecording(ctx context.Context, req roster.ToggleRecordingRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, recordingPath, req)
}

func (c *Client) UpdateSettings(ctx context.Context, req roster.SettingsRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, settingsPath, req)
}

func (c *Client) ToggleScheduledSubscription(ctx context.Context, req roster.ScheduledSubscriptionRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, scheduledSubscriptionPath, req)
}

func (c *Client) SendChainBlock(ctx context.Context, req roster.ChainBlockRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, chainBlocksPath, req)
}

// PollChainBlocks fetches a range of blocks of a conference sub-chain. The
// server answers with a chain blocks update.
func (c *Client) PollChainBlocks(ctx context.Context, req roster.ChainPollRequest) (roster.ChainBlocksUpdate, error) {
	var raw roster.RawUpdate
	if err := c.doRequest(ctx, chainPollPath, req, &raw); err != nil {
		return roster.ChainBlocksUpdate{}, err
	}
	if raw.Type != roster.RawUpdateChainBlocks {
		return roster.ChainBlocksUpdate{}, fmt.Errorf("unexpected update type %q", raw.Type)
	}
	u, err := raw.Decode()
	if err != nil {
		return roster.ChainBlocksUpdate{}, err
	}
	return u.(roster.ChainBlocksUpdate), nil
}

func (c *Client) EditTitle(ctx context.Context, req roster.EditTitleRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, titlePath, req)
}

func (c *Client) DiscardCall(ctx context.Context, ref roster.CallReference) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, discardPath, ref)
}

func (c *Client) InviteToCall(ctx context.Context, req roster.InviteRequest) (roster.Envelope, error) {
	return c.doEnvelopeRequest(ctx, invitePath, req)
}

func (c *Client) ExportInviteLinks(ctx context.Context, ref roster.CallReference) (roster.InviteLinks, error) {
	var links roster.InviteLinks
	if err := c.doRequest(ctx, inviteLinksPath, ref, &links); err != nil {
		return roster.InviteLinks{}, err
	}
	return links, nil
}

func (c *Client) CheckCall(ctx context.Context, req roster.CheckCallRequest) (roster.CheckCallResult, error) {
	var res roster.CheckCallResult
	if err := c.doRequest(ctx, checkCallPath, req, &res); err != nil {
		return roster.CheckCallResult{}, err
	}
	return res, nil
}

var _ roster.API = (*Client)(nil)
