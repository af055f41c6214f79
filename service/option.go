// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/mattermost/rosterd/service/roster"
)

type Option func(s *Service) error

// WithCallAPI makes the service talk to the given call API and update source
// instead of creating a client from the config.
func WithCallAPI(api roster.API, updates roster.UpdateSource) Option {
	return func(s *Service) error {
		if api == nil {
			return fmt.Errorf("api should not be nil")
		}
		s.callAPI = api
		s.updates = updates
		return nil
	}
}
