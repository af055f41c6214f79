// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"errors"
)

var (
	ErrNotFound = errors.New("error: not found")
	ErrEmptyKey = errors.New("error: empty key")
	ErrConflict = errors.New("error: conflict")
)

type Store interface {
	Set(key, value string) error
	// Put sets key only if it does not exist yet.
	Put(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	// Scan calls fn for every key starting with prefix.
	Scan(prefix string, fn func(key string) error) error
	Close() error
}

func New(dataSource string) (Store, error) {
	return newBitcaskStore(dataSource)
}
