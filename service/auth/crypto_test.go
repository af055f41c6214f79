// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"os"
	"strings"
	"testing"

	"github.com/mattermost/rosterd/service/random"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	hashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func TestHashKey(t *testing.T) {
	key, err := random.NewSecureString(MinKeyLen)
	require.NoError(t, err)
	require.Len(t, key, MinKeyLen)

	hash, err := hashKey("")
	require.Error(t, err)
	require.EqualError(t, err, "invalid empty key")
	require.Empty(t, hash)

	hash, err = hashKey(key)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	hash, err = hashKey(strings.Repeat("k", maxKeyLen+1))
	require.Error(t, err)
	require.Empty(t, hash)
}

func TestCompareKeyHash(t *testing.T) {
	key, err := random.NewSecureString(MinKeyLen)
	require.NoError(t, err)
	require.Len(t, key, MinKeyLen)

	hash, err := hashKey(key)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	err = compareKeyHash("", key)
	require.Error(t, err)
	require.EqualError(t, err, "invalid empty hash")

	err = compareKeyHash(hash, "")
	require.Error(t, err)
	require.EqualError(t, err, "invalid empty key")

	err = compareKeyHash(key, hash)
	require.Error(t, err)

	err = compareKeyHash(hash, key+" ")
	require.ErrorIs(t, err, ErrKeyMismatch)

	err = compareKeyHash(hash, key)
	require.NoError(t, err)
}
