// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package diskbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := buildHeader(3)
	require.Len(t, h, headerLength)
	kv, err := parseHeader(h)
	require.NoError(t, err)
	assert.Equal(t, 3, kv)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	h := make([]byte, headerLength)
	copy(h, []byte("not the magic"))
	_, err := parseHeader(h)
	assert.Error(t, err)
}

func TestStateMetaRoundTrip(t *testing.T) {
	sm := stateMeta{
		EncodedInfoSize: base + 10,
		LogDataSize:     1024,
		EncryptionSize:  1028,
		Timestamp:       1700000000,
		Handled:         handledPending,
		RetryTimes:      2,
	}
	buf := marshalStateMeta(sm)
	got, err := unmarshalStateMeta(buf)
	require.NoError(t, err)
	assert.Equal(t, sm, got)
}

func TestStateMetaMetaSizeAndLegacy(t *testing.T) {
	current := stateMeta{EncodedInfoSize: base + 42}
	assert.Equal(t, int32(42), current.metaSize())
	assert.False(t, current.legacy())

	legacy := stateMeta{EncodedInfoSize: 7}
	assert.Equal(t, int32(0), legacy.metaSize())
	assert.True(t, legacy.legacy())
}
