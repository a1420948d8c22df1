// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogGroupMarshalIsDeterministic(t *testing.T) {
	lg := LogGroup{
		Category: "app.log",
		Topic:    "shard-1",
		Logs: []Log{
			{TimeNs: 1700000000123456789, Contents: []Content{{Key: "msg", Value: "hello"}}},
		},
		LogTags: []LogTag{{Key: "region", Value: "cn-hangzhou"}},
	}

	a, err := lg.Marshal()
	require.NoError(t, err)
	b, err := lg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, a, b, "marshaling the same LogGroup twice must produce identical bytes")
	assert.NotEmpty(t, a)
}

func TestLogGroupMarshalEmpty(t *testing.T) {
	_, err := LogGroup{}.Marshal()
	assert.NoError(t, err)
}
