// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceBufferCopyStringRoundTrips(t *testing.T) {
	b := NewSourceBuffer()
	v := b.CopyString("hello world")
	assert.Equal(t, "hello world", v.String())
	assert.Equal(t, 11, v.Len())
	assert.False(t, v.IsEmpty())
}

func TestSourceBufferEmptyStringIsEmptyView(t *testing.T) {
	b := NewSourceBuffer()
	v := b.CopyString("")
	assert.True(t, v.IsEmpty())
	assert.Equal(t, "", v.String())
}

func TestSourceBufferNeverReallocatesLiveBytes(t *testing.T) {
	b := NewSourceBuffer()
	var views []StringView
	var want []string
	for i := 0; i < 2000; i++ {
		s := strings.Repeat("x", i%37+1)
		views = append(views, b.CopyString(s))
		want = append(want, s)
	}
	for i, v := range views {
		require.Equal(t, want[i], v.String(), "view %d corrupted by a later rotate", i)
	}
}

func TestSourceBufferRotatesOnOversizedString(t *testing.T) {
	b := NewSourceBuffer()
	small := b.CopyString("small")
	big := b.CopyString(strings.Repeat("y", defaultChunkSize*2))
	assert.Equal(t, "small", small.String())
	assert.Equal(t, defaultChunkSize*2, big.Len())
	assert.Equal(t, len("small")+defaultChunkSize*2, b.Size())
}

func TestSourceBufferCopyBytes(t *testing.T) {
	b := NewSourceBuffer()
	v := b.CopyBytes([]byte("abc"))
	assert.Equal(t, "abc", v.String())
}

func TestStaticDoesNotCopy(t *testing.T) {
	s := "job"
	v := Static(s)
	assert.Equal(t, "job", v.String())
	assert.True(t, v.Equal(Static("job")))
}

func TestStringViewEqualAndHash(t *testing.T) {
	b := NewSourceBuffer()
	a := b.CopyString("same")
	c := b.CopyString("same")
	assert.True(t, a.Equal(c))
	assert.Equal(t, a.Hash(), c.Hash())

	d := b.CopyString("different")
	assert.False(t, a.Equal(d))
}

func TestSourceBufferSizeAccumulates(t *testing.T) {
	b := NewSourceBuffer()
	b.CopyString("one")
	b.CopyString("two")
	assert.Equal(t, 6, b.Size())
}
