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

func TestCipherRoundTrip(t *testing.T) {
	c := newCipher([]byte("0123456789abcdef"), 1)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, err := c.encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext[:len(plaintext)])

	got := c.decrypt(ciphertext, len(plaintext))
	assert.Equal(t, plaintext, got)
}

func TestCipherPadsToBlockMultiple(t *testing.T) {
	c := newCipher([]byte("abcd"), 1)
	ciphertext, err := c.encrypt([]byte("123456789"))
	require.NoError(t, err)
	assert.Equal(t, 0, len(ciphertext)%4)
	assert.True(t, len(ciphertext) >= 9)
}
