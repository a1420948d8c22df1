// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package diskbuffer

import (
	"crypto/rand"
)

// cipher is the XOR stream obfuscation applied to buffered records: position i of
// the plaintext is XORed with key[i % len(key)]. It is not confidentiality,
// only obfuscation of data at rest, preserved for on-disk compatibility
// with existing buffer files.
type cipher struct {
	key        []byte
	keyVersion int
}

func newCipher(key []byte, keyVersion int) *cipher {
	return &cipher{key: key, keyVersion: keyVersion}
}

func (c *cipher) blockBytes() int { return len(c.key) }

// encrypt XORs plaintext against the repeating key and pads the result
// with random printable bytes up to the next multiple of the key length,
// matching the padded-block framing StateMeta.EncryptionSize records.
func (c *cipher) encrypt(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	block := c.blockBytes()
	padded := n
	if block > 0 {
		if r := n % block; r != 0 {
			padded = n + (block - r)
		}
	}
	out := make([]byte, padded)
	for i := 0; i < n; i++ {
		out[i] = plaintext[i] ^ c.key[i%block]
	}
	if padded > n {
		pad := make([]byte, padded-n)
		if _, err := rand.Read(pad); err != nil {
			return nil, err
		}
		for i := range pad {
			// keep padding in the printable ASCII range, matching the
			// legacy writer's padding alphabet.
			pad[i] = 0x20 + pad[i]%(0x7e-0x20)
		}
		copy(out[n:], pad)
	}
	return out, nil
}

// decrypt reverses encrypt for the first plaintextLen bytes; any trailing
// pad bytes are discarded by the caller, which already knows the original
// LogDataSize from StateMeta.
func (c *cipher) decrypt(ciphertext []byte, plaintextLen int) []byte {
	block := c.blockBytes()
	n := plaintextLen
	if n > len(ciphertext) {
		n = len(ciphertext)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = ciphertext[i] ^ c.key[i%block]
	}
	return out
}
