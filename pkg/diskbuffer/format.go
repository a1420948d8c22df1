// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package diskbuffer is the write-ahead store used when a destination is
// unreachable or its send queue is saturated and not urgent. A
// writer appends encrypted, framed records to rotating files; a replayer
// drains them once the network (or queue capacity) recovers.
package diskbuffer

import (
	"encoding/binary"
	"fmt"
)

// headerLength is the fixed size of every buffer file's leading header.
const headerLength = 128

// magic is the literal byte sequence every buffer file begins with,
// preserved byte-for-byte for interop with existing buffer files.
var magic = []byte("L\x01O\x01G\x01T\x01A\x01I\x01L\x01\x01E\x01N\x01C\x01R\x01Y\x01P\x01T")

const fieldSep = '\x02'

// buildHeader returns a zero-padded 128-byte header carrying keyVersion.
func buildHeader(keyVersion int) []byte {
	h := make([]byte, headerLength)
	n := copy(h, magic)
	n += copy(h[n:], []byte{fieldSep})
	n += copy(h[n:], []byte(fmt.Sprintf("key_version:%d", keyVersion)))
	return h
}

// parseHeader validates a file's leading 128 bytes and extracts its key
// version. It returns an error if the magic prefix does not match.
func parseHeader(h []byte) (keyVersion int, err error) {
	if len(h) != headerLength {
		return 0, fmt.Errorf("diskbuffer: short header (%d bytes)", len(h))
	}
	if string(h[:len(magic)]) != string(magic) {
		return 0, fmt.Errorf("diskbuffer: bad magic")
	}
	rest := h[len(magic):]
	if len(rest) == 0 || rest[0] != fieldSep {
		return 0, fmt.Errorf("diskbuffer: missing field separator")
	}
	rest = rest[1:]
	end := len(rest)
	for i, b := range rest {
		if b == 0 {
			end = i
			break
		}
	}
	kv := string(rest[:end])
	if _, err := fmt.Sscanf(kv, "key_version:%d", &keyVersion); err != nil {
		return 0, fmt.Errorf("diskbuffer: bad key_version field %q: %w", kv, err)
	}
	return keyVersion, nil
}

// base is the sentinel added to encodedInfoSize to mark the pb-framed
// Meta layout, distinguishing it from a legacy layout where the field
// held only a raw project-string length.
const base = 65536

// stateMetaSize is the on-disk size of a StateMeta record header: three
// int32 plus int32 timestamp plus two uint8 plus 6 reserved bytes.
const stateMetaSize = 4 + 4 + 4 + 4 + 1 + 1 + 6

// stateMeta is the fixed-size record header preceding each record's
// protobuf Meta and encrypted payload.
type stateMeta struct {
	EncodedInfoSize int32
	LogDataSize     int32
	EncryptionSize  int32
	Timestamp       int32
	Handled         uint8
	RetryTimes      uint8
}

// metaSize returns the length of the protobuf Meta that follows this
// StateMeta, deriving it from encodedInfoSize's pb-framed sentinel.
func (s stateMeta) metaSize() int32 {
	if s.EncodedInfoSize < base {
		return 0
	}
	return s.EncodedInfoSize - base
}

// legacy reports whether this record predates the pb-framed Meta layout:
// such records carry only a project-string length in
// encodedInfoSize and their payload is an uncompressed LogGroup needing
// LZ4 recompression before resend.
func (s stateMeta) legacy() bool { return s.EncodedInfoSize < base }

func marshalStateMeta(s stateMeta) []byte {
	buf := make([]byte, stateMetaSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.EncodedInfoSize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.LogDataSize))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.EncryptionSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.Timestamp))
	buf[16] = s.Handled
	buf[17] = s.RetryTimes
	return buf
}

func unmarshalStateMeta(buf []byte) (stateMeta, error) {
	if len(buf) != stateMetaSize {
		return stateMeta{}, fmt.Errorf("diskbuffer: short StateMeta (%d bytes)", len(buf))
	}
	return stateMeta{
		EncodedInfoSize: int32(binary.LittleEndian.Uint32(buf[0:4])),
		LogDataSize:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		EncryptionSize:  int32(binary.LittleEndian.Uint32(buf[8:12])),
		Timestamp:       int32(binary.LittleEndian.Uint32(buf[12:16])),
		Handled:         buf[16],
		RetryTimes:      buf[17],
	}, nil
}

const (
	handledPending = 0
	handledSent    = 1
)
