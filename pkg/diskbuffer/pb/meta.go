// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pb hand-encodes the Meta protobuf message of the disk-buffer
// record format, in the style of a gogo/protobuf-generated
// Marshal/Unmarshal pair, written by hand since no protoc run is part of
// this build. It uses the package's low-level varint helpers directly
// rather than full code generation.
package pb

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
)

// Meta is the per-record metadata protobuf: destination plus enough
// context to replay the record against the current wire format.
type Meta struct {
	Project      string
	Logstore     string
	Endpoint     string
	AliUID       string
	DataType     int32
	RawSize      int64
	ShardHashKey string
	CompressType int32
}

const (
	fieldProject      = 1
	fieldLogstore     = 2
	fieldEndpoint     = 3
	fieldAliUID       = 4
	fieldDataType     = 5
	fieldRawSize      = 6
	fieldShardHashKey = 7
	fieldCompressType = 8

	wireVarint = 0
	wireBytes  = 2
)

func appendTag(dst []byte, field int, wire uint64) []byte {
	return append(dst, proto.EncodeVarint(uint64(field)<<3|wire)...)
}

func appendVarintField(dst []byte, field int, v uint64) []byte {
	dst = appendTag(dst, field, wireVarint)
	return append(dst, proto.EncodeVarint(v)...)
}

func appendStringField(dst []byte, field int, v string) []byte {
	dst = appendTag(dst, field, wireBytes)
	dst = append(dst, proto.EncodeVarint(uint64(len(v)))...)
	return append(dst, v...)
}

// Marshal encodes m with deterministic field ordering; zero-value fields
// are omitted (proto3 semantics) so HasLogstore can be decided by
// presence, which the legacy-compat check depends on.
func (m Meta) Marshal() ([]byte, error) {
	var buf []byte
	if m.Project != "" {
		buf = appendStringField(buf, fieldProject, m.Project)
	}
	if m.Logstore != "" {
		buf = appendStringField(buf, fieldLogstore, m.Logstore)
	}
	if m.Endpoint != "" {
		buf = appendStringField(buf, fieldEndpoint, m.Endpoint)
	}
	if m.AliUID != "" {
		buf = appendStringField(buf, fieldAliUID, m.AliUID)
	}
	if m.DataType != 0 {
		buf = appendVarintField(buf, fieldDataType, uint64(m.DataType))
	}
	if m.RawSize != 0 {
		buf = appendVarintField(buf, fieldRawSize, uint64(m.RawSize))
	}
	if m.ShardHashKey != "" {
		buf = appendStringField(buf, fieldShardHashKey, m.ShardHashKey)
	}
	if m.CompressType != 0 {
		buf = appendVarintField(buf, fieldCompressType, uint64(m.CompressType))
	}
	return buf, nil
}

// Unmarshal decodes data into m, which is reset to the zero value first.
func (m *Meta) Unmarshal(data []byte) error {
	*m = Meta{}
	for len(data) > 0 {
		tag, n := proto.DecodeVarint(data)
		if n == 0 {
			return fmt.Errorf("pb: truncated tag")
		}
		data = data[n:]
		field := tag >> 3
		wire := tag & 7

		switch wire {
		case wireVarint:
			v, n := proto.DecodeVarint(data)
			if n == 0 {
				return fmt.Errorf("pb: truncated varint for field %d", field)
			}
			data = data[n:]
			switch field {
			case fieldDataType:
				m.DataType = int32(v)
			case fieldRawSize:
				m.RawSize = int64(v)
			case fieldCompressType:
				m.CompressType = int32(v)
			}
		case wireBytes:
			l, n := proto.DecodeVarint(data)
			if n == 0 {
				return fmt.Errorf("pb: truncated length for field %d", field)
			}
			data = data[n:]
			if uint64(len(data)) < l {
				return fmt.Errorf("pb: truncated bytes for field %d", field)
			}
			v := string(data[:l])
			data = data[l:]
			switch field {
			case fieldProject:
				m.Project = v
			case fieldLogstore:
				m.Logstore = v
			case fieldEndpoint:
				m.Endpoint = v
			case fieldAliUID:
				m.AliUID = v
			case fieldShardHashKey:
				m.ShardHashKey = v
			}
		default:
			return fmt.Errorf("pb: unsupported wire type %d for field %d", wire, field)
		}
	}
	return nil
}

// HasLogstore reports whether the decoded record carried a logstore
// field at all, distinguishing a current-format record from the legacy
// uncompressed-LogGroup payload the replayer must LZ4-recompress.
func (m Meta) HasLogstore() bool { return m.Logstore != "" }
