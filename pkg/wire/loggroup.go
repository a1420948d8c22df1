// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package wire hand-encodes the protobuf LogGroup wire message the
// gateway flusher and the disk buffer's legacy replay path both need, in
// the style of gogo/protobuf generated Marshal methods but written by
// hand since no protoc run is part of this build. It uses the package's
// low-level varint helpers directly rather than full code generation.
package wire

import (
	"github.com/gogo/protobuf/proto"
)

// Content is one key/value pair of a Log's field map.
type Content struct {
	Key   string
	Value string
}

// Log is one LogGroup entry: a fused-nanosecond timestamp plus ordered
// contents, matching the wire shape every PipelineEvent variant is
// flattened into on send.
type Log struct {
	TimeNs   uint64
	Contents []Content
}

// LogTag is a LogGroup-level key/value pair (promoted PipelineEventGroup
// tags).
type LogTag struct {
	Key   string
	Value string
}

// LogGroup is the wire message a batch becomes before transport.
type LogGroup struct {
	Logs        []Log
	Category    string
	Topic       string
	Source      string
	MachineUUID string
	LogTags     []LogTag
}

// field numbers, fixed by the wire format this mirrors.
const (
	fieldLogs       = 1
	fieldCategory    = 2
	fieldTopic       = 3
	fieldSource      = 4
	fieldLogTags     = 6
	fieldMachineUUID = 7

	logFieldTime     = 1
	logFieldContents = 2
	logFieldTimeNs   = 4

	contentFieldKey   = 1
	contentFieldValue = 2

	wireVarint = 0
	wireBytes  = 2
)

func appendTag(dst []byte, field int, wire uint64) []byte {
	return append(dst, proto.EncodeVarint(uint64(field)<<3|wire)...)
}

func appendVarint(dst []byte, field int, v uint64) []byte {
	dst = appendTag(dst, field, wireVarint)
	return append(dst, proto.EncodeVarint(v)...)
}

func appendString(dst []byte, field int, v string) []byte {
	dst = appendTag(dst, field, wireBytes)
	dst = append(dst, proto.EncodeVarint(uint64(len(v)))...)
	return append(dst, v...)
}

func appendBytesField(dst []byte, field int, v []byte) []byte {
	dst = appendTag(dst, field, wireBytes)
	dst = append(dst, proto.EncodeVarint(uint64(len(v)))...)
	return append(dst, v...)
}

func encodeContent(c Content) []byte {
	var buf []byte
	buf = appendString(buf, contentFieldKey, c.Key)
	buf = appendString(buf, contentFieldValue, c.Value)
	return buf
}

func encodeLog(l Log) []byte {
	var buf []byte
	buf = appendVarint(buf, logFieldTime, l.TimeNs/1e9)
	for _, c := range l.Contents {
		buf = appendBytesField(buf, logFieldContents, encodeContent(c))
	}
	buf = appendVarint(buf, logFieldTimeNs, l.TimeNs%1e9)
	return buf
}

func encodeLogTag(t LogTag) []byte {
	var buf []byte
	buf = appendString(buf, contentFieldKey, t.Key)
	buf = appendString(buf, contentFieldValue, t.Value)
	return buf
}

// Marshal encodes g deterministically: logs in input order, each log's
// contents in their SizedMap insertion order, tags in insertion order.
// Determinism here is what lets two runs of the same batch produce
// byte-identical wire output via deterministic field ordering.
func (g LogGroup) Marshal() ([]byte, error) {
	var buf []byte
	for _, l := range g.Logs {
		buf = appendBytesField(buf, fieldLogs, encodeLog(l))
	}
	if g.Category != "" {
		buf = appendString(buf, fieldCategory, g.Category)
	}
	if g.Topic != "" {
		buf = appendString(buf, fieldTopic, g.Topic)
	}
	if g.Source != "" {
		buf = appendString(buf, fieldSource, g.Source)
	}
	if g.MachineUUID != "" {
		buf = appendString(buf, fieldMachineUUID, g.MachineUUID)
	}
	for _, tag := range g.LogTags {
		buf = appendBytesField(buf, fieldLogTags, encodeLogTag(tag))
	}
	return buf, nil
}
