// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// defaultChunkSize is the size of a freshly allocated arena chunk. A
// CopyString larger than this gets its own oversized chunk.
const defaultChunkSize = 4096

// SourceBuffer is an append-only byte arena backing every StringView
// produced for one PipelineEventGroup. It never reallocates bytes already
// handed out: growth allocates a new chunk instead of resizing the
// current one, so live StringViews never dangle. It is not safe for
// concurrent writes — a group (and its arena) is owned by exactly one
// goroutine while being mutated by the processor chain; once sealed into
// a BatchedEvents it is read-only and safe for concurrent reads.
type SourceBuffer struct {
	chunks [][]byte
	cur    []byte
}

// NewSourceBuffer returns an empty arena.
func NewSourceBuffer() *SourceBuffer {
	return &SourceBuffer{}
}

// CopyString copies s into the arena and returns a stable view of the
// copy. The view is valid for the lifetime of the SourceBuffer.
func (b *SourceBuffer) CopyString(s string) StringView {
	n := len(s)
	if n == 0 {
		return StringView{}
	}
	if cap(b.cur)-len(b.cur) < n {
		b.rotate(n)
	}
	start := len(b.cur)
	b.cur = append(b.cur, s...)
	return StringView{data: b.cur[start : start+n : start+n]}
}

// CopyBytes is the []byte-accepting sibling of CopyString.
func (b *SourceBuffer) CopyBytes(s []byte) StringView {
	n := len(s)
	if n == 0 {
		return StringView{}
	}
	if cap(b.cur)-len(b.cur) < n {
		b.rotate(n)
	}
	start := len(b.cur)
	b.cur = append(b.cur, s...)
	return StringView{data: b.cur[start : start+n : start+n]}
}

func (b *SourceBuffer) rotate(need int) {
	if b.cur != nil {
		b.chunks = append(b.chunks, b.cur)
	}
	size := defaultChunkSize
	if need > size {
		size = need
	}
	b.cur = make([]byte, 0, size)
}

// Size returns the total number of live bytes copied into the arena.
func (b *SourceBuffer) Size() int {
	total := len(b.cur)
	for _, c := range b.chunks {
		total += len(c)
	}
	return total
}

// Static wraps a string literal (or any caller-owned, immortal string) as
// a StringView without copying it into an arena. Used for constant tag
// keys/values such as "job" or "instance" that outlive every group.
func Static(s string) StringView {
	if s == "" {
		return StringView{}
	}
	return StringView{data: unsafe.Slice(unsafe.StringData(s), len(s))}
}

// StringView is a (ptr,len) view into a SourceBuffer or a static literal.
// It never owns the bytes it points to. Comparable by content, hashable
// by content.
type StringView struct {
	data []byte
}

// String renders the view as a string without copying.
func (v StringView) String() string {
	if len(v.data) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(v.data), len(v.data))
}

// Bytes returns the underlying bytes. Callers must not mutate them.
func (v StringView) Bytes() []byte { return v.data }

// Len returns the view's length in bytes.
func (v StringView) Len() int { return len(v.data) }

// IsEmpty reports whether the view has zero length.
func (v StringView) IsEmpty() bool { return len(v.data) == 0 }

// Equal compares two views by content.
func (v StringView) Equal(o StringView) bool {
	return string(v.data) == string(o.data)
}

// Hash returns a content hash suitable for map keys and shard selection.
func (v StringView) Hash() uint64 {
	return xxhash.Sum64(v.data)
}
