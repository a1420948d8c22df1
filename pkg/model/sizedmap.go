// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

// SizedMap is an insertion-ordered StringView->StringView map that tracks
// its cumulative key+value byte size in O(1) per mutation, so a batcher or
// flusher can decide batch completion without rescanning every tag/content
// map on every group.
type SizedMap struct {
	keys   []StringView
	values map[string]StringView
	size   int
}

// NewSizedMap returns an empty SizedMap.
func NewSizedMap() SizedMap {
	return SizedMap{values: make(map[string]StringView)}
}

// Set inserts or overwrites key->value, maintaining first-insertion order
// for new keys and adjusting data_size accordingly.
func (m *SizedMap) Set(key, value StringView) {
	if m.values == nil {
		m.values = make(map[string]StringView)
	}
	k := key.String()
	if old, ok := m.values[k]; ok {
		m.size += value.Len() - old.Len()
		m.values[k] = value
		return
	}
	m.keys = append(m.keys, key)
	m.values[k] = value
	m.size += key.Len() + value.Len()
}

// Get returns the value for key and whether it was present.
func (m SizedMap) Get(key string) (StringView, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key if present, updating data_size.
func (m *SizedMap) Delete(key string) {
	old, ok := m.values[key]
	if !ok {
		return
	}
	delete(m.values, key)
	m.size -= old.Len() + len(key)
	for i, k := range m.keys {
		if k.String() == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m SizedMap) Len() int { return len(m.keys) }

// DataSize returns the cumulative key+value byte size.
func (m SizedMap) DataSize() int { return m.size }

// Range iterates entries in first-insertion order.
func (m SizedMap) Range(f func(key, value StringView) bool) {
	for _, k := range m.keys {
		if !f(k, m.values[k.String()]) {
			return
		}
	}
}

// Clone returns an independent copy sharing the same underlying StringViews
// (they are arena-backed and immutable, so sharing is safe).
func (m SizedMap) Clone() SizedMap {
	out := SizedMap{
		keys:   make([]StringView, len(m.keys)),
		values: make(map[string]StringView, len(m.values)),
		size:   m.size,
	}
	copy(out.keys, m.keys)
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// Reset clears the map for reuse by EventPool, without discarding the
// backing slice/map capacity.
func (m *SizedMap) Reset() {
	m.keys = m.keys[:0]
	for k := range m.values {
		delete(m.values, k)
	}
	m.size = 0
}
