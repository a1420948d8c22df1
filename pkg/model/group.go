// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

// MetaKey is a closed, flat-integer enum of recognized group metadata
// keys, for fast dispatch instead of string-keyed lookups on the hot path.
type MetaKey int

const (
	MetaUnknown MetaKey = iota
	MetaAgentTag
	MetaHostIP
	MetaHostName
	MetaLogTopic
	MetaLogFilePath
	MetaLogFilePathResolved
	MetaLogFileInode
	MetaLogReadOffset
	MetaLogReadLength
	MetaContainerType

	MetaK8sClusterID
	MetaK8sNodeName
	MetaK8sNodeIP
	MetaK8sNamespace
	MetaK8sPodUID
	MetaK8sPodName
	MetaContainerName
	MetaContainerIP
	MetaContainerImageName
	MetaContainerImageID

	// Prometheus-specific metadata keys used by the scrape/parse/relabel
	// processors.
	MetaPrometheusStreamID
	MetaPrometheusScrapeTimestampMs
	MetaPrometheusUpState
	MetaPrometheusScrapeDurationSeconds
	MetaPrometheusScrapeResponseSizeBytes
	MetaPrometheusScrapeSamplesScraped
	MetaPrometheusScrapeSamplesLimit
	MetaPrometheusScrapeTimeoutSeconds
	MetaPrometheusInstance
	MetaPrometheusJob
	MetaPrometheusHonorLabels
)

// PipelineEventGroup is the unit of pipeline flow: events plus tags plus
// metadata plus the arena they borrow from.
type PipelineEventGroup struct {
	Arena    *SourceBuffer
	Metadata map[MetaKey]StringView
	Tags     SizedMap
	Events   []PipelineEvent
}

// NewPipelineEventGroup returns a group with a fresh arena.
func NewPipelineEventGroup(arena *SourceBuffer) *PipelineEventGroup {
	if arena == nil {
		arena = NewSourceBuffer()
	}
	return &PipelineEventGroup{
		Arena:    arena,
		Metadata: make(map[MetaKey]StringView),
		Tags:     NewSizedMap(),
	}
}

// SetMetadata copies val into the group's arena and records it under key.
func (g *PipelineEventGroup) SetMetadata(key MetaKey, val string) {
	g.Metadata[key] = g.Arena.CopyString(val)
}

// SetMetadataView records val (already arena- or static-backed) under key
// without copying.
func (g *PipelineEventGroup) SetMetadataView(key MetaKey, val StringView) {
	g.Metadata[key] = val
}

// GetMetadata returns the value for key and whether it is present.
func (g *PipelineEventGroup) GetMetadata(key MetaKey) (StringView, bool) {
	v, ok := g.Metadata[key]
	return v, ok
}

// HasMetadata reports whether key is present.
func (g *PipelineEventGroup) HasMetadata(key MetaKey) bool {
	_, ok := g.Metadata[key]
	return ok
}

// SetTag copies key and val into the arena and sets the tag.
func (g *PipelineEventGroup) SetTag(key, val string) {
	g.Tags.Set(g.Arena.CopyString(key), g.Arena.CopyString(val))
}

// SetTagView sets a tag from already-backed views without copying.
func (g *PipelineEventGroup) SetTagView(key, val StringView) {
	g.Tags.Set(key, val)
}

// GetTag returns the tag value for key and whether it is present.
func (g *PipelineEventGroup) GetTag(key string) (StringView, bool) {
	return g.Tags.Get(key)
}

// AddEvent appends event to the group, taking ownership of it.
func (g *PipelineEventGroup) AddEvent(event PipelineEvent) {
	g.Events = append(g.Events, event)
}

// DataSize is O(events): the sum of each event's own DataSize plus the
// group's tag map size.
func (g *PipelineEventGroup) DataSize() int {
	total := g.Tags.DataSize()
	for _, e := range g.Events {
		total += e.DataSize()
	}
	return total
}

// Release returns every event in the group to pool and empties the
// group's event list. It does not release the arena: arenas are handed
// off to BatchedEvents.SourceBuffers, not pooled, since their lifetime is
// tied to however many groups/batches still reference them.
func (g *PipelineEventGroup) Release(pool *EventPool) {
	if pool == nil || len(g.Events) == 0 {
		g.Events = g.Events[:0]
		return
	}
	var logs []*LogEvent
	var metrics []*MetricEvent
	var spans []*SpanEvent
	var raws []*RawEvent
	for _, e := range g.Events {
		switch v := e.(type) {
		case *LogEvent:
			logs = append(logs, v)
		case *MetricEvent:
			metrics = append(metrics, v)
		case *SpanEvent:
			spans = append(spans, v)
		case *RawEvent:
			raws = append(raws, v)
		}
	}
	pool.ReleaseLogEvents(logs)
	pool.ReleaseMetricEvents(metrics)
	pool.ReleaseSpanEvents(spans)
	pool.ReleaseRawEvents(raws)
	g.Events = g.Events[:0]
}
