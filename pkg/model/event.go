// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

// EventKind tags the variant of a PipelineEvent. Processors dispatch on
// this by switch, not by interface-method vtable call, the way the
// original matches on a C++ tagged union with a switch over a kind tag.
type EventKind int

const (
	KindLog EventKind = iota
	KindMetric
	KindSpan
	KindRaw
)

func (k EventKind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	case KindSpan:
		return "span"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// PipelineEvent is the common interface implemented by every event
// variant. Concrete fields live on the variant structs; this interface
// only exposes what the processor chain runtime and batcher need without
// knowing the concrete type.
type PipelineEvent interface {
	Kind() EventKind
	TimestampSeconds() int64
	TimestampNanos() (uint32, bool)
	SetTimestamp(seconds int64, nanos uint32, hasNanos bool)
	// Group returns the owning group, for arena access. nil until the
	// event is acquired from an EventPool against a group.
	Group() *PipelineEventGroup
	// DataSize is an approximate wire-size contribution used by the
	// batcher and SenderQueue to bound batches without serializing.
	DataSize() int
}

// common is embedded by every concrete event variant.
type common struct {
	group        *PipelineEventGroup
	timestampS   int64
	timestampNs  uint32
	hasNanos     bool
}

func (c *common) TimestampSeconds() int64 { return c.timestampS }

func (c *common) TimestampNanos() (uint32, bool) {
	if !c.hasNanos {
		return 0, false
	}
	return c.timestampNs, true
}

func (c *common) SetTimestamp(seconds int64, nanos uint32, hasNanos bool) {
	c.timestampS = seconds
	c.timestampNs = nanos
	c.hasNanos = hasNanos
}

func (c *common) Group() *PipelineEventGroup { return c.group }

func (c *common) reset(group *PipelineEventGroup) {
	c.group = group
	c.timestampS = 0
	c.timestampNs = 0
	c.hasNanos = false
}

// LogLevel mirrors the original's level classification for LogEvent.
type LogLevel int

const (
	LogLevelUnknown LogLevel = iota
	LogLevelTrace
	LogLevelDebug
	LogLevelInfo
	LogLevelWarning
	LogLevelError
	LogLevelFatal
)

// LogEvent is the Log variant of PipelineEvent.
type LogEvent struct {
	common
	// Contents preserves first-insertion order, matching the original's
	// ordered map<StringView,StringView>.
	Contents SizedMap
	Level    LogLevel
	// FileOffset/FileSize identify the position in the source file this
	// event was read from, for checkpointing by the (out-of-scope) input
	// runtime.
	FileOffset int64
	FileSize   int64
}

func (e *LogEvent) Kind() EventKind { return KindLog }

func (e *LogEvent) DataSize() int { return e.Contents.DataSize() }

func (e *LogEvent) reset(group *PipelineEventGroup) {
	e.common.reset(group)
	e.Contents.Reset()
	e.Level = LogLevelUnknown
	e.FileOffset = 0
	e.FileSize = 0
}

// MetricValueKind tags the variant of MetricValue.
type MetricValueKind int

const (
	MetricValueUntypedSingle MetricValueKind = iota
	MetricValueUntypedMulti
)

// MetricValue is {UntypedSingle f64} | {UntypedMulti map<SV,f64>}.
type MetricValue struct {
	Kind   MetricValueKind
	Single float64
	Multi  map[string]float64
}

// SingleValue constructs an UntypedSingle MetricValue.
func SingleValue(v float64) MetricValue {
	return MetricValue{Kind: MetricValueUntypedSingle, Single: v}
}

// MultiValue constructs an UntypedMulti MetricValue.
func MultiValue(m map[string]float64) MetricValue {
	return MetricValue{Kind: MetricValueUntypedMulti, Multi: m}
}

// MetricEvent is the Metric variant of PipelineEvent.
type MetricEvent struct {
	common
	Name  StringView
	Value MetricValue
	Tags  SizedMap
}

func (e *MetricEvent) Kind() EventKind { return KindMetric }

func (e *MetricEvent) DataSize() int { return e.Name.Len() + e.Tags.DataSize() }

func (e *MetricEvent) reset(group *PipelineEventGroup) {
	e.common.reset(group)
	e.Name = StringView{}
	e.Value = MetricValue{}
	e.Tags.Reset()
}

// SpanKind mirrors OpenTelemetry's span kind enum.
type SpanKind int

const (
	SpanKindUnspecified SpanKind = iota
	SpanKindInternal
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// SpanStatus mirrors OpenTelemetry's span status enum.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOk
	SpanStatusError
)

// SpanEventInner is an event nested inside a SpanEvent's events[] list
// (distinct from the top-level PipelineEvent Span variant).
type SpanEventInner struct {
	Name      StringView
	TimestampNs int64
	Tags      SizedMap
}

// SpanLink is one entry of a SpanEvent's links[] list.
type SpanLink struct {
	TraceID StringView
	SpanID  StringView
	Tags    SizedMap
}

// SpanEvent is the Span variant of PipelineEvent.
type SpanEvent struct {
	common
	TraceID       StringView
	SpanID        StringView
	TraceState    StringView
	ParentSpanID  StringView
	Name          StringView
	SpanKind      SpanKind
	StartNs       int64
	EndNs         int64
	Tags          SizedMap
	InnerEvents   []SpanEventInner
	Links         []SpanLink
	Status        SpanStatus
	ScopeTags     SizedMap
}

func (e *SpanEvent) Kind() EventKind { return KindSpan }

func (e *SpanEvent) DataSize() int {
	return e.Name.Len() + e.Tags.DataSize() + e.ScopeTags.DataSize()
}

func (e *SpanEvent) reset(group *PipelineEventGroup) {
	e.common.reset(group)
	e.TraceID = StringView{}
	e.SpanID = StringView{}
	e.TraceState = StringView{}
	e.ParentSpanID = StringView{}
	e.Name = StringView{}
	e.SpanKind = SpanKindUnspecified
	e.StartNs = 0
	e.EndNs = 0
	e.Tags.Reset()
	e.InnerEvents = e.InnerEvents[:0]
	e.Links = e.Links[:0]
	e.Status = SpanStatusUnset
	e.ScopeTags.Reset()
}

// RawEvent is the Raw variant of PipelineEvent: opaque unparsed content,
// typically one exposition-format line awaiting a parse processor.
type RawEvent struct {
	common
	Content StringView
}

func (e *RawEvent) Kind() EventKind { return KindRaw }

func (e *RawEvent) DataSize() int { return e.Content.Len() }

func (e *RawEvent) reset(group *PipelineEventGroup) {
	e.common.reset(group)
	e.Content = StringView{}
}
