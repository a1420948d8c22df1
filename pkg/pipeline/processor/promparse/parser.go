// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package promparse implements the Prometheus text-exposition parse
// processor: RawEvents holding scraped text
// become MetricEvents.
package promparse

import (
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
)

// Processor parses RawEvent text-exposition lines into MetricEvents. It
// keeps an incomplete trailing line cached per stream_id so a scrape
// response split across several groups (chunked transfer) parses to
// exactly the same events as one monolithic response would.
type Processor struct {
	pool *model.EventPool
	log  logging.Logger

	mu   sync.Mutex
	tail map[string]string
}

// New returns a parse processor backed by pool for MetricEvent allocation.
func New(pool *model.EventPool, log logging.Logger) *Processor {
	return &Processor{
		pool: pool,
		log:  logging.New(log, "promparse"),
		tail: make(map[string]string),
	}
}

func (p *Processor) Name() string { return "processor_prometheus_parse" }

func (p *Processor) Supports(e model.PipelineEvent) bool { return e.Kind() == model.KindRaw }

func (p *Processor) Process(group *model.PipelineEventGroup) error {
	var rawLines []model.StringView
	kept := group.Events[:0:0]
	for _, e := range group.Events {
		if re, ok := e.(*model.RawEvent); ok {
			rawLines = append(rawLines, re.Content)
			continue
		}
		kept = append(kept, e)
	}
	if len(rawLines) == 0 {
		return nil
	}

	streamID := ""
	if v, ok := group.GetMetadata(model.MetaPrometheusStreamID); ok {
		streamID = v.String()
	}

	// Raw event content is taken verbatim, exactly as read off the wire:
	// a complete line carries its own trailing newline, a fragment cut off
	// mid-line by a chunk boundary does not. Concatenating them this way
	// (rather than forcing a separator) is what lets splitTrailingLine
	// tell a genuinely incomplete last line from a complete one.
	var sb strings.Builder
	sb.WriteString(p.popTail(streamID))
	for _, line := range rawLines {
		sb.WriteString(line.String())
	}
	complete, trailing := splitTrailingLine(sb.String())
	p.setTail(streamID, trailing)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(complete))
	if err != nil {
		p.log.WithError(err).Debug("dropping malformed exposition text for this group")
		group.Events = kept
		return nil
	}

	scrapeTsMs, hasScrapeTs := scrapeTimestamp(group)
	for name, mf := range families {
		for _, m := range mf.GetMetric() {
			ev := p.pool.AcquireMetricEvent(group)
			ev.Name = group.Arena.CopyString(name)
			ev.Value = valueOf(mf.GetType(), m)
			ev.Tags = tagsOf(group.Arena, m.GetLabel())
			if m.TimestampMs != nil {
				ms := m.GetTimestampMs()
				ev.SetTimestamp(ms/1000, uint32((ms%1000)*1e6), true)
			} else if hasScrapeTs {
				ev.SetTimestamp(scrapeTsMs/1000, uint32((scrapeTsMs%1000)*1e6), true)
			}
			kept = append(kept, ev)
		}
	}
	group.Events = kept
	return nil
}

func (p *Processor) popTail(streamID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.tail[streamID]
	delete(p.tail, streamID)
	return t
}

func (p *Processor) setTail(streamID, tail string) {
	if tail == "" {
		return
	}
	p.mu.Lock()
	p.tail[streamID] = tail
	p.mu.Unlock()
}

// splitTrailingLine separates text into everything up to and including
// the last newline, and whatever incomplete fragment follows it.
func splitTrailingLine(text string) (complete, trailing string) {
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		return "", text
	}
	return text[:idx+1], text[idx+1:]
}

func scrapeTimestamp(group *model.PipelineEventGroup) (int64, bool) {
	v, ok := group.GetMetadata(model.MetaPrometheusScrapeTimestampMs)
	if !ok {
		return 0, false
	}
	ms, err := parseInt(v.String())
	if err != nil {
		return 0, false
	}
	return ms, true
}

func valueOf(kind dto.MetricType, m *dto.Metric) model.MetricValue {
	switch kind {
	case dto.MetricType_COUNTER:
		return model.SingleValue(m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return model.SingleValue(m.GetGauge().GetValue())
	case dto.MetricType_SUMMARY:
		s := m.GetSummary()
		multi := map[string]float64{"sum": s.GetSampleSum(), "count": float64(s.GetSampleCount())}
		for _, q := range s.GetQuantile() {
			multi[quantileKey(q.GetQuantile())] = q.GetValue()
		}
		return model.MultiValue(multi)
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		multi := map[string]float64{"sum": h.GetSampleSum(), "count": float64(h.GetSampleCount())}
		for _, b := range h.GetBucket() {
			multi[bucketKey(b.GetUpperBound())] = float64(b.GetCumulativeCount())
		}
		return model.MultiValue(multi)
	default:
		return model.SingleValue(m.GetUntyped().GetValue())
	}
}

func tagsOf(arena *model.SourceBuffer, labels []*dto.LabelPair) model.SizedMap {
	tags := model.NewSizedMap()
	for _, lp := range labels {
		tags.Set(arena.CopyString(lp.GetName()), arena.CopyString(lp.GetValue()))
	}
	return tags
}

func quantileKey(q float64) string { return "quantile_" + formatFloat(q) }
func bucketKey(le float64) string  { return "le_" + formatFloat(le) }
