// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package promrelabel implements the Prometheus relabel processor:
// ordered keep/drop/replace/labelmap/labeldrop/labelkeep/hashmod rules
// plus the honor_labels collision policy and self-metrics generation.
package promrelabel

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/alibaba/loongcollector-go/pkg/model"
)

// Action is one relabel rule's verb.
type Action string

const (
	ActionKeep      Action = "keep"
	ActionDrop      Action = "drop"
	ActionReplace   Action = "replace"
	ActionLabelMap  Action = "labelmap"
	ActionLabelDrop Action = "labeldrop"
	ActionLabelKeep Action = "labelkeep"
	ActionHashMod   Action = "hashmod"
)

// Rule is one entry of the ordered relabel_configs list.
type Rule struct {
	SourceLabels []string
	Separator    string
	Regex        *regexp.Regexp
	TargetLabel  string
	Replacement  string
	Action       Action
	Modulus      uint64
}

func (r Rule) separator() string {
	if r.Separator == "" {
		return ";"
	}
	return r.Separator
}

func (r Rule) regex() *regexp.Regexp {
	if r.Regex != nil {
		return r.Regex
	}
	return regexp.MustCompile(`^(?s:.*)$`)
}

// Config is the processor's static configuration.
type Config struct {
	Rules          []Rule
	HonorLabels    bool
	ScrapeSamplesLimit *int64
}

// Processor applies Config.Rules to every metric event in a group, then
// optionally appends the fixed set of scrape self-metrics.
type Processor struct {
	cfg  Config
	pool *model.EventPool
}

// New returns a relabel processor.
func New(cfg Config, pool *model.EventPool) *Processor {
	return &Processor{cfg: cfg, pool: pool}
}

func (p *Processor) Name() string { return "processor_prometheus_relabel" }

func (p *Processor) Supports(e model.PipelineEvent) bool { return e.Kind() == model.KindMetric }

func (p *Processor) Process(group *model.PipelineEventGroup) error {
	survivors := group.Events[:0:0]
	kept := 0
	for _, e := range group.Events {
		m, ok := e.(*model.MetricEvent)
		if !ok {
			survivors = append(survivors, e)
			continue
		}
		tags := p.mergeGroupTags(group, m)
		if p.applyRules(group.Arena, &tags) {
			m.Tags = tags
			survivors = append(survivors, m)
			kept++
		}
	}
	group.Events = survivors

	if _, ok := group.GetMetadata(model.MetaPrometheusUpState); ok {
		p.appendSelfMetrics(group, kept)
	}
	return nil
}

// mergeGroupTags folds group-level (scrape-level) tags into the event's
// own tags, applying the honor_labels collision policy.
func (p *Processor) mergeGroupTags(group *model.PipelineEventGroup, m *model.MetricEvent) model.SizedMap {
	merged := m.Tags.Clone()
	group.Tags.Range(func(k, v model.StringView) bool {
		key := k.String()
		if _, collide := merged.Get(key); collide {
			if !p.cfg.HonorLabels {
				merged.Set(group.Arena.CopyString("exported_"+key), v)
			}
			return true
		}
		merged.Set(k, v)
		return true
	})
	return merged
}

func (p *Processor) applyRules(arena *model.SourceBuffer, tags *model.SizedMap) (keep bool) {
	for _, rule := range p.cfg.Rules {
		switch rule.Action {
		case ActionKeep:
			if !rule.regex().MatchString(sourceValue(tags, rule)) {
				return false
			}
		case ActionDrop:
			if rule.regex().MatchString(sourceValue(tags, rule)) {
				return false
			}
		case ActionReplace:
			src := sourceValue(tags, rule)
			if match := rule.regex().FindStringSubmatchIndex(src); match != nil {
				out := rule.regex().ExpandString(nil, rule.Replacement, src, match)
				if rule.TargetLabel != "" {
					tags.Set(arena.CopyString(rule.TargetLabel), arena.CopyString(string(out)))
				}
			}
		case ActionLabelMap:
			applyLabelMap(arena, tags, rule)
		case ActionLabelDrop:
			applyLabelFilter(arena, tags, rule.regex(), false)
		case ActionLabelKeep:
			applyLabelFilter(arena, tags, rule.regex(), true)
		case ActionHashMod:
			if rule.Modulus == 0 || rule.TargetLabel == "" {
				continue
			}
			h := xxhash.Sum64String(sourceValue(tags, rule)) % rule.Modulus
			tags.Set(arena.CopyString(rule.TargetLabel), arena.CopyString(strconv.FormatUint(h, 10)))
		}
	}
	return true
}

func sourceValue(tags *model.SizedMap, rule Rule) string {
	if len(rule.SourceLabels) == 0 {
		return ""
	}
	parts := make([]string, len(rule.SourceLabels))
	for i, name := range rule.SourceLabels {
		if v, ok := tags.Get(name); ok {
			parts[i] = v.String()
		}
	}
	return strings.Join(parts, rule.separator())
}

func applyLabelMap(arena *model.SourceBuffer, tags *model.SizedMap, rule Rule) {
	re := rule.regex()
	var additions []struct{ k, v string }
	tags.Range(func(k, v model.StringView) bool {
		name := k.String()
		if re.MatchString(name) {
			newName := re.ReplaceAllString(name, rule.Replacement)
			additions = append(additions, struct{ k, v string }{newName, v.String()})
		}
		return true
	})
	for _, a := range additions {
		tags.Set(arena.CopyString(a.k), arena.CopyString(a.v))
	}
}

func applyLabelFilter(arena *model.SourceBuffer, tags *model.SizedMap, re *regexp.Regexp, keepMatching bool) {
	var toDrop []string
	tags.Range(func(k, _ model.StringView) bool {
		matched := re.MatchString(k.String())
		if matched != keepMatching {
			toDrop = append(toDrop, k.String())
		}
		return true
	})
	for _, k := range toDrop {
		tags.Delete(k)
	}
}

// appendSelfMetrics adds the fixed set of scrape self-metrics,
// tagged with job/instance, once group metadata carries an up-state.
func (p *Processor) appendSelfMetrics(group *model.PipelineEventGroup, samplesAfterRelabel int) {
	job, _ := group.GetMetadata(model.MetaPrometheusJob)
	instance, _ := group.GetMetadata(model.MetaPrometheusInstance)

	add := func(name string, v float64) {
		ev := p.pool.AcquireMetricEvent(group)
		ev.Name = group.Arena.CopyString(name)
		ev.Value = model.SingleValue(v)
		tags := model.NewSizedMap()
		tags.Set(group.Arena.CopyString("job"), job)
		tags.Set(group.Arena.CopyString("instance"), instance)
		ev.Tags = tags
		group.AddEvent(ev)
	}

	if v, ok := group.GetMetadata(model.MetaPrometheusUpState); ok {
		f, _ := strconv.ParseFloat(v.String(), 64)
		add("up", f)
	}
	if v, ok := group.GetMetadata(model.MetaPrometheusScrapeDurationSeconds); ok {
		f, _ := strconv.ParseFloat(v.String(), 64)
		add("scrape_duration_seconds", f)
	}
	if v, ok := group.GetMetadata(model.MetaPrometheusScrapeResponseSizeBytes); ok {
		f, _ := strconv.ParseFloat(v.String(), 64)
		add("scrape_response_size_bytes", f)
	}
	if p.cfg.ScrapeSamplesLimit != nil {
		add("scrape_samples_limit", float64(*p.cfg.ScrapeSamplesLimit))
	}
	add("scrape_samples_post_metric_relabeling", float64(samplesAfterRelabel))
	if v, ok := group.GetMetadata(model.MetaPrometheusScrapeSamplesScraped); ok {
		f, _ := strconv.ParseFloat(v.String(), 64)
		add("scrape_samples_scraped", f)
	}
	if v, ok := group.GetMetadata(model.MetaPrometheusScrapeTimeoutSeconds); ok {
		f, _ := strconv.ParseFloat(v.String(), 64)
		add("scrape_timeout_seconds", f)
	}
}
