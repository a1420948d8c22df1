// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package promrelabel

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/loongcollector-go/pkg/model"
)

func metricGroup(t *testing.T, name string, tags map[string]string) (*model.PipelineEventGroup, *model.MetricEvent) {
	t.Helper()
	g := model.NewPipelineEventGroup(nil)
	pool := model.NewEventPool(time.Minute)
	ev := pool.AcquireMetricEvent(g)
	ev.Name = g.Arena.CopyString(name)
	ev.Value = model.SingleValue(1)
	ev.Tags = model.NewSizedMap()
	for k, v := range tags {
		ev.Tags.Set(g.Arena.CopyString(k), g.Arena.CopyString(v))
	}
	g.AddEvent(ev)
	return g, ev
}

func TestRelabelKeepDropsNonMatching(t *testing.T) {
	g, _ := metricGroup(t, "cpu", map[string]string{"env": "staging"})
	rules := []Rule{{Action: ActionKeep, SourceLabels: []string{"env"}, Regex: regexp.MustCompile("^prod$")}}
	p := New(Config{Rules: rules}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	assert.Empty(t, g.Events)
}

func TestRelabelKeepPassesMatching(t *testing.T) {
	g, _ := metricGroup(t, "cpu", map[string]string{"env": "prod"})
	rules := []Rule{{Action: ActionKeep, SourceLabels: []string{"env"}, Regex: regexp.MustCompile("^prod$")}}
	p := New(Config{Rules: rules}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	assert.Len(t, g.Events, 1)
}

func TestRelabelReplaceWritesTargetLabel(t *testing.T) {
	g, _ := metricGroup(t, "cpu", map[string]string{"__address__": "10.0.0.1:9100"})
	rules := []Rule{{
		Action:       ActionReplace,
		SourceLabels: []string{"__address__"},
		Regex:        regexp.MustCompile(`^([^:]+):\d+$`),
		Replacement:  "$1",
		TargetLabel:  "host",
	}}
	p := New(Config{Rules: rules}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	require.Len(t, g.Events, 1)
	m := g.Events[0].(*model.MetricEvent)
	v, ok := m.Tags.Get("host")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v.String())
}

func TestRelabelHashMod(t *testing.T) {
	g, _ := metricGroup(t, "cpu", map[string]string{"id": "abc"})
	rules := []Rule{{Action: ActionHashMod, SourceLabels: []string{"id"}, Modulus: 16, TargetLabel: "shard"}}
	p := New(Config{Rules: rules}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	m := g.Events[0].(*model.MetricEvent)
	_, ok := m.Tags.Get("shard")
	assert.True(t, ok)
}

func TestRelabelLabelDropAndLabelKeep(t *testing.T) {
	g, _ := metricGroup(t, "cpu", map[string]string{"keep_me": "1", "drop_me": "2"})
	rules := []Rule{{Action: ActionLabelDrop, Regex: regexp.MustCompile(`^drop_`)}}
	p := New(Config{Rules: rules}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	m := g.Events[0].(*model.MetricEvent)
	_, ok := m.Tags.Get("drop_me")
	assert.False(t, ok)
	_, ok = m.Tags.Get("keep_me")
	assert.True(t, ok)
}

func TestRelabelHonorLabelsTrueLeavesEventValue(t *testing.T) {
	g, ev := metricGroup(t, "cpu", map[string]string{"job": "event-job"})
	g.SetTag("job", "scrape-job")
	p := New(Config{HonorLabels: true}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	v, ok := ev.Tags.Get("job")
	require.True(t, ok)
	assert.Equal(t, "event-job", v.String())
	_, ok = ev.Tags.Get("exported_job")
	assert.False(t, ok)
}

func TestRelabelHonorLabelsFalseRenamesGroupTag(t *testing.T) {
	g, ev := metricGroup(t, "cpu", map[string]string{"job": "event-job"})
	g.SetTag("job", "scrape-job")
	p := New(Config{HonorLabels: false}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	v, ok := ev.Tags.Get("job")
	require.True(t, ok)
	assert.Equal(t, "event-job", v.String(), "event's own label value must survive the collision")
	exported, ok := ev.Tags.Get("exported_job")
	require.True(t, ok)
	assert.Equal(t, "scrape-job", exported.String())
}

func TestRelabelAppendsSelfMetricsWhenUpStatePresent(t *testing.T) {
	g, _ := metricGroup(t, "cpu", nil)
	g.SetMetadata(model.MetaPrometheusUpState, "1")
	g.SetMetadata(model.MetaPrometheusJob, "node")
	g.SetMetadata(model.MetaPrometheusInstance, "host:9100")
	p := New(Config{}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))

	names := map[string]bool{}
	for _, e := range g.Events {
		if m, ok := e.(*model.MetricEvent); ok {
			names[m.Name.String()] = true
		}
	}
	assert.True(t, names["up"])
	assert.True(t, names["scrape_samples_post_metric_relabeling"])
}

func TestRelabelNoSelfMetricsWithoutUpState(t *testing.T) {
	g, _ := metricGroup(t, "cpu", nil)
	p := New(Config{}, model.NewEventPool(time.Minute))
	require.NoError(t, p.Process(g))
	assert.Len(t, g.Events, 1)
}
