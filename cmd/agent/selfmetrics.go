// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/pipelinemanager"
)

// selfMetrics exposes the agent's own running state as Prometheus gauges —
// pipeline count and queue depth, the numbers an operator reaches for first
// when asking "is this agent keeping up". It does not touch the data path;
// a scrape failure here never affects ingestion.
type selfMetrics struct {
	pipelines  prometheus.Gauge
	processQ   prometheus.Gauge
	senderQ    prometheus.Gauge
	manager    *pipelinemanager.Manager
	processFab *queue.Fabric
	senderFab  *queue.Fabric
}

func newSelfMetrics(manager *pipelinemanager.Manager, processFab, senderFab *queue.Fabric) *selfMetrics {
	m := &selfMetrics{
		pipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loongcollector_pipelines_running",
			Help: "Number of pipelines currently attached.",
		}),
		processQ: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loongcollector_process_queue_items",
			Help: "Total items buffered across all process queues.",
		}),
		senderQ: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loongcollector_sender_queue_items",
			Help: "Total items buffered across all sender queues.",
		}),
		manager:    manager,
		processFab: processFab,
		senderFab:  senderFab,
	}
	prometheus.MustRegister(m.pipelines, m.processQ, m.senderQ)
	return m
}

func (m *selfMetrics) refresh() {
	m.pipelines.Set(float64(m.manager.Len()))
	m.processQ.Set(float64(sumQueueSizes(m.processFab)))
	m.senderQ.Set(float64(sumQueueSizes(m.senderFab)))
}

func sumQueueSizes(fab *queue.Fabric) int {
	total := 0
	for _, k := range fab.Keys() {
		total += fab.Size(k)
	}
	return total
}

// serveMetrics starts a /metrics HTTP server and blocks until ctx is
// canceled. A listen failure is logged and swallowed: self-monitoring
// going down must never take the agent down with it.
func serveMetrics(ctx context.Context, addr string, log logging.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("agent: self-metrics server stopped")
	}
}
