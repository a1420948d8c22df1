// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Command agent wires together every built subsystem — config watching,
// pipeline management, batching, disk buffering, and the send scheduler —
// into one running process. It contains no business logic of its own:
// everything here is construction, lifecycle, and glue.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/config"
	"github.com/alibaba/loongcollector-go/pkg/diskbuffer"
	"github.com/alibaba/loongcollector-go/pkg/diskbuffer/pb"
	"github.com/alibaba/loongcollector-go/pkg/flusher"
	"github.com/alibaba/loongcollector-go/pkg/flusher/httpflusher"
	"github.com/alibaba/loongcollector-go/pkg/flusher/msgpackflusher"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/processor"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/processor/promparse"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/processor/promrelabel"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/pipelinemanager"
	"github.com/alibaba/loongcollector-go/pkg/sender"
	"github.com/alibaba/loongcollector-go/pkg/sendresult"
)

var optionsJSON = jsoniter.ConfigCompatibleWithStandardLibrary

type agentFlags struct {
	configDirs     string
	bufferDir      string
	bufferKey      string
	region         string
	endpoint       string
	concurrency    int
	bytesPerSecond int64
	tickInterval   time.Duration
	logLevel       string
	metricsAddr    string
}

func parseFlags() agentFlags {
	var f agentFlags
	flag.StringVar(&f.configDirs, "config-dirs", "", "comma-separated list of pipeline/task config directories")
	flag.StringVar(&f.bufferDir, "buffer-dir", "./buffer", "disk-buffer spool directory")
	flag.StringVar(&f.bufferKey, "buffer-key", "", "obfuscation key for on-disk buffer records")
	flag.StringVar(&f.region, "region", "default", "default send-destination region name")
	flag.StringVar(&f.endpoint, "endpoint", "", "default send-destination endpoint (host[:port])")
	flag.IntVar(&f.concurrency, "send-concurrency", 10, "max concurrent in-flight send requests")
	flag.Int64Var(&f.bytesPerSecond, "send-bytes-per-second", 0, "per-thread send rate limit in bytes/sec (0 disables)")
	flag.DurationVar(&f.tickInterval, "tick-interval", 10*time.Second, "config watcher poll interval")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "address to serve self-metrics on (e.g. :8888), empty disables it")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	level, err := logrus.ParseLevel(f.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logging.SetLevel(level)
	log := logging.OrDefault(nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f, log); err != nil {
		log.WithError(err).Error("agent exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, f agentFlags, log logging.Logger) error {
	alarms := alarm.NewManager(log)
	clk := clock.New()
	fs := afero.NewOsFs()

	processFab := queue.NewFabric(queue.DefaultCapacity)
	senderFab := queue.NewFabric(queue.DefaultCapacity)

	registry := sender.NewRegionRegistry()
	registry.AddRegion(f.region, f.endpoint, f.concurrency)

	var bucket *sender.TokenBucket
	if f.bytesPerSecond > 0 {
		bucket = sender.NewTokenBucket(clk, f.bytesPerSecond)
	}

	var writer *diskbuffer.Writer
	if f.bufferDir != "" {
		w, err := diskbuffer.NewWriter(fs, clk, diskbuffer.Config{Dir: f.bufferDir, Key: []byte(f.bufferKey)}, log)
		if err != nil {
			return fmt.Errorf("agent: build disk buffer writer: %w", err)
		}
		writer = w
	}

	scheduler, err := sender.NewScheduler(senderFab, registry, httpClientFactory, 64, writer, bucket, alarms, sender.DecisionConfig{}, f.concurrency, clk, log)
	if err != nil {
		return fmt.Errorf("agent: build send scheduler: %w", err)
	}

	var replayer *diskbuffer.Replayer
	if f.bufferDir != "" {
		replayer = diskbuffer.NewReplayer(fs, clk, diskbuffer.ReplayerConfig{Dir: f.bufferDir, Key: []byte(f.bufferKey)}, 1, nil, replaySendFunc(registry, f.region), log)
	}

	pool := model.NewEventPool(5 * time.Minute)
	manager := pipelinemanager.NewManager(processFab, senderFab, clk, buildProcessorFactory(pool, log), buildFlusherFactory(senderFab, log), alarms, log)

	var dirs []string
	if f.configDirs != "" {
		for _, d := range strings.Split(f.configDirs, ",") {
			if d = strings.TrimSpace(d); d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	watcher := config.New(fs, clk, dirs, nil, nil, alarms, log)

	metrics := newSelfMetrics(manager, processFab, senderFab)
	go serveMetrics(ctx, f.metricsAddr, log)

	watchCh := make(chan struct{}, 1)
	notify := func() {
		select {
		case watchCh <- struct{}{}:
		default:
		}
	}
	if fw, err := startFsWatcher(dirs, notify, log); err == nil {
		defer fw.Close()
	} else {
		log.WithError(err).Warn("agent: filesystem change notifications unavailable, relying on poll interval only")
	}

	go manager.Run(ctx, 200*time.Millisecond)
	go func() {
		if err := scheduler.Run(ctx, 500*time.Millisecond); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("agent: send scheduler stopped")
		}
	}()
	if replayer != nil {
		go func() {
			if err := replayer.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("agent: disk-buffer replayer stopped")
			}
		}()
	}

	ticker := clk.Ticker(f.tickInterval)
	defer ticker.Stop()

	applyTick := func() {
		pipelineDiffs, taskDiffs, err := watcher.Tick()
		if err != nil {
			log.WithError(err).Warn("agent: config tick failed")
			return
		}
		manager.Apply(pipelineDiffs)
		manager.Apply(taskDiffs)
		metrics.refresh()
	}
	applyTick()

	for {
		select {
		case <-ctx.Done():
			log.Info("agent: shutting down, flushing open batches")
			manager.StopAll()
			return nil
		case <-ticker.C:
			applyTick()
		case <-watchCh:
			applyTick()
		}
	}
}

// startFsWatcher installs an fsnotify watch on every config directory so a
// write is picked up before the next poll tick, instead of waiting out the
// full interval. The poll loop keeps running regardless — fsnotify can miss
// events on some filesystems (NFS, some container overlays), so it is a
// latency optimization, never the only trigger.
func startFsWatcher(dirs []string, notify func(), log logging.Logger) (*fsnotify.Watcher, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no directories to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			log.WithError(err).Warnf("agent: watch %q", d)
		}
	}
	go func() {
		for {
			select {
			case _, ok := <-fw.Events:
				if !ok {
					return
				}
				notify()
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return fw, nil
}

// buildProcessorFactory returns a pipelinemanager.ProcessorFactory covering
// the processor types this build knows how to construct. Types backed by
// an external provider registry (e.g. Kubernetes metadata lookup) are
// deliberately not wired here — the provider/plugin registry itself is out
// of scope, so there is no ServerClient to hand them.
func buildProcessorFactory(pool *model.EventPool, log logging.Logger) pipelinemanager.ProcessorFactory {
	return func(spec config.PluginSpec) (processor.Processor, error) {
		switch spec.Type {
		case "processor_prometheus_parse":
			return promparse.New(pool, log), nil
		case "processor_prometheus_relabel":
			var cfg promrelabel.Config
			if err := decodeOptions(spec.Options, &cfg); err != nil {
				return nil, fmt.Errorf("processor_prometheus_relabel: %w", err)
			}
			return promrelabel.New(cfg, pool), nil
		default:
			return nil, fmt.Errorf("no factory wired for processor type %q", spec.Type)
		}
	}
}

// buildFlusherFactory returns a pipelinemanager.FlusherFactory for the two
// built-in flushers. Both push onto senderFab; project and region come
// from the pipeline's global config, not from the plugin's own options.
func buildFlusherFactory(senderFab *queue.Fabric, log logging.Logger) pipelinemanager.FlusherFactory {
	return func(spec config.PluginSpec, project, region string) (flusher.Flusher, error) {
		switch spec.Type {
		case "flusher_http":
			var cfg httpflusher.Config
			if err := decodeOptions(spec.Options, &cfg); err != nil {
				return nil, fmt.Errorf("flusher_http: %w", err)
			}
			cfg.Project, cfg.Region = project, region
			return httpflusher.New(cfg, senderFab, log), nil
		case "flusher_msgpack":
			var cfg msgpackflusher.Config
			if err := decodeOptions(spec.Options, &cfg); err != nil {
				return nil, fmt.Errorf("flusher_msgpack: %w", err)
			}
			cfg.Project, cfg.Region = project, region
			return msgpackflusher.New(cfg, senderFab, log), nil
		default:
			return nil, fmt.Errorf("no factory wired for flusher type %q", spec.Type)
		}
	}
}

// decodeOptions re-marshals a plugin's loosely-typed Options map into a
// concrete config struct, the same jsoniter codec the config package uses
// to parse pipeline documents off disk.
func decodeOptions(opts map[string]interface{}, target interface{}) error {
	raw, err := optionsJSON.Marshal(opts)
	if err != nil {
		return err
	}
	return optionsJSON.Unmarshal(raw, target)
}

// httpClientFactory builds a sender.SendClient that POSTs the framed
// payload to endpoint over plain HTTP.
func httpClientFactory(endpoint string) (sender.SendClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty endpoint")
	}
	return &httpSendClient{endpoint: endpoint, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

type httpSendClient struct {
	endpoint string
	client   *http.Client
}

func (c *httpSendClient) Send(ctx context.Context, payload []byte) sendresult.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return sendresult.NetworkError
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	resp, err := c.client.Do(req)
	if err != nil {
		return sendresult.NetworkError
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return classifyStatus(resp.StatusCode)
}

// replaySendFunc adapts the region registry's endpoint selection into the
// diskbuffer.SendFunc shape the replayer drives synchronously, one record
// at a time, bypassing the scheduler's queue and concurrency machinery
// entirely — a replayed record is not subject to the real-time path's
// backpressure, only to the replayer's own pacing.
func replaySendFunc(registry *sender.RegionRegistry, region string) diskbuffer.SendFunc {
	return func(ctx context.Context, meta pb.Meta, payload []byte) sendresult.Result {
		endpoint, ok := registry.PickEndpoint(region)
		if !ok {
			return sendresult.NetworkError
		}
		client, err := httpClientFactory(endpoint)
		if err != nil {
			return sendresult.NetworkError
		}
		return client.Send(ctx, payload)
	}
}

func classifyStatus(code int) sendresult.Result {
	switch {
	case code >= 200 && code < 300:
		return sendresult.Ok
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return sendresult.Unauthorized
	case code == http.StatusTooManyRequests:
		return sendresult.QuotaExceed
	default:
		return sendresult.ServerError
	}
}
