// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package k8smeta implements the Kubernetes metadata labeling processor:
// cache pod info by container id or remote ip, batch server
// round-trips on cache miss, and reprocess once the batch resolves.
package k8smeta

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
)

const (
	tagContainerID = "container.id"
	tagRemoteIP    = "remote_ip"

	defaultTTL             = 5 * time.Minute
	defaultCleanupInterval = time.Minute
	lookupTimeout          = 3 * time.Second
)

// PodInfo is the resolved Kubernetes metadata for one container or peer
// IP: workloadName, workloadKind, namespace, serviceName, pid, and the
// peer-side workloadName/workloadKind/namespace equivalents.
type PodInfo struct {
	WorkloadName string
	WorkloadKind string
	Namespace    string
	ServiceName  string
	Pid          string
}

// ServerClient performs the single batched round-trip per cache-miss set.
// The real implementation talks to the node-local metadata server; tests
// and the exercise's non-k8s deployments may supply a stub.
type ServerClient interface {
	BatchLookup(ctx context.Context, keys []string) (map[string]PodInfo, error)
}

// Processor labels metric and span events with Kubernetes workload
// metadata, keyed by a container id or peer IP tag found on the event.
type Processor struct {
	client ServerClient
	cache  *gocache.Cache
	log    logging.Logger
	alarms *alarm.Manager
}

// New returns a k8smeta processor. client may be nil, in which case
// lookups are always misses and events pass through unlabeled.
func New(client ServerClient, log logging.Logger, alarms *alarm.Manager) *Processor {
	return &Processor{
		client: client,
		cache:  gocache.New(defaultTTL, defaultCleanupInterval),
		log:    logging.New(log, "k8smeta"),
		alarms: alarms,
	}
}

func (p *Processor) Name() string { return "processor_k8s_metadata" }

func (p *Processor) Supports(e model.PipelineEvent) bool {
	return e.Kind() == model.KindMetric || e.Kind() == model.KindSpan
}

type lookupSite struct {
	key      string
	isPeer   bool
	tags     *model.SizedMap
}

func (p *Processor) Process(group *model.PipelineEventGroup) error {
	sites := p.collect(group)
	if len(sites) == 0 {
		return nil
	}

	missing := p.applyCached(group.Arena, sites)
	if len(missing) == 0 {
		return nil
	}

	resolved, err := p.batchLookup(missing)
	if err != nil {
		p.log.WithError(err).Debug("k8s metadata batch lookup failed, events left unlabeled this round")
		p.alarms.Send(alarm.ConfigAlarm, err.Error(), "", "", "")
		return nil
	}
	for k, info := range resolved {
		p.cache.SetDefault(k, info)
	}
	p.applyCached(group.Arena, sites)
	return nil
}

func (p *Processor) collect(group *model.PipelineEventGroup) []lookupSite {
	var sites []lookupSite
	for _, e := range group.Events {
		var tags *model.SizedMap
		switch ev := e.(type) {
		case *model.MetricEvent:
			tags = &ev.Tags
		case *model.SpanEvent:
			tags = &ev.Tags
		default:
			continue
		}
		if v, ok := tags.Get(tagContainerID); ok {
			sites = append(sites, lookupSite{key: v.String(), tags: tags})
			continue
		}
		if v, ok := tags.Get(tagRemoteIP); ok {
			sites = append(sites, lookupSite{key: v.String(), isPeer: true, tags: tags})
		}
	}
	return sites
}

// applyCached writes every site whose key is already cached and returns
// the distinct keys that still need resolving.
func (p *Processor) applyCached(arena *model.SourceBuffer, sites []lookupSite) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, s := range sites {
		v, ok := p.cache.Get(s.key)
		if !ok {
			if !seen[s.key] {
				seen[s.key] = true
				missing = append(missing, s.key)
			}
			continue
		}
		info := v.(PodInfo)
		writePodInfo(arena, s, info)
	}
	return missing
}

func writePodInfo(arena *model.SourceBuffer, s lookupSite, info PodInfo) {
	set := func(name, val string) {
		if val == "" {
			return
		}
		s.tags.Set(arena.CopyString(name), arena.CopyString(val))
	}
	if s.isPeer {
		set("peerWorkloadName", info.WorkloadName)
		set("peerWorkloadKind", info.WorkloadKind)
		set("peerNamespace", info.Namespace)
		return
	}
	set("workloadName", info.WorkloadName)
	set("workloadKind", info.WorkloadKind)
	set("namespace", info.Namespace)
	set("serviceName", info.ServiceName)
	set("pid", info.Pid)
}

func (p *Processor) batchLookup(keys []string) (map[string]PodInfo, error) {
	if p.client == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	return p.client.BatchLookup(ctx, keys)
}
