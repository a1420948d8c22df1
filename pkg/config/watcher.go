// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"

	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/logging"
)

var recognizedExts = map[string]bool{"json": true, "yaml": true, "yml": true}

// Watcher implements the config-diff subsystem's per-tick diff/apply
// cycle over one or more source directories plus a fixed set of inline
// inner configs.
type Watcher struct {
	fs              afero.Fs
	clock           clock.Clock
	dirs            []string
	inner           []InnerConfig
	singletonInputs map[string]bool
	log             logging.Logger
	alarms          *alarm.Manager

	current    map[string]Config
	createTime map[string]time.Time
}

// New builds a Watcher. singletonInputs names the plugin Type values
// that are declared global singletons.
func New(fs afero.Fs, clk clock.Clock, dirs []string, inner []InnerConfig, singletonInputs []string, alarms *alarm.Manager, log logging.Logger) *Watcher {
	s := make(map[string]bool, len(singletonInputs))
	for _, name := range singletonInputs {
		s[name] = true
	}
	return &Watcher{
		fs:              fs,
		clock:           clk,
		dirs:            dirs,
		inner:           inner,
		singletonInputs: s,
		alarms:          alarms,
		log:             logging.New(log, "config.watcher"),
		current:         make(map[string]Config),
		createTime:      make(map[string]time.Time),
	}
}

// Tick runs one full cycle: gather candidates, parse, classify, arbitrate
// singletons, and return the pipeline and task diffs separately. Parse
// failures never disturb a running config — the bad candidate is logged,
// alarmed, and skipped; its previous state (if any) is preserved as-is.
func (w *Watcher) Tick() (pipelineDiffs []Diff, taskDiffs []Diff, err error) {
	candidates, failed, err := w.gather()
	if err != nil {
		return nil, nil, err
	}

	wasSeen := make(map[string]bool, len(w.current))
	for name := range w.current {
		wasSeen[name] = true
	}

	var diffs []Diff
	seenThisTick := make(map[string]bool)
	for _, c := range candidates {
		seenThisTick[c.Name] = true
		prev, ok := w.current[c.Name]
		kind := classify(c, prev, ok)
		diffs = append(diffs, Diff{Name: c.Name, Kind: kind, Config: c})
	}
	// A name present on disk/inline this tick but that failed to parse is
	// neither a candidate nor genuinely gone — the currently-running config
	// (if any) must keep serving, so it is excluded from the removal sweep
	// below without producing a diff entry of its own.
	for name := range failed {
		seenThisTick[name] = true
	}
	// anything previously running but absent from this tick's candidates
	// (file deleted, inner config dropped from the binary) is Removed.
	for name, prev := range w.current {
		if !seenThisTick[name] {
			diffs = append(diffs, Diff{Name: name, Kind: Removed, Config: prev})
		}
	}

	diffs = arbitrateSingletons(diffs, wasSeen)

	for _, d := range diffs {
		switch d.Kind {
		case Removed:
			delete(w.current, d.Name)
		default:
			w.current[d.Name] = d.Config
		}
	}

	for _, d := range diffs {
		if d.Config.Type == TypeTask {
			taskDiffs = append(taskDiffs, d)
		} else {
			pipelineDiffs = append(pipelineDiffs, d)
		}
	}
	return pipelineDiffs, taskDiffs, nil
}

// gather computes the union of inner configs and regular files in the
// source directories with a recognized extension.
func (w *Watcher) gather() ([]Config, map[string]bool, error) {
	var out []Config
	failed := make(map[string]bool)

	for _, ic := range w.inner {
		cfg, err := parseDocument(ic.Name, ic.Data, ic.Ext)
		if err != nil {
			w.alarmParseFail(ic.Name, err)
			failed[ic.Name] = true
			continue
		}
		cfg.Source = SourceInner
		cfg.Raw = ic.Data
		cfg.CreateTime = w.createTimeFor(ic.Name)
		cfg.SingletonInputs = w.declaredSingletons(cfg)
		out = append(out, cfg)
	}

	for _, dir := range w.dirs {
		entries, err := afero.ReadDir(w.fs, dir)
		if err != nil {
			return nil, nil, fmt.Errorf("config: read dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
			if !recognizedExts[strings.ToLower(ext)] {
				continue
			}
			path := filepath.Join(dir, e.Name())
			name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			raw, err := afero.ReadFile(w.fs, path)
			if err != nil {
				w.alarmParseFail(path, err)
				failed[name] = true
				continue
			}
			cfg, err := parseDocument(name, raw, ext)
			if err != nil {
				w.alarmParseFail(path, err)
				failed[name] = true
				continue
			}
			cfg.Source = SourceFile
			cfg.Path = path
			cfg.Size = e.Size()
			cfg.ModTime = e.ModTime()
			cfg.CreateTime = w.createTimeFor(name)
			cfg.SingletonInputs = w.declaredSingletons(cfg)
			out = append(out, cfg)
		}
	}
	return out, failed, nil
}

// createTimeFor returns the wall-clock time a config name was first
// observed, used as the stable tiebreak singleton arbitration sorts on
// (the filesystem doesn't portably expose file creation time, so
// first-sight time stands in for it).
func (w *Watcher) createTimeFor(name string) time.Time {
	if t, ok := w.createTime[name]; ok {
		return t
	}
	t := w.clock.Now()
	w.createTime[name] = t
	return t
}

func (w *Watcher) declaredSingletons(cfg Config) []string {
	var out []string
	for _, in := range cfg.Inputs {
		if w.singletonInputs[in.Type] {
			out = append(out, in.Type)
		}
	}
	return out
}

func (w *Watcher) alarmParseFail(name string, err error) {
	w.log.Warnf("config: %s: %v", name, err)
	if w.alarms != nil {
		w.alarms.Send(alarm.ConfigAlarm, fmt.Sprintf("%s: %v", name, err), "", "", "")
	}
}
