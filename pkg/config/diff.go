// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import "sort"

// DiffKind classifies one config's change vs. the previously-applied
// state.
type DiffKind int

const (
	Unchanged DiffKind = iota
	Added
	Modified
	Removed
)

func (k DiffKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unchanged"
	}
}

// Diff is one config's classified change.
type Diff struct {
	Name   string
	Kind   DiffKind
	Config Config
}

// classify compares candidate against the previously-seen state (if
// any), by (size,mtime) for file-backed configs and content equality for
// inner configs. A config that has become disabled is
// classified Removed regardless of its content having changed.
func classify(candidate Config, previous Config, wasSeen bool) DiffKind {
	if !candidate.Enabled {
		if wasSeen {
			return Removed
		}
		return Unchanged
	}
	if !wasSeen {
		return Added
	}
	if unchanged(candidate, previous) {
		return Unchanged
	}
	return Modified
}

func unchanged(a, b Config) bool {
	if a.Source == SourceFile {
		return a.Size == b.Size && a.ModTime.Equal(b.ModTime)
	}
	return string(a.Raw) == string(b.Raw)
}

// arbitrateSingletons implements singleton-input arbitration: among active (post-classify,
// non-Removed) configs declaring the same singleton input type, only the
// one with the oldest CreateTime (then smallest Name) survives. Losers
// that were already running are demoted to Removed; losers that are
// brand new are dropped from the diff entirely (no entry at all), since
// they never got to start.
func arbitrateSingletons(diffs []Diff, wasSeen map[string]bool) []Diff {
	winners := make(map[string]string) // singleton input type -> winning config name

	active := make([]Diff, 0, len(diffs))
	for _, d := range diffs {
		if d.Kind != Removed {
			active = append(active, d)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		ci, cj := active[i].Config, active[j].Config
		if !ci.CreateTime.Equal(cj.CreateTime) {
			return ci.CreateTime.Before(cj.CreateTime)
		}
		return ci.Name < cj.Name
	})

	for _, d := range active {
		for _, singleton := range d.Config.SingletonInputs {
			if _, taken := winners[singleton]; !taken {
				winners[singleton] = d.Name
			}
		}
	}

	out := make([]Diff, 0, len(diffs))
	for _, d := range diffs {
		if d.Kind == Removed {
			out = append(out, d)
			continue
		}
		loserOf := ""
		for _, singleton := range d.Config.SingletonInputs {
			if winners[singleton] != d.Name {
				loserOf = singleton
				break
			}
		}
		if loserOf == "" {
			out = append(out, d)
			continue
		}
		if wasSeen[d.Name] {
			// an already-running config that just lost arbitration must
			// be torn down.
			out = append(out, Diff{Name: d.Name, Kind: Removed, Config: d.Config})
		}
		// a brand-new config that loses arbitration is simply skipped:
		// it never started, so there is nothing to diff.
	}
	return out
}
