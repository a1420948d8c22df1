// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAddedWhenNotPreviouslySeen(t *testing.T) {
	c := Config{Name: "a", Enabled: true}
	assert.Equal(t, Added, classify(c, Config{}, false))
}

func TestClassifyUnchangedFileConfig(t *testing.T) {
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := Config{Name: "a", Enabled: true, Source: SourceFile, Size: 10, ModTime: mtime}
	cand := Config{Name: "a", Enabled: true, Source: SourceFile, Size: 10, ModTime: mtime}
	assert.Equal(t, Unchanged, classify(cand, prev, true))
}

func TestClassifyModifiedFileConfigOnSizeChange(t *testing.T) {
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := Config{Name: "a", Enabled: true, Source: SourceFile, Size: 10, ModTime: mtime}
	cand := Config{Name: "a", Enabled: true, Source: SourceFile, Size: 20, ModTime: mtime}
	assert.Equal(t, Modified, classify(cand, prev, true))
}

func TestClassifyModifiedInnerConfigOnContentChange(t *testing.T) {
	prev := Config{Name: "a", Enabled: true, Source: SourceInner, Raw: []byte("one")}
	cand := Config{Name: "a", Enabled: true, Source: SourceInner, Raw: []byte("two")}
	assert.Equal(t, Modified, classify(cand, prev, true))
}

func TestClassifyRemovedWhenDisabledButPreviouslySeen(t *testing.T) {
	prev := Config{Name: "a", Enabled: true}
	cand := Config{Name: "a", Enabled: false}
	assert.Equal(t, Removed, classify(cand, prev, true))
}

func TestClassifyUnchangedWhenDisabledAndNeverSeen(t *testing.T) {
	cand := Config{Name: "a", Enabled: false}
	assert.Equal(t, Unchanged, classify(cand, Config{}, false))
}

func TestArbitrateSingletonsOldestWins(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	diffs := []Diff{
		{Name: "late", Kind: Added, Config: Config{Name: "late", CreateTime: t1, SingletonInputs: []string{"input_file"}}},
		{Name: "early", Kind: Added, Config: Config{Name: "early", CreateTime: t0, SingletonInputs: []string{"input_file"}}},
	}
	out := arbitrateSingletons(diffs, map[string]bool{})

	var names []string
	for _, d := range out {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"early"}, names)
}

func TestArbitrateSingletonsAlreadyRunningLoserIsRemoved(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	diffs := []Diff{
		{Name: "new-winner", Kind: Added, Config: Config{Name: "new-winner", CreateTime: t0, SingletonInputs: []string{"input_file"}}},
		{Name: "old-loser", Kind: Unchanged, Config: Config{Name: "old-loser", CreateTime: t1, SingletonInputs: []string{"input_file"}}},
	}
	out := arbitrateSingletons(diffs, map[string]bool{"old-loser": true})

	byName := make(map[string]DiffKind)
	for _, d := range out {
		byName[d.Name] = d.Kind
	}
	assert.Equal(t, Added, byName["new-winner"])
	assert.Equal(t, Removed, byName["old-loser"])
}

func TestArbitrateSingletonsBrandNewLoserIsSkipped(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	diffs := []Diff{
		{Name: "winner", Kind: Added, Config: Config{Name: "winner", CreateTime: t0, SingletonInputs: []string{"input_file"}}},
		{Name: "new-loser", Kind: Added, Config: Config{Name: "new-loser", CreateTime: t1, SingletonInputs: []string{"input_file"}}},
	}
	out := arbitrateSingletons(diffs, map[string]bool{})

	var names []string
	for _, d := range out {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"winner"}, names)
}

func TestArbitrateSingletonsIgnoresUnrelatedConfigs(t *testing.T) {
	diffs := []Diff{
		{Name: "a", Kind: Added, Config: Config{Name: "a"}},
		{Name: "b", Kind: Modified, Config: Config{Name: "b"}},
	}
	out := arbitrateSingletons(diffs, map[string]bool{"b": true})
	assert.Len(t, out, 2)
}

func TestArbitrateSingletonsPassesThroughRemoved(t *testing.T) {
	diffs := []Diff{
		{Name: "gone", Kind: Removed, Config: Config{Name: "gone"}},
	}
	out := arbitrateSingletons(diffs, map[string]bool{"gone": true})
	assert.Len(t, out, 1)
	assert.Equal(t, Removed, out[0].Kind)
}
