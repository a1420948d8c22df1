// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config is the config watcher (C11): it diffs pipeline/task
// definitions found across source directories and inline "inner"
// pipelines into Added/Modified/Removed/Unchanged sets, applying
// singleton-input arbitration across concurrently active configs.
package config

import "time"

// Type distinguishes a pipeline config from a task config, selected by
// the presence of a top-level "task" key.
type Type int

const (
	TypePipeline Type = iota
	TypeTask
)

// PluginSpec is one inputs/processors/flushers entry: a plugin type name
// plus its options, kept as a generic map since the plugin registry
// itself is out of scope here.
type PluginSpec struct {
	Type    string
	Options map[string]interface{}
}

// Source identifies where a Config came from, for diffing purposes.
type Source int

const (
	SourceFile Source = iota
	SourceInner
)

// Config is one parsed pipeline or task definition.
type Config struct {
	Name       string
	Type       Type
	Enabled    bool
	Inputs     []PluginSpec
	Processors []PluginSpec
	Flushers   []PluginSpec
	Global     map[string]interface{}

	Source Source
	// Path is set for SourceFile configs only.
	Path string
	// Size/ModTime back the (size,mtime) comparison used for
	// file-backed configs.
	Size    int64
	ModTime time.Time
	// Raw backs the content-equality comparison for inner configs.
	Raw []byte
	// CreateTime feeds singleton arbitration's "oldest create_time, then
	// smallest name" tiebreak.
	CreateTime time.Time

	// SingletonInputs lists the plugin Type names this config declares
	// that are registered as global singletons.
	SingletonInputs []string
}

// InnerConfig is one built-in pipeline supplied as inline JSON/YAML,
// rather than discovered from a source directory.
type InnerConfig struct {
	Name string
	Data []byte
	// Ext selects the parser ("json", "yaml", "yml").
	Ext string
}
