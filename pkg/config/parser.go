// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type rawDocument struct {
	Enable     *bool                    `json:"enable" yaml:"enable"`
	Task       map[string]interface{}   `json:"task" yaml:"task"`
	Inputs     []map[string]interface{} `json:"inputs" yaml:"inputs"`
	Processors []map[string]interface{} `json:"processors" yaml:"processors"`
	Flushers   []map[string]interface{} `json:"flushers" yaml:"flushers"`
	Global     map[string]interface{}   `json:"global" yaml:"global"`
}

// parseDocument parses raw config bytes (JSON or YAML, per ext) into a
// Config, leaving Source/Path/Size/ModTime/Raw/CreateTime for the caller
// to fill in since those depend on where the bytes came from.
func parseDocument(name string, raw []byte, ext string) (Config, error) {
	var doc rawDocument
	switch strings.ToLower(ext) {
	case "json":
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Config{}, fmt.Errorf("config: parse %s as json: %w", name, err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return Config{}, fmt.Errorf("config: parse %s as yaml: %w", name, err)
		}
	default:
		return Config{}, fmt.Errorf("config: unrecognized extension %q for %s", ext, name)
	}

	cfg := Config{
		Name:       name,
		Enabled:    true,
		Inputs:     toPluginSpecs(doc.Inputs),
		Processors: toPluginSpecs(doc.Processors),
		Flushers:   toPluginSpecs(doc.Flushers),
		Global:     doc.Global,
	}
	if doc.Enable != nil {
		cfg.Enabled = *doc.Enable
	}
	if doc.Task != nil {
		cfg.Type = TypeTask
	} else {
		cfg.Type = TypePipeline
	}
	return cfg, nil
}

func toPluginSpecs(raw []map[string]interface{}) []PluginSpec {
	specs := make([]PluginSpec, 0, len(raw))
	for _, m := range raw {
		t, _ := m["Type"].(string)
		specs = append(specs, PluginSpec{Type: t, Options: m})
	}
	return specs
}
