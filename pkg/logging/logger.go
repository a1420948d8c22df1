// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package logging provides the structured logger every other package in
// this module accepts as a constructor argument, instead of reaching for a
// process-wide singleton.
package logging

import "github.com/sirupsen/logrus"

// Logger is the subset of logrus.FieldLogger used across the agent.
type Logger = logrus.FieldLogger

var std = logrus.StandardLogger()

// OrDefault returns l if non-nil, otherwise the package's default logger.
// Components take a Logger in their constructor and call this once so a
// nil logger never has to be special-cased at every call site.
func OrDefault(l Logger) Logger {
	if l == nil {
		return std
	}
	return l
}

// New builds a logger pre-populated with the given component name, the way
// the original's LOG_INFO(sLogger, ("component", name)) pairs tag every line.
func New(l Logger, component string) Logger {
	return OrDefault(l).WithField("component", component)
}

// SetLevel configures the package default logger's level. Intended for
// cmd/agent wiring only.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}
