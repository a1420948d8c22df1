// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package fatal centralizes the single handful of conditions that are
// classified as non-recoverable: arena allocation failure and disk
// full while writing a brand-new buffer file's header. Every other error
// in this module is propagated through a typed result, never a panic.
package fatal

import (
	"os"

	"github.com/alibaba/loongcollector-go/pkg/logging"
)

// exitFunc is swapped out in tests so Abort's side effect is observable
// without killing the test binary.
var exitFunc = os.Exit

// Abort logs msg at error level with fields, then terminates the process.
func Abort(log logging.Logger, msg string, fields map[string]interface{}) {
	logging.OrDefault(log).WithFields(fields).Error("fatal: " + msg)
	exitFunc(2)
}
