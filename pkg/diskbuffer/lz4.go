// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package diskbuffer

import (
	"bytes"

	"github.com/pierrec/lz4/v4"
)

// lz4Compress recompresses a legacy record's plaintext LogGroup bytes
// before resend, matching the legacy-compat path: records
// written before the pb-framed Meta layout stored their payload
// uncompressed.
func lz4Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
