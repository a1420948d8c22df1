// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package diskbuffer

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/loongcollector-go/pkg/diskbuffer/pb"
)

func newTestWriter(t *testing.T, fs afero.Fs, clk clock.Clock, cfg Config) *Writer {
	cfg.Dir = "/buffer"
	cfg.Key = []byte("0123456789abcdef")
	w, err := NewWriter(fs, clk, cfg, nil)
	require.NoError(t, err)
	return w
}

func TestWriterWritesHeaderOnFirstFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	w := newTestWriter(t, fs, clk, Config{})

	err := w.Write(WriteItem{Meta: pb.Meta{Logstore: "ls"}, Payload: []byte("payload")})
	require.NoError(t, err)

	files, err := w.listFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := afero.ReadFile(fs, files[0])
	require.NoError(t, err)
	assert.True(t, len(data) > headerLength)
	_, err = parseHeader(data[:headerLength])
	assert.NoError(t, err)
}

func TestWriterRotatesOnAge(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	w := newTestWriter(t, fs, clk, Config{FileAliveInterval: 10 * time.Second})

	require.NoError(t, w.Write(WriteItem{Meta: pb.Meta{Logstore: "ls"}, Payload: []byte("a")}))
	clk.Add(11 * time.Second)
	require.NoError(t, w.Write(WriteItem{Meta: pb.Meta{Logstore: "ls"}, Payload: []byte("b")}))

	files, err := w.listFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestWriterRotatesOnSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	w := newTestWriter(t, fs, clk, Config{LocalFileSize: int64(headerLength + 1)})

	require.NoError(t, w.Write(WriteItem{Meta: pb.Meta{Logstore: "ls"}, Payload: []byte("this payload is long enough to exceed the limit")}))
	require.NoError(t, w.Write(WriteItem{Meta: pb.Meta{Logstore: "ls"}, Payload: []byte("second")}))

	files, err := w.listFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestWriterEvictsOldestBeyondLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	w := newTestWriter(t, fs, clk, Config{FileAliveInterval: time.Second, NumBufferFiles: 2})

	for i := 0; i < 4; i++ {
		require.NoError(t, w.Write(WriteItem{Meta: pb.Meta{Logstore: "ls"}, Payload: []byte("x")}))
		clk.Add(2 * time.Second)
	}

	files, err := w.listFiles()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(files), 2)
}

func TestWriterShouldAccept(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	w := newTestWriter(t, fs, clk, Config{SecondaryLimit: 5})

	assert.True(t, w.ShouldAccept(4))
	assert.False(t, w.ShouldAccept(5))
}
