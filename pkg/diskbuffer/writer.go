// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package diskbuffer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/zstd"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"

	"github.com/alibaba/loongcollector-go/pkg/diskbuffer/pb"
	"github.com/alibaba/loongcollector-go/pkg/logging"
)

// compressTypeZstd marks a record's on-disk payload as zstd-compressed at
// rest, distinct from the value 1 the replayer assigns in memory to a
// legacy record it has LZ4-recompressed for resend (the only other
// non-zero Meta.CompressType this module ever sets).
const compressTypeZstd = 2

const fileNamePrefix = "logtail_buffer_file_"

// WriteItem is one record handed to the writer: destination metadata plus
// the already-serialized (but not yet encrypted) payload.
type WriteItem struct {
	Meta    pb.Meta
	Payload []byte
}

// Config bundles the writer's rotation and eviction policy,
// defaults matching the documented feature-flag defaults.
type Config struct {
	Dir              string
	Key              []byte
	KeyVersion       int
	FileAliveInterval time.Duration
	LocalFileSize    int64
	NumBufferFiles   int
	SecondaryLimit   int
	// Compress zstd-compresses a record's payload before encryption,
	// shrinking the buffer footprint for destinations that were already
	// sent uncompressed bytes (the zstd codec pays for itself precisely
	// because disk records sit around far longer than an in-flight send).
	Compress bool
}

func (c Config) withDefaults() Config {
	if c.FileAliveInterval <= 0 {
		c.FileAliveInterval = 300 * time.Second
	}
	if c.LocalFileSize <= 0 {
		c.LocalFileSize = 20 * 1024 * 1024
	}
	if c.NumBufferFiles <= 0 {
		c.NumBufferFiles = 20
	}
	if c.SecondaryLimit <= 0 {
		c.SecondaryLimit = 20
	}
	return c
}

// Writer implements the Accept/Rotate/Evict state machine. It is
// safe for concurrent use; one Writer serves one destination's disk
// queue.
type Writer struct {
	fs     afero.Fs
	clock  clock.Clock
	cfg    Config
	cipher *cipher
	log    logging.Logger

	mu       sync.Mutex
	cur      afero.File
	curEpoch int64
	curSize  int64
}

// NewWriter creates the buffer directory if needed and returns a Writer.
func NewWriter(fs afero.Fs, clk clock.Clock, cfg Config, log logging.Logger) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskbuffer: create dir: %w", err)
	}
	return &Writer{
		fs:     fs,
		clock:  clk,
		cfg:    cfg,
		cipher: newCipher(cfg.Key, cfg.KeyVersion),
		log:    logging.New(log, "diskbuffer.writer"),
	}, nil
}

// ShouldAccept reports whether the writer should take ownership of one
// more item given the caller's current in-memory send-queue size — the
// Accept half of the state machine. The caller (the send scheduler)
// owns the actual queue; this only encodes the threshold policy.
func (w *Writer) ShouldAccept(currentQueueSize int) bool {
	return currentQueueSize < w.cfg.SecondaryLimit
}

// Write appends item as one record, rotating and evicting files as
// needed. It never overwrites the header and a record is fully written
// (StateMeta + Meta + Encrypted) before the call returns.
func (w *Writer) Write(item WriteItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return err
	}

	payload := item.Payload
	if w.cfg.Compress && item.Meta.CompressType == 0 {
		compressed, err := zstd.Compress(nil, payload)
		if err != nil {
			return fmt.Errorf("diskbuffer: zstd compress: %w", err)
		}
		payload = compressed
		item.Meta.CompressType = compressTypeZstd
	}

	metaBytes, err := item.Meta.Marshal()
	if err != nil {
		return fmt.Errorf("diskbuffer: marshal meta: %w", err)
	}
	encrypted, err := w.cipher.encrypt(payload)
	if err != nil {
		return fmt.Errorf("diskbuffer: encrypt: %w", err)
	}
	sm := stateMeta{
		EncodedInfoSize: base + int32(len(metaBytes)),
		LogDataSize:     int32(len(payload)),
		EncryptionSize:  int32(len(encrypted)),
		Timestamp:       int32(w.clock.Now().Unix()),
		Handled:         handledPending,
		RetryTimes:      0,
	}

	record := append(marshalStateMeta(sm), metaBytes...)
	record = append(record, encrypted...)
	n, err := w.cur.Write(record)
	if err != nil {
		return fmt.Errorf("diskbuffer: write record: %w", err)
	}
	w.curSize += int64(n)

	return w.evictIfNeeded()
}

func (w *Writer) rotateIfNeeded() error {
	now := w.clock.Now().Unix()
	needsRotate := w.cur == nil ||
		now-w.curEpoch > int64(w.cfg.FileAliveInterval/time.Second) ||
		w.curSize > w.cfg.LocalFileSize
	if !needsRotate {
		return nil
	}
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return fmt.Errorf("diskbuffer: close rotated file: %w", err)
		}
	}
	path := filepath.Join(w.cfg.Dir, fmt.Sprintf("%s%d", fileNamePrefix, now))
	// a size rotation within the same second would reuse the current
	// file's name; take the next free epoch instead of truncating it.
	for {
		exists, err := afero.Exists(w.fs, path)
		if err != nil {
			return fmt.Errorf("diskbuffer: stat %s: %w", path, err)
		}
		if !exists {
			break
		}
		now++
		path = filepath.Join(w.cfg.Dir, fmt.Sprintf("%s%d", fileNamePrefix, now))
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("diskbuffer: create %s: %w", path, err)
	}
	if _, err := f.Write(buildHeader(w.cfg.KeyVersion)); err != nil {
		return fmt.Errorf("diskbuffer: write header: %w", err)
	}
	w.cur = f
	w.curEpoch = now
	w.curSize = int64(headerLength)
	w.log.Infof("diskbuffer: rotated to %s", path)
	return nil
}

func (w *Writer) evictIfNeeded() error {
	files, err := w.listFiles()
	if err != nil {
		return err
	}
	for len(files) > w.cfg.NumBufferFiles {
		oldest := files[0]
		if oldest == filepath.Join(w.cfg.Dir, fmt.Sprintf("%s%d", fileNamePrefix, w.curEpoch)) {
			break
		}
		if err := w.fs.Remove(oldest); err != nil {
			return fmt.Errorf("diskbuffer: evict %s: %w", oldest, err)
		}
		w.log.Infof("diskbuffer: evicted %s", oldest)
		files = files[1:]
	}
	return nil
}

// listFiles returns buffer file paths sorted ascending by embedded epoch.
func (w *Writer) listFiles() ([]string, error) {
	entries, err := afero.ReadDir(w.fs, w.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("diskbuffer: list dir: %w", err)
	}
	type epochFile struct {
		epoch int64
		path  string
	}
	var files []epochFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), fileNamePrefix) {
			continue
		}
		epochStr := strings.TrimPrefix(e.Name(), fileNamePrefix)
		epoch, err := strconv.ParseInt(epochStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, epochFile{epoch: epoch, path: filepath.Join(w.cfg.Dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].epoch < files[j].epoch })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// Close flushes and closes the currently open file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.cur = nil
	return err
}
