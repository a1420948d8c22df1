// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package diskbuffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/zstd"
	"github.com/avast/retry-go/v4"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"

	"github.com/alibaba/loongcollector-go/pkg/diskbuffer/pb"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/sendresult"
)

// SendFunc synchronously attempts to push one replayed record to its
// destination, returning the outcome classification the decision table
// decides the record's fate from.
type SendFunc func(ctx context.Context, meta pb.Meta, payload []byte) sendresult.Result

// NetworkProbe reports whether the network is currently believed to be
// up, letting the replayer skip a sleep cycle once it recovers.
type NetworkProbe func() bool

// ReplayerConfig bundles the replayer's pacing policy.
type ReplayerConfig struct {
	Dir         string
	Key         []byte
	CheckPeriod time.Duration
	// DivideTime is the minimum file age (by embedded epoch) before a
	// file is eligible for replay, keeping the writer's still-open
	// current file untouched.
	DivideTime time.Duration
}

func (c ReplayerConfig) withDefaults() ReplayerConfig {
	if c.CheckPeriod <= 0 {
		c.CheckPeriod = 10 * time.Second
	}
	if c.DivideTime <= 0 {
		c.DivideTime = time.Minute
	}
	return c
}

// Replayer drains pending records once the network (or destination
// queue) recovers, running as a single-threaded state machine.
type Replayer struct {
	fs     afero.Fs
	clock  clock.Clock
	cfg    ReplayerConfig
	cipher *cipher
	probe  NetworkProbe
	send   SendFunc
	log    logging.Logger
}

// NewReplayer builds a Replayer. probe may be nil, in which case the
// replayer always assumes the network is reachable and relies solely on
// CheckPeriod pacing.
func NewReplayer(fs afero.Fs, clk clock.Clock, cfg ReplayerConfig, keyVersion int, probe NetworkProbe, send SendFunc, log logging.Logger) *Replayer {
	cfg = cfg.withDefaults()
	return &Replayer{
		fs:     fs,
		clock:  clk,
		cfg:    cfg,
		cipher: newCipher(cfg.Key, keyVersion),
		probe:  probe,
		send:   send,
		log:    logging.New(log, "diskbuffer.replayer"),
	}
}

// Run loops until ctx is canceled, sleeping between passes per
// CheckPeriod unless the network probe reports recovery sooner.
func (r *Replayer) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.cfg.CheckPeriod)
	defer ticker.Stop()
	for {
		if err := r.replayOnce(ctx); err != nil {
			r.log.Warnf("diskbuffer: replay pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayOnce performs one full enumerate-and-drain pass.
func (r *Replayer) replayOnce(ctx context.Context) error {
	if r.probe != nil && !r.probe() {
		return nil
	}
	files, err := r.eligibleFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := r.replayFile(ctx, path); err != nil {
			r.log.Warnf("diskbuffer: replay %s: %v", path, err)
			// network error on this file: stop the whole pass, retry
			// on the next tick rather than burning through more files
			// against a destination that is still down.
			return nil
		}
	}
	return nil
}

// eligibleFiles lists buffer files older than DivideTime, ascending.
func (r *Replayer) eligibleFiles() ([]string, error) {
	entries, err := afero.ReadDir(r.fs, r.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("diskbuffer: list dir: %w", err)
	}
	cutoff := r.clock.Now().Add(-r.cfg.DivideTime).Unix()
	type epochFile struct {
		epoch int64
		path  string
	}
	var files []epochFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), fileNamePrefix) {
			continue
		}
		epoch, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), fileNamePrefix), 10, 64)
		if err != nil || epoch > cutoff {
			continue
		}
		files = append(files, epochFile{epoch: epoch, path: filepath.Join(r.cfg.Dir, e.Name())})
	}
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j-1].epoch > files[j].epoch; j-- {
			files[j-1], files[j] = files[j], files[j-1]
		}
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// errDestinationUnreachable is what replayFile returns when a send hits a
// network error, so that replayOnce ends the pass there.
var errDestinationUnreachable = errors.New("diskbuffer: destination unreachable")

// replayFile reads path's records sequentially, sending each pending one
// and marking it handled in place. It deletes the file once no pending
// records remain. A network error aborts the remainder of the file,
// leaving unreached records pending for the next pass, and returns
// errDestinationUnreachable.
func (r *Replayer) replayFile(ctx context.Context, path string) error {
	f, err := r.fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(headerLength, io.SeekStart); err != nil {
		return fmt.Errorf("seek past header: %w", err)
	}

	for {
		metaOffset, _ := f.Seek(0, io.SeekCurrent)
		smBuf := make([]byte, stateMetaSize)
		n, err := io.ReadFull(f, smBuf)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return fmt.Errorf("read StateMeta: %w", err)
		}
		sm, err := unmarshalStateMeta(smBuf)
		if err != nil {
			return fmt.Errorf("decode StateMeta: %w", err)
		}

		metaBytes := make([]byte, sm.metaSize())
		if len(metaBytes) > 0 {
			if _, err := io.ReadFull(f, metaBytes); err != nil {
				return fmt.Errorf("read Meta: %w", err)
			}
		}
		encrypted := make([]byte, sm.EncryptionSize)
		if len(encrypted) > 0 {
			if _, err := io.ReadFull(f, encrypted); err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
		}

		if sm.Handled == handledSent {
			continue
		}

		var meta pb.Meta
		legacy := sm.legacy()
		if !legacy {
			if err := meta.Unmarshal(metaBytes); err != nil {
				return fmt.Errorf("decode Meta: %w", err)
			}
		}

		plaintext := r.cipher.decrypt(encrypted, int(sm.LogDataSize))
		switch {
		case legacy || !meta.HasLogstore():
			// old uncompressed LogGroup payload: re-compress with LZ4
			// before resend, matching the legacy compat path.
			recompressed, err := lz4Compress(plaintext)
			if err != nil {
				return fmt.Errorf("lz4 recompress legacy record: %w", err)
			}
			plaintext = recompressed
			meta.CompressType = 1
		case meta.CompressType == compressTypeZstd:
			decompressed, err := zstd.Decompress(nil, plaintext)
			if err != nil {
				return fmt.Errorf("zstd decompress record: %w", err)
			}
			plaintext = decompressed
		}

		result := r.sendWithRetry(ctx, meta, plaintext)
		if result == sendresult.NetworkError {
			// leave the record pending and stop; the file stays, to be
			// retried from this record on the next pass.
			return errDestinationUnreachable
		}

		sm.Handled = handledSent
		nextOffset := metaOffset + int64(stateMetaSize) + int64(len(metaBytes)) + int64(len(encrypted))
		if _, err := f.Seek(metaOffset, io.SeekStart); err != nil {
			return fmt.Errorf("seek back to mark handled: %w", err)
		}
		if _, err := f.Write(marshalStateMeta(sm)); err != nil {
			return fmt.Errorf("write handled flag: %w", err)
		}
		if _, err := f.Seek(nextOffset, io.SeekStart); err != nil {
			return fmt.Errorf("seek past record: %w", err)
		}
	}

	// the loop above only exits normally (reaching EOF) when every
	// record was either already handled or just got marked so; a
	// network error returns early instead, leaving the file in place.
	f.Close()
	if err := r.fs.Remove(path); err != nil {
		return fmt.Errorf("remove drained file: %w", err)
	}
	return nil
}

// sendWithRetry applies the bounded-immediate-retry policy of the
// unknown-error case: first retry immediate, then a handful of spaced
// retries, then give up and let the caller treat it as discardable.
func (r *Replayer) sendWithRetry(ctx context.Context, meta pb.Meta, payload []byte) sendresult.Result {
	var last sendresult.Result
	_ = retry.Do(
		func() error {
			last = r.send(ctx, meta, payload)
			if last.Terminal() {
				return nil
			}
			return fmt.Errorf("diskbuffer: send result %s", last)
		},
		retry.Attempts(5),
		retry.Context(ctx),
		retry.Delay(10*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	return last
}
