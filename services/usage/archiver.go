package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when an archived object does not exist
	ErrNotFound = errors.New("archive object not found")

	// ErrInvalidPath is returned for paths outside the records tree
	ErrInvalidPath = errors.New("invalid archive path")
)

const recordsPrefix = "records/"

// Snapshotter supplies the stats written alongside each flushed batch
type Snapshotter interface {
	Snapshot() Stats
}

// ArchiverConfig holds configuration for the Archiver
type ArchiverConfig struct {
	BufferSize    int           // Size of the record buffer channel
	FlushInterval time.Duration // How often buffered records are written
	WriteTimeout  time.Duration // Bound on a single storage write
}

// DefaultArchiverConfig returns the default configuration
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BufferSize:    10000,
		FlushInterval: time.Minute,
		WriteTimeout:  10 * time.Second,
	}
}

// ArchiverStats reports the archiver state
type ArchiverStats struct {
	BufferSize     int   `json:"bufferSize"`
	PendingRecords int   `json:"pendingRecords"`
	Dropped        int64 `json:"dropped"`
	Flushes        int64 `json:"flushes"`
	FailedWrites   int64 `json:"failedWrites"`
	Started        bool  `json:"started"`
}

// Archiver batches usage records in the background and periodically writes
// them, with a stats snapshot, to an archive Storage
type Archiver struct {
	storage  Storage
	snapshot Snapshotter
	logger   *zap.Logger
	config   ArchiverConfig
	records  chan UsageRecord
	now      func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
	dropped int64
	flushes int64
	failed  int64
}

// NewArchiver creates an Archiver. snapshot may be nil.
func NewArchiver(storage Storage, snapshot Snapshotter, logger *zap.Logger, config ArchiverConfig) *Archiver {
	defaults := DefaultArchiverConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	return &Archiver{
		storage:  storage,
		snapshot: snapshot,
		logger:   logger,
		config:   config,
		records:  make(chan UsageRecord, config.BufferSize),
		now:      time.Now,
	}
}

// Start starts the background worker
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("usage archiver already started")
	}

	a.wg.Add(1)
	go a.worker()

	a.started = true
	a.logger.Info("started usage archiver",
		zap.Int("buffer_size", a.config.BufferSize),
		zap.Duration("flush_interval", a.config.FlushInterval))
	return nil
}

// Stop flushes pending records and stops the worker
func (a *Archiver) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("usage archiver not running")
	}
	a.stopped = true
	close(a.records)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("usage archiver stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("usage archiver stop timeout after %v", timeout)
	}
}

// Record implements Sink. It never blocks: records are dropped when the
// buffer is full or the archiver is not running.
func (a *Archiver) Record(rec UsageRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.stopped {
		a.dropped++
		return
	}

	select {
	case a.records <- rec:
	default:
		a.dropped++
		a.logger.Warn("usage archive buffer full, dropping record",
			zap.String("provider", rec.Provider),
			zap.String("request_id", rec.RequestID))
	}
}

// Stats returns the archiver state
func (a *Archiver) Stats() ArchiverStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return ArchiverStats{
		BufferSize:     a.config.BufferSize,
		PendingRecords: len(a.records),
		Dropped:        a.dropped,
		Flushes:        a.flushes,
		FailedWrites:   a.failed,
		Started:        a.started && !a.stopped,
	}
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	var batch []UsageRecord
	for {
		select {
		case rec, ok := <-a.records:
			if !ok {
				if lost := a.flush(batch); len(lost) > 0 {
					a.drop(len(lost))
					a.logger.Error("usage records lost on shutdown", zap.Int("records", len(lost)))
				}
				return
			}
			batch = append(batch, rec)
		case <-ticker.C:
			batch = a.flush(batch)
		}
	}
}

// flush writes the batch as JSON lines plus the current snapshot. It returns
// the records still waiting for a successful write.
func (a *Archiver) flush(batch []UsageRecord) []UsageRecord {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.config.WriteTimeout)
	defer cancel()

	ts := a.now().UTC()
	stamp := ts.Format("20060102T150405.000000000Z")

	if err := a.storage.Write(ctx, recordsPath(ts, stamp), encodeLines(batch)); err != nil {
		a.mu.Lock()
		a.failed++
		a.mu.Unlock()
		a.logger.Error("failed to archive usage records, retrying next flush",
			zap.Int("records", len(batch)), zap.Error(err))
		return a.retain(batch)
	}

	if a.snapshot != nil {
		data, err := json.Marshal(a.snapshot.Snapshot())
		if err == nil {
			err = a.storage.Write(ctx, "snapshots/"+stamp+".json", data)
		}
		if err != nil {
			a.logger.Error("failed to archive usage snapshot", zap.Error(err))
		}
	}

	a.mu.Lock()
	a.flushes++
	a.mu.Unlock()
	a.logger.Debug("archived usage records", zap.Int("records", len(batch)))
	return nil
}

// retain keeps at most BufferSize of the newest unwritten records
func (a *Archiver) retain(batch []UsageRecord) []UsageRecord {
	over := len(batch) - a.config.BufferSize
	if over <= 0 {
		return batch
	}
	a.drop(over)
	a.logger.Warn("usage archive backlog full, dropping oldest records", zap.Int("records", over))
	return slices.Clone(batch[over:])
}

func (a *Archiver) drop(n int) {
	a.mu.Lock()
	a.dropped += int64(n)
	a.mu.Unlock()
}

// Batches lists the archived record files, oldest first
func (a *Archiver) Batches(ctx context.Context) ([]string, error) {
	paths, err := a.storage.List(ctx, recordsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list archived batches: %w", err)
	}
	return paths, nil
}

// Batch reads one archived record file listed by Batches
func (a *Archiver) Batch(ctx context.Context, p string) ([]UsageRecord, error) {
	if !strings.HasPrefix(p, recordsPrefix) || !strings.HasSuffix(p, ".jsonl") || path.Clean(p) != p {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return ReadRecords(ctx, a.storage, p)
}

func recordsPath(ts time.Time, stamp string) string {
	return fmt.Sprintf("%s%s/%s.jsonl", recordsPrefix, ts.Format("2006/01/02"), stamp)
}

func encodeLines(batch []UsageRecord) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range batch {
		// UsageRecord has no unmarshalable fields
		_ = enc.Encode(rec)
	}
	return buf.Bytes()
}

// ReadRecords decodes an archived JSON lines file
func ReadRecords(ctx context.Context, storage Storage, path string) ([]UsageRecord, error) {
	data, err := storage.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var out []UsageRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec UsageRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
