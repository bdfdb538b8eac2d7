package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
)

// Checkpointer is the persistence collaborator boundary: an external store
// that accepts registry snapshots. The core never depends on a specific
// backend; it only hands records to this sink.
type Checkpointer interface {
	// Checkpoint persists one snapshot of the registry.
	Checkpoint(ctx context.Context, records []ModuleRecord) error
}

// FileCheckpointer writes snapshots as JSON to a single file, replacing the
// previous checkpoint atomically via a temp-file rename.
type FileCheckpointer struct {
	path string
}

// NewFileCheckpointer creates a checkpointer writing to the given path.
func NewFileCheckpointer(path string) *FileCheckpointer {
	return &FileCheckpointer{path: path}
}

// Checkpoint implements Checkpointer.
func (f *FileCheckpointer) Checkpoint(ctx context.Context, records []ModuleRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

// Load reads the last checkpoint back, for restore at startup. A missing
// file returns an empty slice, not an error.
func (f *FileCheckpointer) Load() ([]ModuleRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	var records []ModuleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding snapshot file: %w", err)
	}
	return records, nil
}

// SnapshotScheduler drives a Checkpointer on a cron schedule, taking a
// registry snapshot on each tick. Checkpoint failures are logged and the
// schedule continues; a failed checkpoint is never fatal.
type SnapshotScheduler struct {
	nexus    *Nexus
	sink     Checkpointer
	logger   Logger
	schedule string
	cron     *cron.Cron
	entryID  cron.EntryID
}

// NewSnapshotScheduler creates a scheduler that checkpoints the given nexus
// per the cron schedule expression (e.g. "@every 5m").
func NewSnapshotScheduler(n *Nexus, sink Checkpointer, logger Logger, schedule string) (*SnapshotScheduler, error) {
	if sink == nil {
		return nil, ErrCheckpointerNil
	}
	return &SnapshotScheduler{
		nexus:    n,
		sink:     sink,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}, nil
}

// Start registers the cron entry and begins the schedule.
func (s *SnapshotScheduler) Start() error {
	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.CheckpointNow(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.logger.Info("Snapshot scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight checkpoint to finish.
func (s *SnapshotScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Snapshot scheduler stopped")
}

// CheckpointNow takes and persists one snapshot immediately.
func (s *SnapshotScheduler) CheckpointNow(ctx context.Context) {
	records := s.nexus.Snapshot()
	if err := s.sink.Checkpoint(ctx, records); err != nil {
		s.logger.Error("Checkpoint failed", "records", len(records), "error", err)
		return
	}
	s.logger.Debug("Checkpoint written", "records", len(records))
	s.nexus.subject.emitEvent(ctx, EventTypeSnapshotTaken, "snapshot-scheduler", map[string]interface{}{
		"records": len(records),
	}, nil)
}
