package nexus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCheckpointerRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	checkpointer := NewFileCheckpointer(path)

	records := []ModuleRecord{
		{
			ID:            "sensor-1",
			Capabilities:  []ModuleCapability{"vision"},
			Status:        ModuleStatusActive,
			LastHeartbeat: time.Now().UTC().Truncate(time.Second),
			RegisteredAt:  time.Now().UTC().Truncate(time.Second),
			Metadata:      map[string]string{"version": "1.0.0"},
		},
		{ID: "sensor-2", Status: ModuleStatusDeregistered},
	}
	require.NoError(t, checkpointer.Checkpoint(context.Background(), records))

	loaded, err := checkpointer.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, records[0].ID, loaded[0].ID)
	assert.Equal(t, records[0].Capabilities, loaded[0].Capabilities)
	assert.Equal(t, records[0].Metadata, loaded[0].Metadata)
	assert.Equal(t, ModuleStatusDeregistered, loaded[1].Status)
}

func TestFileCheckpointerReplacesPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	checkpointer := NewFileCheckpointer(path)

	require.NoError(t, checkpointer.Checkpoint(context.Background(), []ModuleRecord{{ID: "old", Status: ModuleStatusActive}}))
	require.NoError(t, checkpointer.Checkpoint(context.Background(), []ModuleRecord{{ID: "new", Status: ModuleStatusActive}}))

	loaded, err := checkpointer.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "new", loaded[0].ID)

	// No leftover temp files from the atomic writes.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileCheckpointerLoadMissingFile(t *testing.T) {
	checkpointer := NewFileCheckpointer(filepath.Join(t.TempDir(), "absent.json"))
	loaded, err := checkpointer.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileCheckpointerLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileCheckpointer(path).Load()
	assert.Error(t, err)
}

// recordingCheckpointer captures checkpointed snapshots in memory.
type recordingCheckpointer struct {
	mu        sync.Mutex
	snapshots [][]ModuleRecord
	err       error
}

func (r *recordingCheckpointer) Checkpoint(ctx context.Context, records []ModuleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.snapshots = append(r.snapshots, records)
	return nil
}

func (r *recordingCheckpointer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestSnapshotSchedulerCheckpointNow(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	observer := newTestEventObserver("checkpoint-watcher")
	require.NoError(t, n.Subject().RegisterObserver(observer, EventTypeSnapshotTaken))

	_, err = n.Register(ctx, "sensor-1", []ModuleCapability{"vision"}, nil)
	require.NoError(t, err)

	sink := &recordingCheckpointer{}
	scheduler, err := NewSnapshotScheduler(n, sink, &mockLogger{}, "@every 1h")
	require.NoError(t, err)

	scheduler.CheckpointNow(ctx)

	require.Equal(t, 1, sink.count())
	require.Len(t, sink.snapshots[0], 1)
	assert.Equal(t, "sensor-1", sink.snapshots[0][0].ID)
	assert.True(t, observer.waitForEvent(EventTypeSnapshotTaken, 1, time.Second))
}

func TestSnapshotSchedulerToleratesSinkFailure(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	observer := newTestEventObserver("checkpoint-watcher")
	require.NoError(t, n.Subject().RegisterObserver(observer, EventTypeSnapshotTaken))

	sink := &recordingCheckpointer{err: errors.New("disk on fire")}
	scheduler, err := NewSnapshotScheduler(n, sink, &mockLogger{}, "@every 1h")
	require.NoError(t, err)

	scheduler.CheckpointNow(ctx)

	assert.Equal(t, 0, sink.count())
	assert.Empty(t, observer.eventsOfType(EventTypeSnapshotTaken))
}

func TestSnapshotSchedulerRejectsNilSink(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = NewSnapshotScheduler(n, nil, &mockLogger{}, "@every 1h")
	assert.ErrorIs(t, err, ErrCheckpointerNil)
}

func TestSnapshotSchedulerRejectsBadSchedule(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	scheduler, err := NewSnapshotScheduler(n, &recordingCheckpointer{}, &mockLogger{}, "not a schedule")
	require.NoError(t, err)
	assert.Error(t, scheduler.Start())
}

func TestSnapshotSchedulerRunsOnSchedule(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	sink := &recordingCheckpointer{}
	scheduler, err := NewSnapshotScheduler(n, sink, &mockLogger{}, "@every 100ms")
	require.NoError(t, err)
	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 20*time.Millisecond)
}
