package nexus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNexusLifecycle(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, n.Start(ctx), ErrNexusAlreadyStarted)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, n.Stop(stopCtx))
	// Stop is idempotent.
	require.NoError(t, n.Stop(stopCtx))
}

func TestNexusOperationsBeforeStart(t *testing.T) {
	n, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = n.Register(ctx, "A", nil, nil)
	assert.ErrorIs(t, err, ErrNexusNotStarted)

	_, err = n.Send(ctx, NewMessage(MessageTypeDirect, "A", []string{"B"}, nil))
	assert.ErrorIs(t, err, ErrNexusNotStarted)
}

func TestNexusRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeoutSeconds = 5

	_, err := New(cfg, &mockLogger{})
	assert.ErrorIs(t, err, ErrConfigTimeoutTooLow)
}

func TestNexusDirectPingScenario(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", []ModuleCapability{"planning"}, nil)
	require.NoError(t, err)
	_, err = n.Register(ctx, "B", []ModuleCapability{"vision"}, nil)
	require.NoError(t, err)

	msg := NewMessage(MessageTypeDirect, "A", []string{"B"}, []byte(`{"cmd":"ping"}`))
	receipt, err := n.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, receipt.Delivered)

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := n.Receive(recvCtx, "B")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.JSONEq(t, `{"cmd":"ping"}`, string(got.Payload))

	// A second receive finds the queue empty and times out.
	recvCtx2, cancel2 := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel2()
	_, err = n.Receive(recvCtx2, "B")
	assert.ErrorIs(t, err, ErrReceiveTimeout)
}

func TestNexusDiscoveryScenario(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", []ModuleCapability{"vision"}, nil)
	require.NoError(t, err)
	_, err = n.Register(ctx, "B", []ModuleCapability{"vision"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, n.Discover("vision"))

	n.Deregister(ctx, "A")
	assert.Equal(t, []string{"B"}, n.Discover("vision"))
}

func TestNexusDeregisterClosesInbox(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", nil, nil)
	require.NoError(t, err)
	_, err = n.Register(ctx, "B", nil, nil)
	require.NoError(t, err)

	n.Deregister(ctx, "B")

	receipt, err := n.Send(ctx, NewMessage(MessageTypeDirect, "A", []string{"B"}, nil))
	assert.ErrorIs(t, err, ErrNoRecipients)
	require.NotNil(t, receipt)
	assert.Empty(t, receipt.Delivered)
}

func TestNexusHeartbeatMessageRefreshesSender(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", nil, nil)
	require.NoError(t, err)

	before, _ := n.GetModule("A")
	time.Sleep(2 * time.Millisecond)

	_, err = n.Send(ctx, NewMessage(MessageTypeHeartbeat, "A", nil, nil))
	require.NoError(t, err)

	after, _ := n.GetModule("A")
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
}

func TestNexusHeartbeatMessageFromUnknownSender(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Send(ctx, NewMessage(MessageTypeHeartbeat, "ghost", nil, nil))
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestNexusUsableAfterFailure(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", nil, nil)
	require.NoError(t, err)

	// A failed operation must not poison the facade.
	_, err = n.Register(ctx, "A", nil, nil)
	require.ErrorIs(t, err, ErrDuplicateModule)
	_, err = n.Send(ctx, NewMessage(MessageTypeDirect, "A", []string{"ghost"}, nil))
	require.ErrorIs(t, err, ErrNoRecipients)

	_, err = n.Register(ctx, "B", nil, nil)
	require.NoError(t, err)
	receipt, err := n.Send(ctx, NewMessage(MessageTypeDirect, "A", []string{"B"}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, receipt.Delivered)
}

func TestNexusSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", []ModuleCapability{"vision"}, nil)
	require.NoError(t, err)

	snapshot := n.Snapshot()

	n2, _, err := newTestNexus(ctx)
	require.NoError(t, err)
	defer n2.Stop(ctx)

	require.NoError(t, n2.Restore(ctx, snapshot))
	assert.Equal(t, []string{"A"}, n2.Discover("vision"))

	// Restored modules can receive immediately: inboxes were reopened.
	_, err = n2.Register(ctx, "B", nil, nil)
	require.NoError(t, err)
	receipt, err := n2.Send(ctx, NewMessage(MessageTypeDirect, "B", []string{"A"}, []byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, receipt.Delivered)
}

func TestNexusScanHeartbeats(t *testing.T) {
	ctx := context.Background()
	logger := &mockLogger{}
	n, err := New(testConfig(), logger)
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))
	defer n.Stop(ctx)

	_, err = n.Register(ctx, "A", nil, nil)
	require.NoError(t, err)

	// Backdate the clock the registry and monitor share.
	past := time.Now().Add(-time.Minute)
	n.registry.now = func() time.Time { return past }
	require.NoError(t, n.Heartbeat(ctx, "A"))
	n.registry.now = time.Now

	n.ScanHeartbeats(ctx)
	record, _ := n.GetModule("A")
	assert.Equal(t, ModuleStatusDegraded, record.Status)
}

func TestNexusStopReleasesBlockedReceivers(t *testing.T) {
	ctx := context.Background()
	n, _, err := newTestNexus(ctx)
	require.NoError(t, err)

	_, err = n.Register(ctx, "A", nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := n.Receive(context.Background(), "A")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, n.Stop(stopCtx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInboxClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked receiver not released by shutdown")
	}
}
