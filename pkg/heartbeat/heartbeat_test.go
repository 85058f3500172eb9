package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomledger/dpl/pkg/store"
	"github.com/tomledger/dpl/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(store.Config{BaseDir: dir, LockAcquireDeadline: 200 * time.Millisecond, LockRetryInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	return st
}

func TestTickUpdatesLastHeartbeat(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().Add(-time.Minute)
	rec := &types.OperationRecord{
		OperationID:   "op-1",
		Status:        types.StatusRunning,
		StartTime:     now,
		LastHeartbeat: now,
		Participants:  []types.Participant{{ParticipantID: "p1", PID: 100, LastSeen: now}},
		CallFrames:    []types.CallFrame{{ParticipantID: "p1", CallID: "root", PID: 100, StartTime: now, State: types.FrameActive}},
	}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	e := New(Deps{Store: st, OperationID: "op-1", ParticipantID: "p1", StalenessThreshold: 10 * time.Second}, nil)
	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, result.NotFound)
	require.True(t, result.HeartbeatAgeMs >= 59000)

	got, err := st.Read("op-1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), got.LastHeartbeat, time.Second)
}

func TestTickReclaimsStaleUnsupervisedFrame(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	stale := now.Add(-time.Minute)
	rec := &types.OperationRecord{
		OperationID:   "op-2",
		Status:        types.StatusRunning,
		StartTime:     now,
		LastHeartbeat: now,
		Participants: []types.Participant{
			{ParticipantID: "self", PID: 1, LastSeen: now},
			{ParticipantID: "gone", PID: 2, LastSeen: stale},
		},
		CallFrames: []types.CallFrame{
			{ParticipantID: "gone", CallID: "c1", PID: 2, StartTime: now, State: types.FrameActive},
		},
		TempResources: []types.TempResource{
			{Path: "/tmp/x", OwnerPID: 2, RegisteredAt: now},
		},
	}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	e := New(Deps{Store: st, OperationID: "op-2", ParticipantID: "self", StalenessThreshold: 10 * time.Second}, nil)
	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"gone"}, result.StaleParticipants)

	got, err := st.Read("op-2")
	require.NoError(t, err)
	require.Len(t, got.CallFrames, 0, "crashed frame should have been swept from the top")
	require.Len(t, got.Participants, 1)
	require.Equal(t, "self", got.Participants[0].ParticipantID)
	require.True(t, got.TempResources[0].Orphaned)
	// The reclaimed frame was swept immediately, so no frames remained to
	// dirty a non-empty set; TransitionStatus only promotes Running->Cleanup
	// when dirtied frames are still present.
	require.Equal(t, types.StatusRunning, got.Status)
}

func TestTickInvokesOnCallCrashedBeforeRemoval(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	stale := now.Add(-time.Minute)
	rec := &types.OperationRecord{
		OperationID:   "op-3",
		Status:        types.StatusRunning,
		StartTime:     now,
		LastHeartbeat: now,
		Participants: []types.Participant{
			{ParticipantID: "supervisor", PID: 1, LastSeen: now},
			{ParticipantID: "worker", PID: 2, LastSeen: stale},
		},
		CallFrames: []types.CallFrame{
			{ParticipantID: "worker", CallID: "c1", PID: 2, StartTime: now, State: types.FrameActive, SupervisorID: "supervisor", SupervisorHandle: "h1"},
		},
	}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	var callbackFrames []types.CallFrame
	e := New(Deps{
		Store: st, OperationID: "op-3", ParticipantID: "supervisor", StalenessThreshold: 10 * time.Second,
		OnCallCrashed: func(handle string, crashed []types.CallFrame) {
			require.Equal(t, "h1", handle)
			callbackFrames = append(callbackFrames, crashed...)
		},
	}, nil)

	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, callbackFrames, 1)
	require.Equal(t, "c1", callbackFrames[0].CallID)
	require.Len(t, result.SupervisedCrashGroups, 1)

	got, err := st.Read("op-3")
	require.NoError(t, err)
	require.Len(t, got.CallFrames, 0)
}

func TestTickSelfCleanupFiresAndRemovesOwnFrames(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	rec := &types.OperationRecord{
		OperationID:   "op-4",
		Status:        types.StatusCleanup,
		StartTime:     now,
		LastHeartbeat: now,
		Participants:  []types.Participant{{ParticipantID: "p1", PID: 1, LastSeen: now}},
		CallFrames: []types.CallFrame{
			{ParticipantID: "p1", CallID: "c1", PID: 1, StartTime: now, State: types.FrameActive},
		},
	}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	e := New(Deps{Store: st, OperationID: "op-4", ParticipantID: "p1", StalenessThreshold: 10 * time.Second}, nil)
	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, result.SelfCleanupFrames, 1)

	got, err := st.Read("op-4")
	require.NoError(t, err)
	require.Len(t, got.CallFrames, 0)
	require.Equal(t, types.StatusFailed, got.Status)
}

func TestTickArchivesAfterThirdTerminalTick(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	rec := &types.OperationRecord{
		OperationID:   "op-5",
		Status:        types.StatusCompleted,
		StartTime:     now,
		LastHeartbeat: now,
		Participants:  []types.Participant{{ParticipantID: "p1", PID: 1, LastSeen: now}},
	}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	e := New(Deps{Store: st, OperationID: "op-5", ParticipantID: "p1", StalenessThreshold: 10 * time.Second}, nil)
	for i := 0; i < 2; i++ {
		result, err := e.Tick(context.Background())
		require.NoError(t, err)
		require.False(t, result.ArchiveDue)
	}
	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, result.ArchiveDue)

	_, err = st.Read("op-5")
	require.Error(t, err)
}

func TestTickOnMissingOperationReturnsNotFound(t *testing.T) {
	st := newTestStore(t)
	e := New(Deps{Store: st, OperationID: "missing", ParticipantID: "p1"}, nil)
	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, result.NotFound)
}

func TestEngineStartStopIdempotent(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	rec := &types.OperationRecord{OperationID: "op-6", Status: types.StatusRunning, StartTime: now, LastHeartbeat: now}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	e := New(Deps{Store: st, OperationID: "op-6", ParticipantID: "p1", Interval: 5 * time.Millisecond, Jitter: time.Millisecond}, func(Result) {})
	e.Start()
	e.Start()
	time.Sleep(20 * time.Millisecond)
	e.Stop()
	e.Stop()
}
