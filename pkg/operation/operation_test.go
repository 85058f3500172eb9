package operation

import (
	"context"
	"errors"
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

// noTickConfig keeps the background heartbeat from interfering with a test
// that drives the record directly; an hour-long interval never fires
// within a test's lifetime.
var noTickConfig = Config{HeartbeatInterval: time.Hour, HeartbeatJitter: time.Millisecond, StalenessThreshold: 10 * time.Second}

func newTestOperation(t *testing.T, st *store.Store, opID, participantID string, isInitiator bool) *Operation {
	t.Helper()
	now := time.Now()
	if isInitiator {
		_, err := st.CreateInitial(&types.OperationRecord{
			OperationID:   opID,
			Status:        types.StatusRunning,
			StartTime:     now,
			LastHeartbeat: now,
			Participants:  []types.Participant{{ParticipantID: participantID, PID: 100, LastSeen: now}},
			CallFrames:    []types.CallFrame{{ParticipantID: participantID, CallID: "root", PID: 100, StartTime: now, State: types.FrameActive}},
		})
		require.NoError(t, err)
	}
	op := New(Deps{
		Store: st, OperationID: opID, ParticipantID: participantID, PID: 100, SessionID: 1,
		IsInitiator: isInitiator, Config: noTickConfig,
	})
	t.Cleanup(func() { op.hb.Stop() })
	return op
}

func TestCreateAndDeleteCallFrame(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-1", "p1", true)

	require.NoError(t, op.CreateCallFrame("c1", "desc", "", ""))
	rec, err := st.Read("op-1")
	require.NoError(t, err)
	require.Equal(t, 2, len(rec.CallFrames))

	require.NoError(t, op.DeleteCallFrame("c1"))
	rec, err = st.Read("op-1")
	require.NoError(t, err)
	require.Equal(t, 1, len(rec.CallFrames))
}

func TestCreateCallFrameDuplicateRejected(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-2", "p1", true)
	require.NoError(t, op.CreateCallFrame("c1", "", "", ""))
	err := op.CreateCallFrame("c1", "", "", "")
	require.Error(t, err)
}

func TestCallEndDeletesFrameAndResolvesFuture(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-3", "p1", true)

	call, err := StartCall[int](op, CallOptions[int]{Description: "work"})
	require.NoError(t, err)

	require.NoError(t, call.End(42))

	outcome, ok := call.Future().Value()
	require.True(t, ok)
	require.Equal(t, 42, outcome.Result)
	require.NoError(t, outcome.Err)

	rec, err := st.Read("op-3")
	require.NoError(t, err)
	require.Equal(t, -1, rec.FindFrame(call.CallID()))
}

func TestCallFailSignalsOperationFailureWhenFailOnCrash(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-4", "p1", true)

	call, err := StartCall[int](op, CallOptions[int]{})
	require.NoError(t, err)

	require.NoError(t, call.Fail(errors.New("boom")))

	info, ok := op.OnFailure().Value()
	require.True(t, ok)
	require.Equal(t, "boom", info.Reason)
}

func TestCallFailIsolatedWhenFailOnCrashFalse(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-5", "p1", true)

	isolated := false
	call, err := StartCall[int](op, CallOptions[int]{FailOnCrash: &isolated})
	require.NoError(t, err)

	require.NoError(t, call.Fail(errors.New("boom")))
	require.False(t, op.OnFailure().IsResolved())
}

func TestSpawnCallSuccess(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-6", "p1", true)

	sc, err := SpawnCall[string](op, SpawnedCallOptions[string]{
		Work: func(ctx context.Context, call *SpawnedCall[string]) (string, error) {
			return "done", nil
		},
	})
	require.NoError(t, err)

	<-sc.Future().Done()
	require.True(t, sc.IsCompleted())
	require.True(t, sc.IsSuccess())
	result, ok := sc.Result()
	require.True(t, ok)
	require.Equal(t, "done", result)
}

func TestSpawnCallFailureWithFallback(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-7", "p1", true)

	sc, err := SpawnCall[int](op, SpawnedCallOptions[int]{
		Work: func(ctx context.Context, call *SpawnedCall[int]) (int, error) {
			return 0, errors.New("transient")
		},
		OnCallCrashed: func(err error) (int, bool) {
			return -1, true
		},
	})
	require.NoError(t, err)

	<-sc.Future().Done()
	require.True(t, sc.IsSuccess())
	result, _ := sc.Result()
	require.Equal(t, -1, result)
}

func TestSpawnCallFailureWithoutFallbackSignalsOperationFailure(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-8", "p1", true)

	sc, err := SpawnCall[int](op, SpawnedCallOptions[int]{
		Work: func(ctx context.Context, call *SpawnedCall[int]) (int, error) {
			return 0, errors.New("fatal")
		},
	})
	require.NoError(t, err)

	<-sc.Future().Done()
	require.False(t, sc.IsSuccess())
	require.Error(t, sc.Err())

	info, ok := op.OnFailure().Value()
	require.True(t, ok)
	require.Equal(t, "fatal", info.Reason)
}

func TestSpawnCallCancelObservedCooperatively(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-9", "p1", true)

	started := make(chan struct{})
	sc, err := SpawnCall[int](op, SpawnedCallOptions[int]{
		Work: func(ctx context.Context, call *SpawnedCall[int]) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		},
	})
	require.NoError(t, err)
	<-started
	sc.Cancel()

	<-sc.Future().Done()
	require.True(t, sc.IsCancelled())
}

func TestSyncAllSuccessful(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-10", "p1", true)

	calls := make([]*SpawnedCall[int], 3)
	for i := range calls {
		n := i
		sc, err := SpawnCall[int](op, SpawnedCallOptions[int]{
			Work: func(ctx context.Context, call *SpawnedCall[int]) (int, error) { return n, nil },
		})
		require.NoError(t, err)
		calls[i] = sc
	}

	result := Sync[int](op, calls, SyncOptions[int]{})
	require.False(t, result.OperationFailed)
	require.Len(t, result.Successful, 3)
	require.Empty(t, result.Failed)
}

func TestSyncOperationFailedShortCircuits(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-11", "p1", true)

	block := make(chan struct{})
	sc, err := SpawnCall[int](op, SpawnedCallOptions[int]{
		Work: func(ctx context.Context, call *SpawnedCall[int]) (int, error) {
			<-block
			return 0, nil
		},
	})
	require.NoError(t, err)

	go op.signalOperationFailed("manual failure", nil)

	result := Sync[int](op, []*SpawnedCall[int]{sc}, SyncOptions[int]{})
	require.True(t, result.OperationFailed)
	require.Len(t, result.Unknown, 1)
	close(block)
}

func TestLeaveFailsWithPendingCallsUnlessCancelled(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-12", "p1", true)

	_, err := StartCall[int](op, CallOptions[int]{})
	require.NoError(t, err)

	err = op.Leave(false)
	require.Error(t, err)

	err = op.Leave(true)
	require.NoError(t, err)
}

func TestCompleteRequiresNoNonInitiatorFrames(t *testing.T) {
	st := newTestStore(t)
	op := newTestOperation(t, st, "op-13", "initiator", true)

	require.NoError(t, op.CreateCallFrame("other", "", "", ""))
	// Simulate another participant's frame by writing directly.
	_, err := st.Modify("op-13", func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		rec.CallFrames[len(rec.CallFrames)-1].ParticipantID = "other-participant"
		return rec, nil
	})
	require.NoError(t, err)

	err = op.Complete()
	require.Error(t, err)

	require.NoError(t, op.DeleteCallFrame("other"))
	require.NoError(t, op.Complete())
}
