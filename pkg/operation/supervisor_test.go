package operation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomledger/dpl/pkg/supervisorcb"
	"github.com/tomledger/dpl/pkg/types"
)

// TestSupervisedCrashDispatchesCallback exercises the supervised-crash
// scenario (SPEC_FULL.md §5 Scenario C, §4.5 Rule 3) in-process: a
// supervised frame's owner goes stale, and the supervising participant's
// own heartbeat tick must run the registered callback before the frame is
// removed. The supervisor callback registry is an in-process Go API with
// no CLI binding, so this scenario is covered here rather than by
// spawning subprocesses.
func TestSupervisedCrashDispatchesCallback(t *testing.T) {
	st := newTestStore(t)
	opID := "op-supervised"
	now := time.Now()

	_, err := st.CreateInitial(&types.OperationRecord{
		OperationID:   opID,
		Status:        types.StatusRunning,
		StartTime:     now,
		LastHeartbeat: now,
		Participants: []types.Participant{
			{ParticipantID: "supervisor", PID: 100, LastSeen: now},
			{ParticipantID: "worker", PID: 200, LastSeen: now.Add(-time.Hour)}, // already stale
		},
		CallFrames: []types.CallFrame{
			{ParticipantID: "supervisor", CallID: "root", PID: 100, StartTime: now, State: types.FrameActive},
			{
				ParticipantID: "worker", CallID: "supervised-work", PID: 200, StartTime: now,
				State: types.FrameActive, SupervisorID: "supervisor", SupervisorHandle: "handle-1",
			},
		},
	})
	require.NoError(t, err)

	registry := supervisorcb.NewRegistry()
	var mu sync.Mutex
	var dispatched []supervisorcb.CrashInfo
	registry.Register("handle-1", func(ctx context.Context, info supervisorcb.CrashInfo) error {
		mu.Lock()
		dispatched = append(dispatched, info)
		mu.Unlock()
		return nil
	})

	op := New(Deps{
		Store: st, OperationID: opID, ParticipantID: "supervisor", PID: 100, SessionID: 1,
		IsInitiator: true, Config: Config{
			HeartbeatInterval: time.Hour, HeartbeatJitter: time.Millisecond,
			StalenessThreshold: 10 * time.Millisecond,
		},
		SupervisorRegistry: registry,
	})
	t.Cleanup(func() { op.hb.Stop() })

	_, err = op.Tick(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 1)
	require.Equal(t, "handle-1", dispatched[0].SupervisorHandle)
	require.Len(t, dispatched[0].Frames, 1)
	require.Equal(t, "supervised-work", dispatched[0].Frames[0].CallID)

	rec, err := st.Read(opID)
	require.NoError(t, err)
	require.Equal(t, -1, rec.FindFrame("supervised-work"), "frame must be removed after the callback runs")
	require.Equal(t, -1, rec.FindParticipant("worker"), "stale worker must be reclaimed")
}
