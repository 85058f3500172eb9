package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/operation"
	"github.com/tomledger/dpl/pkg/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	l, err := New(Config{
		Store: store.Config{BaseDir: dir, LockAcquireDeadline: 200 * time.Millisecond, LockRetryInterval: 10 * time.Millisecond},
		OperationConfig: operation.Config{
			HeartbeatInterval: time.Hour, HeartbeatJitter: time.Millisecond, StalenessThreshold: 10 * time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(l.Dispose)
	return l
}

func TestCreateOperationRegistersInitiatorSession(t *testing.T) {
	l := newTestLedger(t)
	op, err := l.CreateOperation("p1", 100, "a test operation")
	require.NoError(t, err)
	require.True(t, op.IsInitiator())
	require.Equal(t, 1, op.SessionID())

	rec, err := l.Store().Read(op.OperationID())
	require.NoError(t, err)
	require.Len(t, rec.Participants, 1)
	require.Len(t, rec.CallFrames, 1)
	require.Equal(t, "root", rec.CallFrames[0].CallID)
}

func TestJoinOperationAddsParticipantAndNewSession(t *testing.T) {
	l := newTestLedger(t)
	created, err := l.CreateOperation("initiator", 100, "")
	require.NoError(t, err)

	joined, err := l.JoinOperation(created.OperationID(), "joiner", 200)
	require.NoError(t, err)
	require.False(t, joined.IsInitiator())
	require.Equal(t, 2, joined.SessionID())

	rec, err := l.Store().Read(created.OperationID())
	require.NoError(t, err)
	require.Len(t, rec.Participants, 2)
}

func TestJoinOperationMissingFailsNotFound(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.JoinOperation("missing-op", "joiner", 1)
	require.Error(t, err)
	require.Equal(t, dplerr.OperationNotFound, dplerr.CodeOf(err))
}

func TestJoinOperationTerminalFailsNotFound(t *testing.T) {
	l := newTestLedger(t)
	created, err := l.CreateOperation("initiator", 100, "")
	require.NoError(t, err)
	require.NoError(t, created.Complete())

	_, err = l.JoinOperation(created.OperationID(), "joiner", 200)
	require.Error(t, err)
	require.Equal(t, dplerr.OperationNotFound, dplerr.CodeOf(err))
}

func TestOperationCountsByStatus(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.CreateOperation("p1", 100, "")
	require.NoError(t, err)
	_, err = l.CreateOperation("p2", 200, "")
	require.NoError(t, err)

	counts := l.OperationCountsByStatus()
	require.Equal(t, 2, counts["running"])
}

func TestDisposeStopsAllHandles(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.CreateOperation("p1", 100, "")
	require.NoError(t, err)

	l.Dispose()
	require.Empty(t, l.handles)
}
