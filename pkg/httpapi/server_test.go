package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomledger/dpl/pkg/ledger"
	"github.com/tomledger/dpl/pkg/operation"
	"github.com/tomledger/dpl/pkg/store"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(ledger.Config{
		Store: store.Config{BaseDir: t.TempDir(), LockAcquireDeadline: 200 * time.Millisecond, LockRetryInterval: 10 * time.Millisecond},
		OperationConfig: operation.Config{
			HeartbeatInterval: time.Hour, HeartbeatJitter: time.Millisecond, StalenessThreshold: 10 * time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(l.Dispose)
	return l
}

func newTestClient(t *testing.T, l *ledger.Ledger) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(l))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	c.sleep = func(time.Duration) {} // tests never need the real backoff delay
	return c
}

func TestHealth(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))
}

func TestCreateJoinHeartbeatAndState(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	created, err := c.CreateOperation(ctx, CreateOperationRequest{ParticipantID: "cli", ParticipantPID: 100})
	require.NoError(t, err)
	require.True(t, created.IsInitiator)
	require.Equal(t, 1, created.SessionID)

	joined, err := c.JoinOperation(ctx, JoinOperationRequest{OperationID: created.OperationID, ParticipantID: "worker", ParticipantPID: 200})
	require.NoError(t, err)
	require.False(t, joined.IsInitiator)
	require.Equal(t, 2, joined.SessionID)

	hb, err := c.Heartbeat(ctx, HeartbeatRequest{OperationID: created.OperationID, SessionID: created.SessionID})
	require.NoError(t, err)
	require.False(t, hb.IsStale)
	require.Equal(t, 1, hb.FrameCount)

	state, err := c.State(ctx, StateRequest{OperationID: created.OperationID})
	require.NoError(t, err)
	require.Len(t, state.Participants, 2)
	require.Len(t, state.CallFrames, 1)
}

func TestCallStartEndRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	created, err := c.CreateOperation(ctx, CreateOperationRequest{ParticipantID: "cli", ParticipantPID: 100})
	require.NoError(t, err)

	call, err := c.StartCall(ctx, CallStartRequest{OperationID: created.OperationID, SessionID: created.SessionID, Description: "do work"})
	require.NoError(t, err)
	require.NotEmpty(t, call.CallID)

	state, err := c.State(ctx, StateRequest{OperationID: created.OperationID})
	require.NoError(t, err)
	require.Len(t, state.CallFrames, 2)

	require.NoError(t, c.EndCall(ctx, CallEndRequest{OperationID: created.OperationID, SessionID: created.SessionID, CallID: call.CallID}))

	state, err = c.State(ctx, StateRequest{OperationID: created.OperationID})
	require.NoError(t, err)
	require.Len(t, state.CallFrames, 1)
}

func TestCallFailRemovesFrame(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	created, err := c.CreateOperation(ctx, CreateOperationRequest{ParticipantID: "cli", ParticipantPID: 100})
	require.NoError(t, err)

	call, err := c.StartCall(ctx, CallStartRequest{OperationID: created.OperationID, SessionID: created.SessionID})
	require.NoError(t, err)

	falseVal := false
	require.NoError(t, c.FailCall(ctx, CallFailRequest{
		OperationID: created.OperationID, SessionID: created.SessionID, CallID: call.CallID,
		Error: "boom", FailOnCrash: &falseVal,
	}))

	state, err := c.State(ctx, StateRequest{OperationID: created.OperationID})
	require.NoError(t, err)
	require.Len(t, state.CallFrames, 1)
}

func TestJoinUnknownOperationReturnsNotFound(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	_, err := c.JoinOperation(ctx, JoinOperationRequest{OperationID: "does-not-exist", ParticipantID: "worker", ParticipantPID: 1})
	require.Error(t, err)
}

func TestAbortPropagatesThroughHeartbeat(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	created, err := c.CreateOperation(ctx, CreateOperationRequest{ParticipantID: "cli", ParticipantPID: 100})
	require.NoError(t, err)

	require.NoError(t, c.Abort(ctx, AbortRequest{OperationID: created.OperationID, SessionID: created.SessionID, Value: true}))

	hb, err := c.Heartbeat(ctx, HeartbeatRequest{OperationID: created.OperationID, SessionID: created.SessionID})
	require.NoError(t, err)
	require.True(t, hb.AbortFlag)
}

func TestCompleteArchivesOperation(t *testing.T) {
	l := newTestLedger(t)
	c := newTestClient(t, l)
	ctx := context.Background()

	created, err := c.CreateOperation(ctx, CreateOperationRequest{ParticipantID: "cli", ParticipantPID: 100})
	require.NoError(t, err)

	require.NoError(t, c.Complete(ctx, CompleteRequest{OperationID: created.OperationID, SessionID: created.SessionID}))

	_, err = c.State(ctx, StateRequest{OperationID: created.OperationID})
	require.Error(t, err)
}
