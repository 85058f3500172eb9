package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := New(Config{BaseDir: dir, LockAcquireDeadline: 200 * time.Millisecond, LockRetryInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	return st
}

func sampleRecord(opID string) *types.OperationRecord {
	now := time.Now()
	return &types.OperationRecord{
		OperationID:   opID,
		Status:        types.StatusRunning,
		StartTime:     now,
		LastHeartbeat: now,
		CallFrames: []types.CallFrame{
			{ParticipantID: "initiator", CallID: "root", PID: 100, StartTime: now, State: types.FrameActive},
		},
		Participants: []types.Participant{
			{ParticipantID: "initiator", PID: 100, LastSeen: now},
		},
		SchemaVersion: 1,
	}
}

func TestCreateInitialAndRead(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-1")

	created, err := st.CreateInitial(rec)
	require.NoError(t, err)
	require.Equal(t, "op-1", created.OperationID)

	_, err = st.CreateInitial(rec)
	require.Error(t, err)

	got, err := st.Read("op-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, got.Status)
	require.Len(t, got.CallFrames, 1)
}

func TestReadNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Read("missing")
	require.Error(t, err)
	require.Equal(t, dplerr.OperationNotFound, dplerr.CodeOf(err))
}

func TestModifyWritesBackupBeforeWrite(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-2")
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	preBytes, err := os.ReadFile(st.operationPath("op-2"))
	require.NoError(t, err)

	_, err = st.Modify("op-2", func(r *types.OperationRecord) (*types.OperationRecord, error) {
		r.Description = "mutated"
		return r, nil
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(st.trailDir("op-2"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	backupBytes, err := os.ReadFile(filepath.Join(st.trailDir("op-2"), entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, preBytes, backupBytes)

	got, err := st.Read("op-2")
	require.NoError(t, err)
	require.Equal(t, "mutated", got.Description)
}

func TestModifyErrorLeavesLiveUnchanged(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-3")
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	_, err = st.Modify("op-3", func(r *types.OperationRecord) (*types.OperationRecord, error) {
		return nil, dplerr.New(dplerr.StateMismatch, "boom")
	})
	require.Error(t, err)

	got, err := st.Read("op-3")
	require.NoError(t, err)
	require.Equal(t, "", got.Description)
}

func TestRoundTripCreateDeleteFrame(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-4")
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	before, err := st.Read("op-4")
	require.NoError(t, err)

	_, err = st.Modify("op-4", func(r *types.OperationRecord) (*types.OperationRecord, error) {
		r.CallFrames = append(r.CallFrames, types.CallFrame{
			ParticipantID: "initiator", CallID: "c1", PID: 100, StartTime: time.Now(), State: types.FrameActive,
		})
		return r, nil
	})
	require.NoError(t, err)

	_, err = st.Modify("op-4", func(r *types.OperationRecord) (*types.OperationRecord, error) {
		idx := r.FindFrame("c1")
		require.GreaterOrEqual(t, idx, 0)
		r.CallFrames = append(r.CallFrames[:idx], r.CallFrames[idx+1:]...)
		return r, nil
	})
	require.NoError(t, err)

	after, err := st.Read("op-4")
	require.NoError(t, err)
	require.Equal(t, len(before.CallFrames), len(after.CallFrames))
}

func TestLockStaleReclaim(t *testing.T) {
	st := newTestStore(t)
	st.cfg.StaleLockThreshold = 20 * time.Millisecond
	rec := sampleRecord("op-5")
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(st.lockPath("op-5"), []byte("stale"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(st.lockPath("op-5"), old, old))

	got, err := st.Read("op-5")
	require.NoError(t, err)
	require.Equal(t, "op-5", got.OperationID)
}

func TestLockTimeout(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-6")
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(st.lockPath("op-6"), []byte("held"), 0o644))
	recent := time.Now()
	require.NoError(t, os.Chtimes(st.lockPath("op-6"), recent, recent))

	_, err = st.Read("op-6")
	require.Error(t, err)
	require.Equal(t, dplerr.LockTimeout, dplerr.CodeOf(err))
}

func TestArchiveAndPurge(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-7")
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)
	require.NoError(t, st.AppendLog("op-7", "operation completed", types.LogInfo))

	require.NoError(t, st.Archive(context.Background(), "op-7"))
	require.NoError(t, st.Purge("op-7"))

	_, err = st.Read("op-7")
	require.Error(t, err)
	require.Equal(t, dplerr.OperationNotFound, dplerr.CodeOf(err))

	entries, err := os.ReadDir(st.backupDir("op-7"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestArchiveDeletesOrphanedTempResources(t *testing.T) {
	st := newTestStore(t)
	rec := sampleRecord("op-8")

	survivorDir := t.TempDir()
	orphanDir := filepath.Join(t.TempDir(), "orphan")
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphanDir, "f"), []byte("x"), 0o644))

	rec.TempResources = []types.TempResource{
		{Path: survivorDir, OwnerPID: 100, RegisteredAt: time.Now()},
		{Path: orphanDir, OwnerPID: 200, RegisteredAt: time.Now(), Orphaned: true},
	}
	_, err := st.CreateInitial(rec)
	require.NoError(t, err)

	require.NoError(t, st.Archive(context.Background(), "op-8"))

	_, err = os.Stat(orphanDir)
	require.True(t, os.IsNotExist(err), "orphaned temp resource should be deleted on archive")
	_, err = os.Stat(survivorDir)
	require.NoError(t, err, "non-orphaned temp resource should survive archive")
}

func TestFormatElapsed(t *testing.T) {
	require.Equal(t, "000.000", FormatElapsed(0))
	require.Equal(t, "001.500", FormatElapsed(1500*time.Millisecond))
	require.Equal(t, "123.045", FormatElapsed(123045*time.Millisecond))
	require.Equal(t, "000.000", FormatElapsed(-time.Second))
}
