// Package cleanup implements the four independent, state-driven reclaim
// rules and the stack-aware frame removal algorithm of SPEC_FULL.md §4.5.
//
// Every function here is a pure mutation of a *types.OperationRecord: it
// takes a record (already read under the Store lock by the caller),
// mutates it in place, and reports what it changed. Nothing in this
// package touches the filesystem, the lock, or the network — pkg/store
// and pkg/heartbeat own the I/O and call into these functions between
// their read and their write, the same "ticking loop calls a pure
// reconcile step" shape as the teacher's node-staleness check.
package cleanup

import (
	"time"

	"github.com/tomledger/dpl/pkg/types"
)

// RemoveFrame implements the general stack-aware removal described in
// SPEC_FULL.md §4.5: removing callID also removes every consecutive
// FrameCrashed frame stacked above it (CallFrames is append-ordered, so
// "above" means later in the slice). If callID is not present, ok is
// false. If callID is present but is not at the top and at least one
// frame above it is not FrameCrashed, the removal is refused (ok=false)
// since a live frame above it cannot be unwound automatically.
func RemoveFrame(rec *types.OperationRecord, callID string) (removed []types.CallFrame, ok bool) {
	idx := rec.FindFrame(callID)
	if idx == -1 {
		return nil, false
	}
	for j := idx + 1; j < len(rec.CallFrames); j++ {
		if rec.CallFrames[j].State != types.FrameCrashed {
			return nil, false
		}
	}
	removed = append([]types.CallFrame(nil), rec.CallFrames[idx:]...)
	rec.CallFrames = append(rec.CallFrames[:idx:idx], rec.CallFrames[len(rec.CallFrames):]...)
	return removed, true
}

// SweepCrashedTop pops every contiguous FrameCrashed frame currently at
// the top of the stack. This is the mechanic the heartbeat engine uses
// after Rules 2/3/4 mark frames crashed: it only ever removes tombstones
// that have reached the top, leaving interior tombstones in place until
// an explicit RemoveFrame (driven by the surviving caller unwinding
// through them, Scenario D) or a later sweep clears the frames above.
func SweepCrashedTop(rec *types.OperationRecord) []types.CallFrame {
	var removed []types.CallFrame
	for len(rec.CallFrames) > 0 {
		top := rec.CallFrames[len(rec.CallFrames)-1]
		if top.State != types.FrameCrashed {
			break
		}
		removed = append(removed, top)
		rec.CallFrames = rec.CallFrames[:len(rec.CallFrames)-1]
	}
	return removed
}

// StaleParticipants returns the ParticipantIDs whose LastSeen age exceeds
// threshold as of now.
func StaleParticipants(rec *types.OperationRecord, now time.Time, threshold time.Duration) []string {
	var stale []string
	for _, p := range rec.Participants {
		if now.Sub(p.LastSeen) > threshold {
			stale = append(stale, p.ParticipantID)
		}
	}
	return stale
}

// RuleOutcome summarizes what Rule2And4 changed, for logging/metrics and
// for the heartbeat engine's HeartbeatResult.
type RuleOutcome struct {
	RemovedParticipants []string
	CrashedFrames       []types.CallFrame // marked crashed, awaiting a supervisor (rule 3) or already swept
	SweptFrames         []types.CallFrame // removed immediately by the top-of-stack sweep
	OrphanedResources   []string          // temp resource paths marked Orphaned
}

// Rule2And4 applies SPEC_FULL.md Rule 2 (unsupervised reclaim) and Rule 4
// (dead supervisor) for the given stale participant IDs, observed by the
// current heartbeat tick. For each stale participant:
//   - every active frame it owns is marked crashed, whether supervised or
//     not — a dead owner always tombstones its frame;
//   - any frame anywhere in the record that names this participant as
//     SupervisorID is also marked crashed regardless of who owns it,
//     since its supervisor is dead and will never come back to run
//     onCallCrashed for it (Rule 4);
//   - its participant entry is removed;
//   - its temp resources are marked Orphaned.
//
// Only tombstones that are immediately reclaimable are swept from the top
// of the stack in the same pass: frames with no SupervisorID, or whose
// supervisor is itself stale this tick (Rule 4). A tombstone whose
// SupervisorID names a live participant is left in place — it belongs to
// Rule 3, which must run that supervisor's onCallCrashed callback before
// the frame is removed, so Rule2And4 must never sweep it out from under
// that handshake.
func Rule2And4(rec *types.OperationRecord, staleIDs []string) RuleOutcome {
	var out RuleOutcome
	staleSet := make(map[string]bool, len(staleIDs))
	for _, id := range staleIDs {
		staleSet[id] = true
	}
	if len(staleSet) == 0 {
		return out
	}

	for i := range rec.CallFrames {
		f := &rec.CallFrames[i]
		if f.State != types.FrameActive {
			continue
		}
		ownerStale := staleSet[f.ParticipantID]
		supervisorDead := f.SupervisorID != "" && staleSet[f.SupervisorID]
		if ownerStale || supervisorDead {
			f.State = types.FrameCrashed
			out.CrashedFrames = append(out.CrashedFrames, *f)
		}
	}

	kept := rec.Participants[:0:0]
	for _, p := range rec.Participants {
		if staleSet[p.ParticipantID] {
			out.RemovedParticipants = append(out.RemovedParticipants, p.ParticipantID)
			continue
		}
		kept = append(kept, p)
	}
	rec.Participants = kept

	// Temp resources are owned by PID, not ParticipantID, and the
	// Participant rows are gone by the time we get here; the caller
	// (pkg/heartbeat) orphans them separately via OrphanTempResourcesByPID
	// using the PIDs it captured before calling this function.

	for len(rec.CallFrames) > 0 {
		top := rec.CallFrames[len(rec.CallFrames)-1]
		if top.State != types.FrameCrashed {
			break
		}
		if top.SupervisorID != "" && !staleSet[top.SupervisorID] {
			break // awaiting Rule 3's onCallCrashed handshake
		}
		out.SweptFrames = append(out.SweptFrames, top)
		rec.CallFrames = rec.CallFrames[:len(rec.CallFrames)-1]
	}
	return out
}

// OrphanTempResourcesByPID marks every TempResource owned by one of pids
// as Orphaned and returns their paths. Called by pkg/heartbeat alongside
// Rule2And4, using the PIDs captured from the Participant rows before
// they were removed.
func OrphanTempResourcesByPID(rec *types.OperationRecord, pids map[int]bool) []string {
	var orphaned []string
	for i := range rec.TempResources {
		r := &rec.TempResources[i]
		if r.Orphaned || !pids[r.OwnerPID] {
			continue
		}
		r.Orphaned = true
		orphaned = append(orphaned, r.Path)
	}
	return orphaned
}

// Rule3CrashedForSupervisor returns every FrameCrashed frame whose
// SupervisorID matches supervisorParticipantID. The heartbeat engine
// invokes this on the supervisor's own tick; SPEC_FULL.md §4.5 requires
// the supervisor's onCallCrashed callback to run before the frames are
// removed, so callers must invoke the callback on the returned slice and
// only then call RemoveFrame (or SweepCrashedTop) to clear them.
func Rule3CrashedForSupervisor(rec *types.OperationRecord, supervisorParticipantID string) []types.CallFrame {
	var found []types.CallFrame
	for _, f := range rec.CallFrames {
		if f.State == types.FrameCrashed && f.SupervisorID == supervisorParticipantID {
			found = append(found, f)
		}
	}
	return found
}

// Rule1OwnFrames returns the active frames currently owned by
// participantID. The Operation handle that observes Status==StatusCleanup
// on its own heartbeat calls this, fires onCleanup for each returned
// frame locally, then removes them (MarkAndRemoveOwn) in the same write.
func Rule1OwnFrames(rec *types.OperationRecord, participantID string) []types.CallFrame {
	var mine []types.CallFrame
	for _, f := range rec.CallFrames {
		if f.ParticipantID == participantID && f.State == types.FrameActive {
			mine = append(mine, f)
		}
	}
	return mine
}

// MarkAndRemoveOwn marks every active frame owned by participantID as
// crashed (tombstoning them so cascading removal respects frames other
// sessions have stacked above) and then sweeps whatever reached the top.
func MarkAndRemoveOwn(rec *types.OperationRecord, participantID string) []types.CallFrame {
	for i := range rec.CallFrames {
		f := &rec.CallFrames[i]
		if f.ParticipantID == participantID && f.State == types.FrameActive {
			f.State = types.FrameCrashed
		}
	}
	return SweepCrashedTop(rec)
}

// TransitionStatus applies SPEC_FULL.md §4.5's "Cleanup status
// transitions": a dirty-but-nonempty frame set moves Status to
// StatusCleanup; an empty frame set while in StatusCleanup moves to
// StatusFailed; once Status is terminal (completed or failed),
// TerminalTickCount increments on every subsequent call, and archiveDue
// becomes true once it reaches 3 (§9 "third heartbeat after terminal
// status").
func TransitionStatus(rec *types.OperationRecord, frameSetDirtiedThisTick bool) (archiveDue bool) {
	switch rec.Status {
	case types.StatusRunning:
		if frameSetDirtiedThisTick && len(rec.CallFrames) > 0 {
			rec.Status = types.StatusCleanup
		}
	case types.StatusCleanup:
		if len(rec.CallFrames) == 0 {
			rec.Status = types.StatusFailed
			rec.TerminalTickCount = 0
		}
	case types.StatusCompleted, types.StatusFailed:
		rec.TerminalTickCount++
		if rec.TerminalTickCount >= 3 {
			archiveDue = true
		}
	}
	return archiveDue
}
