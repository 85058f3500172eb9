// Package heartbeat implements SPEC_FULL.md §4.4: the per-Operation
// ticking engine that writes lastHeartbeat, scans for stale participants,
// and applies the cleanup rules (pkg/cleanup) inside the same Store
// write that observed them.
package heartbeat

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomledger/dpl/pkg/cleanup"
	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/metrics"
	"github.com/tomledger/dpl/pkg/store"
	"github.com/tomledger/dpl/pkg/types"
)

// DefaultInterval, DefaultJitter, and DefaultStalenessThreshold are the
// SPEC_FULL.md §4.4 nominal values.
const (
	DefaultInterval           = 4500 * time.Millisecond
	DefaultJitter             = 500 * time.Millisecond
	DefaultStalenessThreshold = 10 * time.Second
)

// Result is returned to the invoking Operation after every tick, mirroring
// SPEC_FULL.md §4.4's HeartbeatResult.
type Result struct {
	AbortFlag            bool
	FrameCount           int
	TempResourceCount    int
	HeartbeatAgeMs        int64
	IsStale               bool
	Participants          []types.Participant
	StaleParticipants     []string
	NotFound              bool
	SelfCleanupFrames     []types.CallFrame // this tick's Rule 1 frames, removed already; fire onCleanup for each locally
	SupervisedCrashGroups []SupervisedCrashGroup
	ArchiveDue            bool
	Record                *types.OperationRecord
}

// SupervisedCrashGroup is one supervisor handle's set of newly-reclaimed
// crashed frames (Rule 3), delivered after OnCallCrashed has already run.
type SupervisedCrashGroup struct {
	SupervisorHandle string
	Frames           []types.CallFrame
}

// Deps configures one Operation's heartbeat engine.
type Deps struct {
	Store              *store.Store
	OperationID        string
	ParticipantID      string
	PID                int
	Interval           time.Duration
	Jitter             time.Duration
	StalenessThreshold time.Duration

	// OnCallCrashed is invoked synchronously, inside the Store.Modify
	// write, once per supervised crash group this participant owns as
	// supervisor (SPEC_FULL.md §4.5 Rule 3). It must not call back into
	// the Store for this operation — doing so would deadlock on the
	// advisory lock this tick already holds.
	OnCallCrashed func(supervisorHandle string, crashed []types.CallFrame)
}

func (d Deps) withDefaults() Deps {
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	if d.Jitter < 0 {
		d.Jitter = DefaultJitter
	}
	if d.StalenessThreshold <= 0 {
		d.StalenessThreshold = DefaultStalenessThreshold
	}
	return d
}

// Engine is one Operation's recurring heartbeat task.
type Engine struct {
	deps   Deps
	onTick func(Result)
	logger zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// New returns a stopped Engine; call Start to begin ticking.
func New(deps Deps, onTick func(Result)) *Engine {
	deps = deps.withDefaults()
	return &Engine{
		deps:   deps,
		onTick: onTick,
		logger: log.WithOperationID(deps.OperationID),
	}
}

// Start begins the recurring tick loop in a background goroutine. Calling
// Start more than once has no additional effect.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	stop := e.stopCh
	e.mu.Unlock()

	go e.run(stop)
}

// Stop cancels the timer idempotently (SPEC_FULL.md §4.4).
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.stopCh == nil {
		e.stopped = true
		return
	}
	e.stopped = true
	close(e.stopCh)
}

func (e *Engine) run(stop chan struct{}) {
	for {
		period := e.deps.Interval
		if e.deps.Jitter > 0 {
			period += time.Duration(rand.Int63n(int64(e.deps.Jitter)))
		}
		select {
		case <-time.After(period):
		case <-stop:
			return
		}

		result, err := e.Tick(context.Background())
		if err != nil {
			e.logger.Debug().Err(err).Msg("heartbeat tick failed")
			continue
		}
		if e.onTick != nil {
			e.onTick(result)
		}
	}
}

// Tick performs exactly one heartbeat cycle (SPEC_FULL.md §4.4 step list)
// and returns its outcome. Exported so callers (and tests) can drive a
// tick synchronously instead of waiting on the timer.
func (e *Engine) Tick(ctx context.Context) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatTickDuration)

	var result Result
	now := time.Now()

	next, err := e.deps.Store.Modify(e.deps.OperationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		before := rec.LastHeartbeat
		result.HeartbeatAgeMs = now.Sub(before).Milliseconds()
		result.IsStale = now.Sub(before) > e.deps.StalenessThreshold
		result.AbortFlag = rec.Aborted

		// Capture PIDs of participants about to be reclaimed so temp
		// resources can be orphaned once their Participant row is gone.
		staleIDs := excludeSelf(cleanup.StaleParticipants(rec, now, e.deps.StalenessThreshold), e.deps.ParticipantID)
		stalePIDs := make(map[int]bool, len(staleIDs))
		for _, id := range staleIDs {
			if idx := rec.FindParticipant(id); idx >= 0 {
				stalePIDs[rec.Participants[idx].PID] = true
			}
		}
		result.StaleParticipants = staleIDs

		dirtied := false
		if len(staleIDs) > 0 {
			outcome := cleanup.Rule2And4(rec, staleIDs)
			cleanup.OrphanTempResourcesByPID(rec, stalePIDs)
			metrics.HeartbeatStaleParticipantsTotal.Add(float64(len(staleIDs)))
			if len(outcome.CrashedFrames) > 0 || len(outcome.SweptFrames) > 0 {
				dirtied = true
				metrics.CleanupFramesReclaimedTotal.WithLabelValues("rule2_4").Add(float64(len(outcome.CrashedFrames)))
			}
		}

		if crashed := cleanup.Rule3CrashedForSupervisor(rec, e.deps.ParticipantID); len(crashed) > 0 {
			byHandle := groupByHandle(crashed)
			for handle, frames := range byHandle {
				if e.deps.OnCallCrashed != nil {
					e.deps.OnCallCrashed(handle, frames)
				}
				for _, f := range frames {
					if removed, ok := cleanup.RemoveFrame(rec, f.CallID); ok {
						result.SupervisedCrashGroups = append(result.SupervisedCrashGroups, SupervisedCrashGroup{SupervisorHandle: handle, Frames: removed})
						dirtied = true
					}
				}
			}
			metrics.CleanupFramesReclaimedTotal.WithLabelValues("rule3").Add(float64(len(crashed)))
		}

		if rec.Status == types.StatusCleanup {
			removed := cleanup.MarkAndRemoveOwn(rec, e.deps.ParticipantID)
			if len(removed) > 0 {
				result.SelfCleanupFrames = removed
				dirtied = true
				metrics.CleanupFramesReclaimedTotal.WithLabelValues("rule1").Add(float64(len(removed)))
			}
		}

		rec.LastHeartbeat = now
		if idx := rec.FindParticipant(e.deps.ParticipantID); idx >= 0 {
			rec.Participants[idx].LastSeen = now
		}

		result.ArchiveDue = cleanup.TransitionStatus(rec, dirtied)
		result.FrameCount = len(rec.CallFrames)
		result.TempResourceCount = len(rec.TempResources)
		result.Participants = append([]types.Participant(nil), rec.Participants...)
		return rec, nil
	})

	if err != nil {
		if dplerr.CodeOf(err) == dplerr.OperationNotFound {
			result.NotFound = true
			metrics.HeartbeatTicksTotal.WithLabelValues("not_found").Inc()
			return result, nil
		}
		metrics.HeartbeatTicksTotal.WithLabelValues("error").Inc()
		return result, err
	}

	result.Record = next
	if result.ArchiveDue {
		if err := e.deps.Store.Archive(ctx, e.deps.OperationID); err == nil {
			_ = e.deps.Store.Purge(e.deps.OperationID)
		}
	}

	metrics.HeartbeatTicksTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func excludeSelf(ids []string, self string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

func groupByHandle(frames []types.CallFrame) map[string][]types.CallFrame {
	out := make(map[string][]types.CallFrame)
	for _, f := range frames {
		out[f.SupervisorHandle] = append(out[f.SupervisorHandle], f)
	}
	return out
}
