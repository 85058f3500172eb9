// Package operation implements SPEC_FULL.md §4.3: the per-participant
// handle onto one operation record — session lifetime, call-frame
// tracking, the heartbeat engine's local half, and the leave/complete
// protocol.
package operation

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/events"
	"github.com/tomledger/dpl/pkg/heartbeat"
	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/store"
	"github.com/tomledger/dpl/pkg/supervisorcb"
	"github.com/tomledger/dpl/pkg/types"
)

// Config tunes one Operation's heartbeat and staleness behavior. Zero
// values fall back to SPEC_FULL.md §4.4's nominal defaults.
type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatJitter    time.Duration
	StalenessThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if c.HeartbeatJitter <= 0 {
		c.HeartbeatJitter = heartbeat.DefaultJitter
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = heartbeat.DefaultStalenessThreshold
	}
	return c
}

// HeartbeatErrorType distinguishes the onHeartbeatError callback's cause.
type HeartbeatErrorType string

const (
	HeartbeatErrorAbortFlagSet  HeartbeatErrorType = "abortFlagSet"
	HeartbeatErrorStale         HeartbeatErrorType = "heartbeatStale"
	HeartbeatErrorLedgerMissing HeartbeatErrorType = "ledgerNotFound"
)

// HeartbeatErrorInfo is delivered to onHeartbeatError subscribers.
type HeartbeatErrorInfo struct {
	Type   HeartbeatErrorType
	Result heartbeat.Result
}

// FailedInfo is the value onFailure resolves with.
type FailedInfo struct {
	OperationID     string
	FailedAt        time.Time
	Reason          string
	CrashedCallIDs  []string
}

// UnregisterFunc removes this Operation's session from the process's
// Ledger table; supplied by pkg/ledger at construction time.
type UnregisterFunc func()

// Deps wires an Operation to its collaborators. Callers outside pkg/ledger
// normally only use pkg/ledger's constructors, which populate this.
type Deps struct {
	Store              *store.Store
	OperationID        string
	ParticipantID      string
	PID                int
	SessionID          int
	IsInitiator        bool
	Config             Config
	SupervisorRegistry *supervisorcb.Registry
	Unregister         UnregisterFunc
}

// Operation is the per-participant handle described by SPEC_FULL.md §4.3.
// One Operation corresponds to one session; a process that joins the same
// operation twice holds two Operation values, one per session.
type Operation struct {
	mu sync.Mutex

	store         *store.Store
	operationID   string
	participantID string
	pid           int
	sessionID     int
	isInitiator   bool
	cfg           Config
	logger        zerolog.Logger

	calls      map[string]*callHandle
	tempRes    map[string]bool
	aborted    bool
	leftOrDone bool

	onAbort             *events.Observable[struct{}]
	onFailure           *events.Observable[FailedInfo]
	onHeartbeatSuccess  *events.Emitter[heartbeat.Result]
	onHeartbeatError    *events.Emitter[HeartbeatErrorInfo]
	onCleanup           *events.Emitter[types.CallFrame]

	hb         *heartbeat.Engine
	supervisor *supervisorcb.Registry
	unregister UnregisterFunc
}

// callHandle is the bookkeeping shared by Call[T] and SpawnedCall[T],
// stored with the type erased since Go has no heterogeneous generic map.
type callHandle struct {
	callID      string
	failOnCrash bool
	cancelled   bool
	cancel      func()
}

// New constructs an Operation and starts its heartbeat engine. Callers
// normally reach this through pkg/ledger's createOperation/joinOperation,
// which have already written the initial frame/participant row.
func New(d Deps) *Operation {
	cfg := d.Config.withDefaults()
	o := &Operation{
		store:              d.Store,
		operationID:        d.OperationID,
		participantID:      d.ParticipantID,
		pid:                d.PID,
		sessionID:          d.SessionID,
		isInitiator:        d.IsInitiator,
		cfg:                cfg,
		logger:             log.WithOperationID(d.OperationID).With().Str("participant_id", d.ParticipantID).Int("session_id", d.SessionID).Logger(),
		calls:              make(map[string]*callHandle),
		tempRes:            make(map[string]bool),
		onAbort:            events.NewObservable[struct{}](),
		onFailure:          events.NewObservable[FailedInfo](),
		onHeartbeatSuccess: events.NewEmitter[heartbeat.Result](),
		onHeartbeatError:   events.NewEmitter[HeartbeatErrorInfo](),
		onCleanup:          events.NewEmitter[types.CallFrame](),
		supervisor:         d.SupervisorRegistry,
		unregister:         d.Unregister,
	}

	o.hb = heartbeat.New(heartbeat.Deps{
		Store:              d.Store,
		OperationID:        d.OperationID,
		ParticipantID:      d.ParticipantID,
		PID:                d.PID,
		Interval:           cfg.HeartbeatInterval,
		Jitter:             cfg.HeartbeatJitter,
		StalenessThreshold: cfg.StalenessThreshold,
		OnCallCrashed:      o.dispatchCallCrashed,
	}, o.handleHeartbeatResult)
	o.hb.Start()
	return o
}

// OperationID, ParticipantID, SessionID, IsInitiator are read-only
// accessors onto the identity this handle was constructed with.
func (o *Operation) OperationID() string   { return o.operationID }
func (o *Operation) ParticipantID() string { return o.participantID }
func (o *Operation) SessionID() int        { return o.sessionID }
func (o *Operation) IsInitiator() bool     { return o.isInitiator }

// OnAbort, OnFailure, OnHeartbeatSuccess, OnHeartbeatError, OnCleanup
// expose the state observables described by SPEC_FULL.md §4.3/§4.4.
func (o *Operation) OnAbort() *events.Observable[struct{}]            { return o.onAbort }
func (o *Operation) OnFailure() *events.Observable[FailedInfo]        { return o.onFailure }
func (o *Operation) OnHeartbeatSuccess() *events.Emitter[heartbeat.Result] {
	return o.onHeartbeatSuccess
}
func (o *Operation) OnHeartbeatError() *events.Emitter[HeartbeatErrorInfo] {
	return o.onHeartbeatError
}
func (o *Operation) OnCleanup() *events.Emitter[types.CallFrame] { return o.onCleanup }

// IsAborted reports whether this handle has observed an abort, locally or
// via the heartbeat's abortFlag.
func (o *Operation) IsAborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborted
}

// SetAbortFlag writes the cooperative abort flag (SPEC_FULL.md §4.3).
func (o *Operation) SetAbortFlag(value bool) error {
	_, err := o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		rec.Aborted = value
		return rec, nil
	})
	return err
}

// CheckAbort reads the current abort flag from the record.
func (o *Operation) CheckAbort() (bool, error) {
	rec, err := o.store.Read(o.operationID)
	if err != nil {
		return false, err
	}
	return rec.Aborted, nil
}

// TriggerAbort is the local short-circuit: it marks this handle aborted
// and resolves onAbort immediately, without waiting for a heartbeat tick.
func (o *Operation) TriggerAbort() {
	o.mu.Lock()
	o.aborted = true
	o.mu.Unlock()
	o.onAbort.Resolve(struct{}{})
}

// Log appends one line to the operation's human log (SPEC_FULL.md §4.3).
func (o *Operation) Log(message string, level types.LogLevel) error {
	return o.store.AppendLog(o.operationID, message, level)
}

// RegisterTempResource records a filesystem path owned by this process so
// the Signal Bridge can remove it on SIGINT/SIGTERM even if the record is
// unreachable at that point.
func (o *Operation) RegisterTempResource(path string) error {
	o.mu.Lock()
	o.tempRes[path] = true
	o.mu.Unlock()

	_, err := o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		rec.TempResources = append(rec.TempResources, types.TempResource{
			Path: path, OwnerPID: o.pid, RegisteredAt: time.Now(),
		})
		return rec, nil
	})
	return err
}

// UnregisterTempResource removes path from both the in-memory signal-bridge
// set and the record.
func (o *Operation) UnregisterTempResource(path string) error {
	o.mu.Lock()
	delete(o.tempRes, path)
	o.mu.Unlock()

	_, err := o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		kept := rec.TempResources[:0:0]
		for _, r := range rec.TempResources {
			if r.Path == path && r.OwnerPID == o.pid {
				continue
			}
			kept = append(kept, r)
		}
		rec.TempResources = kept
		return rec, nil
	})
	return err
}

// TempResources returns a snapshot of this process's locally-known temp
// resource paths, for the signal bridge's cleanup callback.
func (o *Operation) TempResources() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.tempRes))
	for p := range o.tempRes {
		out = append(out, p)
	}
	return out
}

// CleanupCallback returns the function pkg/ledger registers with
// pkg/signalbridge for this handle: delete every locally-known temp
// resource from the filesystem (ignoring missing files) and best-effort
// unregister them from the record (SPEC_FULL.md §4.6).
func (o *Operation) CleanupCallback() func() {
	return func() {
		for _, path := range o.TempResources() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				o.logger.Warn().Err(err).Str("path", path).Msg("signal bridge failed to remove temp resource")
			}
			_ = o.UnregisterTempResource(path)
		}
	}
}

// CreateCallFrame pushes a frame directly, bypassing the Call[T] wrapper.
// callId must be unique within the operation.
func (o *Operation) CreateCallFrame(callID, description string, supervisorID, supervisorHandle string) error {
	_, err := o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		if rec.FindFrame(callID) >= 0 {
			return nil, dplerr.New(dplerr.DuplicateCallID, callID)
		}
		rec.CallFrames = append(rec.CallFrames, types.CallFrame{
			ParticipantID:    o.participantID,
			CallID:           callID,
			PID:              o.pid,
			StartTime:        time.Now(),
			State:            types.FrameActive,
			SupervisorID:     supervisorID,
			SupervisorHandle: supervisorHandle,
			Description:      description,
		})
		return rec, nil
	})
	return err
}

// DeleteCallFrame pops callId (§4.5's stack-aware cascade through any
// consecutive crashed frames stacked above it).
func (o *Operation) DeleteCallFrame(callID string) error {
	_, err := o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		idx := rec.FindFrame(callID)
		if idx == -1 {
			return nil, dplerr.New(dplerr.CallNotFound, callID)
		}
		for j := idx + 1; j < len(rec.CallFrames); j++ {
			if rec.CallFrames[j].State != types.FrameCrashed {
				return nil, dplerr.New(dplerr.StateMismatch, "live frame stacked above "+callID)
			}
		}
		rec.CallFrames = append(rec.CallFrames[:idx:idx], rec.CallFrames[len(rec.CallFrames):]...)
		return rec, nil
	})
	return err
}

// FailCallFrame is the low-level counterpart to DeleteCallFrame used by
// pkg/httpapi's POST /call/fail: it removes the frame and, if
// failOnCrash is true, signals the whole operation's onFailure the same
// way Call[T].Fail does, without requiring an in-process Call[T] handle.
func (o *Operation) FailCallFrame(callID, reason string, failOnCrash bool) error {
	if err := o.DeleteCallFrame(callID); err != nil {
		return err
	}
	o.unregisterCall(callID)
	o.onCleanup.Emit(types.CallFrame{CallID: callID, ParticipantID: o.participantID, Description: reason})
	if failOnCrash {
		o.signalOperationFailed(reason, []string{callID})
	}
	return nil
}

// Leave closes this session (SPEC_FULL.md §4.3). If cancelPendingCalls is
// false and calls remain open, it fails with PendingCalls.
func (o *Operation) Leave(cancelPendingCalls bool) error {
	o.mu.Lock()
	if o.leftOrDone {
		o.mu.Unlock()
		return nil
	}
	open := make([]*callHandle, 0, len(o.calls))
	for _, c := range o.calls {
		open = append(open, c)
	}
	if len(open) > 0 && !cancelPendingCalls {
		o.mu.Unlock()
		return dplerr.New(dplerr.PendingCalls, "open calls remain for this session")
	}
	o.leftOrDone = true
	o.mu.Unlock()

	for _, c := range open {
		if c.cancel != nil {
			c.cancel()
		}
	}

	o.hb.Stop()
	if o.unregister != nil {
		o.unregister()
	}
	return nil
}

// Complete is the initiator-only terminal transition (SPEC_FULL.md §4.3):
// it requires every non-initiator frame to already be gone, writes
// status=completed, then archives and purges the live record.
func (o *Operation) Complete() error {
	if !o.isInitiator {
		return dplerr.New(dplerr.StateMismatch, "complete is initiator-only")
	}

	_, err := o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		for _, f := range rec.CallFrames {
			if f.ParticipantID != o.participantID {
				return nil, dplerr.New(dplerr.StateMismatch, "non-initiator frames still open")
			}
		}
		rec.Status = types.StatusCompleted
		rec.CallFrames = nil
		return rec, nil
	})
	if err != nil {
		return err
	}

	o.hb.Stop()
	if err := o.store.Archive(context.Background(), o.operationID); err != nil {
		return err
	}
	if err := o.store.Purge(o.operationID); err != nil {
		return err
	}
	if o.unregister != nil {
		o.unregister()
	}
	return nil
}

// Tick drives one heartbeat cycle synchronously and routes its result
// through the same local-observable propagation a background tick would,
// before returning it to the caller. pkg/httpapi's POST
// /operation/heartbeat uses this so a remote participant's heartbeat has
// the same effect as a local one's, instead of only waiting for the next
// timer tick.
func (o *Operation) Tick(ctx context.Context) (heartbeat.Result, error) {
	result, err := o.hb.Tick(ctx)
	if err != nil {
		return result, err
	}
	o.handleHeartbeatResult(result)
	return result, nil
}

// registerCall is used by call.go/spawnedcall.go to track an open handle
// for Leave's cancellation sweep.
func (o *Operation) registerCall(callID string, failOnCrash bool, cancel func()) {
	o.mu.Lock()
	o.calls[callID] = &callHandle{callID: callID, failOnCrash: failOnCrash, cancel: cancel}
	o.mu.Unlock()
}

func (o *Operation) unregisterCall(callID string) {
	o.mu.Lock()
	delete(o.calls, callID)
	o.mu.Unlock()
}

// signalOperationFailed moves a running record to status=cleanup
// (best effort: a missing record is ignored) and resolves onFailure. Per
// SPEC_FULL.md §4.5's fatality policy, it is only called for failOnCrash
// calls.
func (o *Operation) signalOperationFailed(reason string, crashedCallIDs []string) {
	_, _ = o.store.Modify(o.operationID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		if rec.Status == types.StatusRunning {
			rec.Status = types.StatusCleanup
		}
		return rec, nil
	})
	o.onFailure.Resolve(FailedInfo{
		OperationID:    o.operationID,
		FailedAt:       time.Now(),
		Reason:         reason,
		CrashedCallIDs: crashedCallIDs,
	})
}

// dispatchCallCrashed is heartbeat.Deps.OnCallCrashed: invoked synchronously
// inside the Store write when this participant is the supervisor of
// newly-crashed frames (Rule 3). It must not call back into the Store.
func (o *Operation) dispatchCallCrashed(supervisorHandle string, crashed []types.CallFrame) {
	if o.supervisor == nil {
		return
	}
	o.supervisor.Dispatch(supervisorHandle, crashed)
}

// handleHeartbeatResult is the heartbeat engine's onTick callback: it
// translates a Result into this handle's local observables, per
// SPEC_FULL.md §4.4's "Derived propagation" table.
func (o *Operation) handleHeartbeatResult(result heartbeat.Result) {
	if result.NotFound {
		o.TriggerAbort()
		o.onHeartbeatError.Emit(HeartbeatErrorInfo{Type: HeartbeatErrorLedgerMissing, Result: result})
		return
	}

	for _, frame := range result.SelfCleanupFrames {
		o.unregisterCall(frame.CallID)
		o.onCleanup.Emit(frame)
	}

	if result.AbortFlag {
		o.TriggerAbort()
		o.onHeartbeatError.Emit(HeartbeatErrorInfo{Type: HeartbeatErrorAbortFlagSet, Result: result})
		return
	}

	if len(result.StaleParticipants) > 0 {
		o.onHeartbeatError.Emit(HeartbeatErrorInfo{Type: HeartbeatErrorStale, Result: result})
		return
	}

	o.onHeartbeatSuccess.Emit(result)
}
