// Package ledger implements SPEC_FULL.md §4.2: the process-wide entry
// point that owns every live Operation handle, mints operationIds, wires
// the signal bridge once per process, and answers pkg/metrics's
// StatsProvider query.
package ledger

import (
	"strconv"
	"sync"
	"time"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/operation"
	"github.com/tomledger/dpl/pkg/signalbridge"
	"github.com/tomledger/dpl/pkg/store"
	"github.com/tomledger/dpl/pkg/supervisorcb"
	"github.com/tomledger/dpl/pkg/types"
)

// Config configures a Ledger's Store and default Operation settings.
type Config struct {
	Store              store.Config
	OperationConfig    operation.Config
	SupervisorRegistry *supervisorcb.Registry
}

// sessionKey identifies one live Operation handle within this process.
type sessionKey struct {
	operationID string
	sessionID   int
}

// Ledger is the process-wide registry described by SPEC_FULL.md §4.2. One
// process normally constructs exactly one Ledger.
type Ledger struct {
	mu sync.Mutex

	store      *store.Store
	opCfg      operation.Config
	supervisor *supervisorcb.Registry
	bridge     *signalbridge.Bridge

	handles     map[sessionKey]*operation.Operation
	nextSession map[string]int // operationId -> next session number, this process only
}

// New constructs a Ledger, opening its Store at cfg.Store.BaseDir and
// wiring the process-wide signal bridge.
func New(cfg Config) (*Ledger, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, err
	}
	supervisor := cfg.SupervisorRegistry
	if supervisor == nil {
		supervisor = supervisorcb.NewRegistry()
	}
	return &Ledger{
		store:       st,
		opCfg:       cfg.OperationConfig,
		supervisor:  supervisor,
		bridge:      signalbridge.Get(),
		handles:     make(map[sessionKey]*operation.Operation),
		nextSession: make(map[string]int),
	}, nil
}

// Store exposes the underlying Store, e.g. for pkg/httpapi's /operation/state.
func (l *Ledger) Store() *store.Store { return l.store }

// CreateOperation mints a new operationId, writes the initial record with
// the initiator's root frame, and returns its Operation handle
// (SPEC_FULL.md §4.2).
func (l *Ledger) CreateOperation(participantID string, pid int, description string) (*operation.Operation, error) {
	now := time.Now()
	opID := operation.NewOperationID(participantID, now)

	rec := &types.OperationRecord{
		OperationID:   opID,
		Status:        types.StatusRunning,
		StartTime:     now,
		LastHeartbeat: now,
		Description:   description,
		SchemaVersion:  1,
		Participants: []types.Participant{
			{ParticipantID: participantID, PID: pid, LastSeen: now},
		},
		CallFrames: []types.CallFrame{
			{ParticipantID: participantID, CallID: "root", PID: pid, StartTime: now, State: types.FrameActive},
		},
	}
	if _, err := l.store.CreateInitial(rec); err != nil {
		return nil, err
	}

	return l.register(opID, participantID, pid, true), nil
}

// JoinOperation appends a participant entry to an existing operation and
// returns a new session's Operation handle. Fails with OperationNotFound
// if the record is absent or already in a terminal status.
func (l *Ledger) JoinOperation(opID, participantID string, pid int) (*operation.Operation, error) {
	now := time.Now()
	_, err := l.store.Modify(opID, func(rec *types.OperationRecord) (*types.OperationRecord, error) {
		if rec.Status == types.StatusCompleted || rec.Status == types.StatusFailed {
			return nil, dplerr.New(dplerr.OperationNotFound, "operation "+opID+" already terminal")
		}
		if rec.FindParticipant(participantID) == -1 {
			rec.Participants = append(rec.Participants, types.Participant{
				ParticipantID: participantID, PID: pid, LastSeen: now,
			})
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	return l.register(opID, participantID, pid, false), nil
}

// Attach rebuilds an Operation handle for a session a prior process in
// this cohort already opened — e.g. a one-shot CLI invocation acting on
// an (operationId, sessionId) a previous `dpl create`/`dpl join` printed.
// Unlike CreateOperation/JoinOperation it mints no new session and
// appends no participant row; it only wires a fresh in-process handle
// around the record already on disk, which is why SPEC_FULL.md §9 treats
// sessionId as an opaque value every cross-process API call must quote
// rather than something a process can infer locally.
func (l *Ledger) Attach(opID, participantID string, pid, sessionID int, isInitiator bool) *operation.Operation {
	l.mu.Lock()
	if sessionID >= l.nextSession[opID] {
		l.nextSession[opID] = sessionID
	}
	l.mu.Unlock()
	return l.registerWithSession(opID, participantID, pid, sessionID, isInitiator)
}

func (l *Ledger) register(opID, participantID string, pid int, isInitiator bool) *operation.Operation {
	l.mu.Lock()
	l.nextSession[opID]++
	sessionID := l.nextSession[opID]
	l.mu.Unlock()

	return l.registerWithSession(opID, participantID, pid, sessionID, isInitiator)
}

func (l *Ledger) registerWithSession(opID, participantID string, pid, sessionID int, isInitiator bool) *operation.Operation {
	key := sessionKey{operationID: opID, sessionID: sessionID}

	op := operation.New(operation.Deps{
		Store:              l.store,
		OperationID:        opID,
		ParticipantID:      participantID,
		PID:                pid,
		SessionID:          sessionID,
		IsInitiator:        isInitiator,
		Config:             l.opCfg,
		SupervisorRegistry: l.supervisor,
		Unregister:         func() { l.unregister(key) },
	})

	l.mu.Lock()
	l.handles[key] = op
	l.mu.Unlock()

	bridgeID := opID + "#" + strconv.Itoa(sessionID)
	l.bridge.Register(bridgeID, op.CleanupCallback())

	log.WithOperationID(opID).Info().Str("participant_id", participantID).Int("session_id", sessionID).
		Bool("is_initiator", isInitiator).Msg("operation session registered")
	return op
}

// Handle looks up the live Operation handle for (operationId, sessionId),
// the tuple every cross-process API reference quotes (SPEC_FULL.md §9).
// Used by pkg/httpapi to dispatch a request to the session it names.
func (l *Ledger) Handle(opID string, sessionID int) (*operation.Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.handles[sessionKey{operationID: opID, sessionID: sessionID}]
	return op, ok
}

func (l *Ledger) unregister(key sessionKey) {
	l.mu.Lock()
	delete(l.handles, key)
	l.mu.Unlock()
	l.bridge.Unregister(key.operationID + "#" + strconv.Itoa(key.sessionID))
}

// Dispose stops every heartbeat and releases every Operation handle this
// Ledger owns (SPEC_FULL.md §4.2); called on graceful process shutdown.
func (l *Ledger) Dispose() {
	l.mu.Lock()
	handles := make([]*operation.Operation, 0, len(l.handles))
	for _, op := range l.handles {
		handles = append(handles, op)
	}
	l.mu.Unlock()

	for _, op := range handles {
		_ = op.Leave(true)
	}
}

// OperationCountsByStatus implements pkg/metrics.StatsProvider by reading
// each live handle's current record status.
func (l *Ledger) OperationCountsByStatus() map[string]int {
	l.mu.Lock()
	seen := make(map[string]bool, len(l.handles))
	ids := make([]string, 0, len(l.handles))
	for key := range l.handles {
		if !seen[key.operationID] {
			seen[key.operationID] = true
			ids = append(ids, key.operationID)
		}
	}
	l.mu.Unlock()

	counts := make(map[string]int)
	for _, id := range ids {
		rec, err := l.store.Read(id)
		if err != nil {
			continue
		}
		counts[string(rec.Status)]++
	}
	return counts
}

