// Package supervisorcb defines the process-supervisor callback contract
// that SPEC_FULL.md §4.5 (Rule 3) invokes on the supervising participant's
// heartbeat tick. The companion process-supervisor that would register
// one of these in production is out of this module's scope (§1); a
// Registry with nothing registered is a legal configuration — Dispatch
// then finds no callback and returns, and the supervising participant's
// tick still removes the crashed frames in the same write. Frames whose
// supervisor never ticks again stay crashed until Rule 4 reclaims them or
// the operation terminates.
package supervisorcb

import (
	"context"
	"sync"

	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/types"
)

// CrashInfo is delivered to a Callback once per supervisorHandle, carrying
// every crashed frame that names that handle on this tick.
type CrashInfo struct {
	SupervisorHandle string
	Frames           []types.CallFrame
}

// Callback handles a supervised crash notification. Returned errors are
// logged, not propagated — cleanup must always complete (SPEC_FULL.md §7).
type Callback func(ctx context.Context, info CrashInfo) error

// Registry maps supervisorHandle to the Callback that should run when
// frames naming that handle are found crashed on this participant's tick.
type Registry struct {
	mu   sync.RWMutex
	cbs  map[string]Callback
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cbs: make(map[string]Callback)}
}

// Register installs cb for supervisorHandle, replacing any prior callback.
func (r *Registry) Register(supervisorHandle string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cbs[supervisorHandle] = cb
}

// Unregister removes any callback installed for supervisorHandle.
func (r *Registry) Unregister(supervisorHandle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cbs, supervisorHandle)
}

// Dispatch runs the callback registered for supervisorHandle, if any. It is
// invoked synchronously inside the heartbeat engine's Store write (see
// heartbeat.Deps.OnCallCrashed), so a misbehaving callback that blocks
// indefinitely stalls that tick; callbacks are expected to be quick and
// must not call back into the Store for this operation.
func (r *Registry) Dispatch(supervisorHandle string, crashed []types.CallFrame) {
	r.mu.RLock()
	cb, ok := r.cbs[supervisorHandle]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := cb(context.Background(), CrashInfo{SupervisorHandle: supervisorHandle, Frames: crashed}); err != nil {
		log.WithComponent("supervisorcb").Warn().Err(err).Str("supervisor_handle", supervisorHandle).Msg("supervisor callback failed")
	}
}
