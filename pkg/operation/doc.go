/*
Package operation implements SPEC_FULL.md §4.3: the per-participant
Operation handle, its synchronous Call[T] and asynchronous SpawnedCall[T]
children, and the Sync[T] join helper.

Go has no generic methods, so the call-tracking API is a set of free
functions taking *Operation explicitly — StartCall[T], SpawnCall[T], and
Sync[T] — rather than methods on Operation. Operation itself stores open
calls behind a type-erased callHandle so Leave can cancel them without
knowing their result type.

Heartbeat propagation (onAbort, onFailure, onHeartbeatSuccess/Error,
onCleanup) is handled by handleHeartbeatResult, the callback the
pkg/heartbeat Engine invokes after every tick; Rule 3's onCallCrashed
handshake is dispatchCallCrashed, invoked synchronously inside the
engine's Store write via pkg/supervisorcb.
*/
package operation
