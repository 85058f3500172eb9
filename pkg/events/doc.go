/*
Package events provides the two observable shapes used to propagate the
heartbeat engine's findings into application code without exceptions
(SPEC_FULL.md §9 "exceptions-for-control-flow", §4.3/§4.4):

  - Observable[T]: resolves exactly once. Used for Operation.onAbort and
    Operation.onFailure — once the cohort aborts or fails, every waiter
    (past and future) observes the same terminal value.
  - Emitter[T]: many-shot fan-out. Used for onHeartbeatSuccess and
    onHeartbeatError, which legitimately fire once per tick for the life
    of an Operation.

Neither type owns a background goroutine; Resolve/Emit are called
synchronously from the heartbeat tick that produced the result.
Subscribe returns at once; Wait blocks until Resolve is called or its
stop channel is closed.
*/
package events
