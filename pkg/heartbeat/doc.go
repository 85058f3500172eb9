/*
Package heartbeat is the recurring tick that keeps an Operation's record
fresh and sweeps dead participants out of it (SPEC_FULL.md §4.4-4.5).

Engine.Tick performs one read-backup-write cycle against pkg/store: it
checks the record's staleness, applies pkg/cleanup's Rule 2, Rule 3, and
Rule 4 against participants observed stale this tick, applies Rule 1 if
this participant's own session has been put into cleanup, advances the
terminal-tick counter, and returns a Result describing everything that
happened so the owning Operation can fire its local observables
(onAbort, onFailure, onHeartbeatSuccess/onHeartbeatError) without holding
the Store lock itself.

Start/Stop run the engine on a jittered timer; Tick is exported
separately so tests and the Operation's first heartbeat can drive a
cycle synchronously.
*/
package heartbeat
