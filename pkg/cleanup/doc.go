/*
Package cleanup implements SPEC_FULL.md §4.5's four independent cleanup
rules plus the stack-aware frame removal they share:

  - Rule 1 (self-cleanup): Rule1OwnFrames + MarkAndRemoveOwn, invoked by
    an Operation handle against its own frames once it observes
    Status == StatusCleanup.
  - Rule 2 (unsupervised reclaim) and Rule 4 (dead supervisor): both
    handled by Rule2And4 in one pass, since a dead participant is
    simultaneously the owner of its own now-crashed frames and, if it
    supervised anyone else's frames, a dead supervisor who will never
    come back to run onCallCrashed for them. Rule2And4 tombstones both
    kinds but only sweeps the ones with no living supervisor to wait on;
    a tombstone whose SupervisorID still names a live participant is left
    for Rule 3.
  - Rule 3 (supervised reclaim): Rule3CrashedForSupervisor, which only
    looks up already-FrameCrashed frames for the caller's onCallCrashed
    callback to run against before removal.

There is deliberately no orchestrator type here: pkg/heartbeat calls these
pure functions against the record it already holds under the Store lock,
in whatever order its tick needs them, matching §4.5's "no global
orchestrator and no ordering requirement."
*/
package cleanup
