/*
Package types defines the persistent schema of a Distributed Process Ledger
operation: the OperationRecord document and the CallFrame, Participant, and
TempResource records nested inside it.

These are the only types that cross the process boundary on disk — pkg/store
reads and writes exactly this shape, pkg/httpapi serializes subsets of it over
HTTP, and every other package (pkg/ledger, pkg/operation, pkg/heartbeat,
pkg/cleanup) operates on it by value, never by reaching into another
process's copy.

# Ownership

  - OperationRecord is owned by whichever process currently holds the
    operation's advisory lock; outside the lock it is a read-only snapshot.
  - CallFrame is owned by the session that created it and may only be
    removed by that session, or by one of the four cleanup rules once its
    owning participant is stale.
  - TempResource is owned by its registering PID and is torn down when that
    PID exits or the operation terminates, whichever happens first.

# Compatibility

SchemaVersion and Extra exist so a reader that predates a newer writer's
fields does not discard them on a read-modify-write cycle (see §9 of
SPEC_FULL.md, "optional fields in the persistent record").
*/
package types
