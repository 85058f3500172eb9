/*
Package ledger implements SPEC_FULL.md §4.2: the process-wide registry
of live Operation handles, keyed by {operationId, sessionId}. It mints
operationIds via pkg/operation.NewOperationID, writes each new record's
initial frame and participant row, registers one pkg/signalbridge
cleanup callback per session, and answers pkg/metrics's StatsProvider
query by reading every known operation's current status.

There is one Ledger per process; cmd/dpl constructs it once at startup
and calls Dispose on graceful shutdown.
*/
package ledger
