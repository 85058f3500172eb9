/*
Package log provides structured logging for the ledger using zerolog.

The global Logger is initialized once via Init and every other package
derives a child logger from it with WithComponent, tagging the component
name onto every record it emits. Operation-scoped code further tags
operation_id/participant_id/session_id/call_id via the With*ID helpers so a
single operation's log lines can be greped out of a shared process log.

	┌─────────────── LOGGING ───────────────┐
	│ Init(Config) → global Logger           │
	│   WithComponent("store")               │
	│     WithOperationID(opID)               │
	│       WithParticipantID(pid)            │
	│         WithCallID(callID)              │
	└─────────────────────────────────────────┘

JSON output is used in production; console (human-readable) output is used
for local CLI runs. Both include timestamps and support level filtering.
*/
package log
