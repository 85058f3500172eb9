/*
Package signalbridge is the process-wide SIGINT/SIGTERM singleton
(SPEC_FULL.md §4.6). pkg/ledger registers one cleanup callback per
Operation on Get(); on signal, every callback runs once (panics recovered
and logged) and the process exits 0. Get() installs the OS handler lazily
and only once per process; handleSignal itself is idempotent.
*/
package signalbridge
