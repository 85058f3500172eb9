/*
Package health provides the three liveness checker shapes (HTTP, TCP, exec)
used by the `dpl probe` subcommand, an out-of-band liveness check an
external process-supervisor runs before trusting a participant's last
heartbeat.

Checker is a single-method interface (Check(ctx) Result); HTTPChecker,
TCPChecker, and ExecChecker each implement it for one probe style.
*/
package health
