// Package httpapi implements the SPEC_FULL.md §6 JSON-over-HTTP veneer: a
// thin transport wrapping pkg/ledger/pkg/operation so an out-of-process
// client can drive the same create/join/heartbeat/call protocol a local
// participant uses directly. Routing is a bare net/http.ServeMux — no
// framework dependency appears anywhere in the example pack for this
// concern (see DESIGN.md) — while the retry policy on Client is itself
// part of the wire contract (§6), not an implementation detail.
package httpapi
