/*
Package supervisorcb is the seam SPEC_FULL.md §4.5 Rule 3 calls through:
a registry of per-supervisorHandle callbacks that pkg/heartbeat dispatches
synchronously, inside its Store write, before removing the crashed frames
the callback was told about.
*/
package supervisorcb
