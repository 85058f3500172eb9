/*
Package config loads the ledger's declarative settings document
(SPEC_FULL.md §6), generalizing the teacher's WarrenResource apply
pattern from a single cluster resource kind to one flat settings
document covering store, heartbeat, log, metrics, archive, and API
concerns. Load overlays a YAML file onto Default()'s nominal values, so
a config file only needs to name what it overrides.
*/
package config
