// Package stores provides the SQLite-backed ledger recording orchestrator
// runs, captured snapshots, and an append-only event log.
package stores
