// Package storage persists tenant settings, collection stats, the
// outstanding-drop ledger, delegated permissions, and the audit log.
//
// Two backends share one SQL implementation: sqlite (modernc.org/sqlite,
// the default, single file on disk) and postgres (lib/pq) for deployments
// that already run a database server.
package storage
