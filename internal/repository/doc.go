// Package repository defines the data access interface for the topology
// state store.
//
// The engine is storage-agnostic: it depends only on the Repository
// interface. Two implementations ship with the module:
//
// - Memory, an in-process map for tests and ephemeral runs
// - sqlite.Repository, a durable store using SQLite with WAL mode
//
// Topology records are the canonical queryable per-application results
// exposed to downstream collaborators; everything a predictor has learned
// lives in checkpoints, not here.
package repository
