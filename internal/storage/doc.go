// Package storage provides the storage engine for tokvaultd.
//
// The engine holds a string table and a list table as copy-on-write
// base snapshots, fronted by a TTL cache (see internal/cache) for
// string reads. A nested stack of transaction overlays sits above the
// base tables: BEGIN pushes a layer, mutating operations write into the
// top layer's overlay instead of the base, and COMMIT either folds the
// top layer into its parent or, at the outermost level, into the base
// tables themselves. ROLLBACK discards the top layer outright.
//
// @req RQ-0101
// @design DS-0102
package storage
