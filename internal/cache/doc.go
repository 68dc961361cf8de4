// Package cache provides an LRU cache for fetched vectors.
//
// The query engine re-ranks candidates against full vectors obtained from
// an external fetch capability. VectorCache keeps recently fetched vectors
// in memory, bounded by a byte capacity and optionally by a shared
// resource.Controller.
package cache
