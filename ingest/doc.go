// Package ingest streams vectors from a Source into the bucket index.
//
// Records are consumed in chunks of BatchSize. Each chunk is signed in
// parallel and then written with bounded concurrency; every write is
// retried with backoff before the chunk is declared failed. Chunks commit
// independently: after a failure, the returned Progress names the cursor
// of the last committed record, and running again from that cursor is safe
// because bucket writes are idempotent.
package ingest
