// Package resource bounds the load the index puts on its store.
//
// A Controller caps in-flight store writes with a weighted semaphore,
// throttles ingest throughput in vectors per second with a token bucket,
// and tracks memory held by caches. A nil *Controller imposes no limits.
package resource
