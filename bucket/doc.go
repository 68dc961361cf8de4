// Package bucket maintains the LSH bucket index in a kvstore.Store.
//
// Every (band, band hash) pair maps to a set of vector ids, and every
// vector id maps to a reverse entry listing the bucket keys it was added
// to. Key layout under a namespace prefix:
//
//	{prefix}:b:{band}:{hash as 16 hex digits}   bucket set
//	{prefix}:r:{id}                            reverse entry set
//	{prefix}:manifest                          index manifest
//
// Membership is set-valued, so re-sending an Add is harmless. Remove of an
// id without a reverse entry is a no-op. Add and Remove for the same id
// must be serialized by the caller; the reverse entry read and the bucket
// writes are not atomic together.
package bucket
