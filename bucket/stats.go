package bucket

import (
	"context"
	"fmt"

	"github.com/hupe1980/lshkv/kvstore"
)

// statsBatch bounds keys per multi-read in Stats.
const statsBatch = 100

// Stats summarizes the bucket index. Computing it scans every key in the
// namespace.
type Stats struct {
	// Buckets is the number of non-empty buckets.
	Buckets int `json:"buckets"`

	// Vectors is the number of indexed vector ids.
	Vectors int `json:"vectors"`

	// Memberships is the total number of (bucket, id) pairs.
	Memberships int `json:"memberships"`

	// MaxBucketSize is the size of the largest bucket.
	MaxBucketSize int `json:"max_bucket_size"`

	// BucketsPerBand counts non-empty buckets per band index.
	BucketsPerBand map[int]int `json:"buckets_per_band"`
}

// MeanBucketSize returns the average number of ids per bucket.
func (s Stats) MeanBucketSize() float64 {
	if s.Buckets == 0 {
		return 0
	}
	return float64(s.Memberships) / float64(s.Buckets)
}

// Stats scans the namespace and returns bucket statistics.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	st := Stats{BucketsPerBand: make(map[int]int)}

	bucketKeys, err := ix.collect(ctx, ix.keys.BucketPrefix())
	if err != nil {
		return Stats{}, fmt.Errorf("bucket: stats: %w", err)
	}

	for start := 0; start < len(bucketKeys); start += statsBatch {
		end := min(start+statsBatch, len(bucketKeys))
		sets, err := kvstore.ReadSets(ctx, ix.store, bucketKeys[start:end])
		if err != nil {
			return Stats{}, fmt.Errorf("bucket: stats: %w", err)
		}
		for k, members := range sets {
			band, _, ok := ix.keys.ParseBucket(k)
			if !ok {
				continue
			}
			st.Buckets++
			st.BucketsPerBand[band]++
			st.Memberships += len(members)
			st.MaxBucketSize = max(st.MaxBucketSize, len(members))
		}
	}

	for k, err := range ix.store.Keys(ctx, ix.keys.ReversePrefix()) {
		if err != nil {
			return Stats{}, fmt.Errorf("bucket: stats: %w", err)
		}
		if _, ok := ix.keys.ParseReverse(k); ok {
			st.Vectors++
		}
	}
	return st, nil
}
