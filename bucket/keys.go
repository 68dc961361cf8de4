package bucket

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/lshkv/kvstore"
)

const (
	bucketTag   = "b"
	reverseTag  = "r"
	manifestTag = "manifest"
)

// ErrInvalidPrefix is returned for a namespace prefix containing
// kvstore.Separator.
var ErrInvalidPrefix = errors.New("bucket: prefix contains key separator")

// ValidatePrefix checks that no key of prefix can fall under the listing
// prefixes of another namespace.
func ValidatePrefix(prefix string) error {
	if strings.Contains(prefix, kvstore.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// Keys builds store keys for one index namespace.
type Keys struct {
	prefix string
}

// NewKeys returns the key builder for prefix.
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// Prefix returns the namespace prefix.
func (k Keys) Prefix() string { return k.prefix }

// Bucket returns the key of the bucket for hash in band.
func (k Keys) Bucket(band int, hash uint64) string {
	return kvstore.Join(k.prefix, bucketTag, strconv.Itoa(band), fmt.Sprintf("%016x", hash))
}

// Reverse returns the key of the reverse entry for id.
func (k Keys) Reverse(id string) string {
	return kvstore.Join(k.prefix, reverseTag, id)
}

// Manifest returns the key holding the index manifest.
func (k Keys) Manifest() string {
	return kvstore.Join(k.prefix, manifestTag)
}

// BucketPrefix is the listing prefix for all buckets.
func (k Keys) BucketPrefix() string {
	return kvstore.PrefixOf(kvstore.Join(k.prefix, bucketTag))
}

// ReversePrefix is the listing prefix for all reverse entries.
func (k Keys) ReversePrefix() string {
	return kvstore.PrefixOf(kvstore.Join(k.prefix, reverseTag))
}

// ParseBucket extracts band and hash from a bucket key.
func (k Keys) ParseBucket(key string) (band int, hash uint64, ok bool) {
	rest, found := strings.CutPrefix(key, k.BucketPrefix())
	if !found {
		return 0, 0, false
	}
	bandStr, hashStr, found := strings.Cut(rest, kvstore.Separator)
	if !found {
		return 0, 0, false
	}
	band, err := strconv.Atoi(bandStr)
	if err != nil || band < 0 {
		return 0, 0, false
	}
	hash, err = strconv.ParseUint(hashStr, 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return band, hash, true
}

// ParseReverse extracts the vector id from a reverse entry key.
func (k Keys) ParseReverse(key string) (string, bool) {
	id, found := strings.CutPrefix(key, k.ReversePrefix())
	if !found || id == "" {
		return "", false
	}
	return id, true
}
