package bucket

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// CandidateSet is the stage-1 result: the union of bucket members over all
// bands of a signature, with the bands that retrieved each id.
type CandidateSet struct {
	hits map[string]*roaring.Bitmap
}

// NewCandidateSet returns an empty set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{hits: make(map[string]*roaring.Bitmap)}
}

// Add records that id was retrieved by band.
func (c *CandidateSet) Add(id string, band int) {
	bm, ok := c.hits[id]
	if !ok {
		bm = roaring.New()
		c.hits[id] = bm
	}
	bm.Add(uint32(band))
}

// Len returns the number of distinct candidates.
func (c *CandidateSet) Len() int { return len(c.hits) }

// Contains reports whether id is a candidate.
func (c *CandidateSet) Contains(id string) bool {
	_, ok := c.hits[id]
	return ok
}

// IDs returns the candidate ids in ascending order.
func (c *CandidateSet) IDs() []string {
	ids := make([]string, 0, len(c.hits))
	for id := range c.hits {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Bands returns the bands that retrieved id, or nil.
func (c *CandidateSet) Bands(id string) []int {
	bm, ok := c.hits[id]
	if !ok {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Matches returns the number of bands that retrieved id.
func (c *CandidateSet) Matches(id string) int {
	bm, ok := c.hits[id]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// BandCoverage returns the union of bands that produced any candidate.
func (c *CandidateSet) BandCoverage() *roaring.Bitmap {
	if len(c.hits) == 0 {
		return roaring.New()
	}
	all := make([]*roaring.Bitmap, 0, len(c.hits))
	for _, bm := range c.hits {
		all = append(all, bm)
	}
	return roaring.FastOr(all...)
}
