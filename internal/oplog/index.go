package oplog

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Index is the position of an entry in a worker's oplog. Entries start at
// InitialIndex; NoIndex means "empty oplog".
type Index uint64

const (
	NoIndex      Index = 0
	InitialIndex Index = 1
)

func (i Index) Next() Index { return i + 1 }

func (i Index) Previous() Index {
	if i == NoIndex {
		return NoIndex
	}
	return i - 1
}

// Region is the half-open index range [Start, End).
type Region struct {
	Start Index `json:"start"`
	End   Index `json:"end"`
}

func (r Region) Contains(i Index) bool { return i >= r.Start && i < r.End }
func (r Region) Empty() bool           { return r.End <= r.Start }
func (r Region) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return uint64(r.End - r.Start)
}
func (r Region) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.End) }

// DeletedRegions is a sorted set of non-overlapping, non-adjacent regions
// skipped during replay. The zero value is empty and ready to use.
type DeletedRegions struct {
	regions []Region
}

// NewDeletedRegions builds a set from possibly overlapping regions.
func NewDeletedRegions(rs ...Region) DeletedRegions {
	var d DeletedRegions
	for _, r := range rs {
		d.Add(r)
	}
	return d
}

// Add inserts r, merging with any overlapping or adjacent regions.
func (d *DeletedRegions) Add(r Region) {
	if r.Empty() {
		return
	}
	out := make([]Region, 0, len(d.regions)+1)
	placed := false
	for _, cur := range d.regions {
		switch {
		case cur.End < r.Start:
			out = append(out, cur)
		case r.End < cur.Start:
			if !placed {
				out = append(out, r)
				placed = true
			}
			out = append(out, cur)
		default:
			if cur.Start < r.Start {
				r.Start = cur.Start
			}
			if cur.End > r.End {
				r.End = cur.End
			}
		}
	}
	if !placed {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	d.regions = out
}

// IsDeleted reports whether i falls into a deleted region.
func (d DeletedRegions) IsDeleted(i Index) bool {
	_, ok := d.find(i)
	return ok
}

func (d DeletedRegions) find(i Index) (Region, bool) {
	n := sort.Search(len(d.regions), func(k int) bool { return d.regions[k].End > i })
	if n < len(d.regions) && d.regions[n].Contains(i) {
		return d.regions[n], true
	}
	return Region{}, false
}

// SkipForward returns i, or the first index after the deleted region that
// contains it.
func (d DeletedRegions) SkipForward(i Index) Index {
	if r, ok := d.find(i); ok {
		return r.End
	}
	return i
}

// SkipBackward returns i, or the last index before the deleted region that
// contains it (NoIndex if none).
func (d DeletedRegions) SkipBackward(i Index) Index {
	if r, ok := d.find(i); ok {
		return r.Start.Previous()
	}
	return i
}

// Regions returns a copy of the regions in ascending order.
func (d DeletedRegions) Regions() []Region {
	return append([]Region(nil), d.regions...)
}

func (d DeletedRegions) IsEmpty() bool { return len(d.regions) == 0 }

func (d DeletedRegions) String() string { return fmt.Sprint(d.regions) }

func (d DeletedRegions) MarshalJSON() ([]byte, error) {
	if d.regions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.regions)
}

func (d *DeletedRegions) UnmarshalJSON(b []byte) error {
	var rs []Region
	if err := json.Unmarshal(b, &rs); err != nil {
		return err
	}
	*d = NewDeletedRegions(rs...)
	return nil
}
