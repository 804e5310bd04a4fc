package jsonmanager

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// maxNeighborCells caps how many neighbor cells are enumerated per lookup
// before the index falls back to walking its occupied cells.
const maxNeighborCells = 4096

// cellLimit bounds cell coordinates and reach so that neighbor offsets and
// cell differences stay far inside int64.
const cellLimit = 1 << 53

type cell []int64

func (c cell) key() string {
	var b strings.Builder
	for i, v := range c {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	return b.String()
}

type bucket struct {
	cell   cell
	groups []*Group
}

// BucketIndex is a coarse spatial hash of group positions. Each component is
// floor-divided by the cell size; lookups only visit cells that can hold a
// position within the search radius.
type BucketIndex struct {
	cellSize float64
	buckets  map[string]*bucket
	size     int
}

// NewBucketIndex constructs an empty index. cellSize must be positive.
func NewBucketIndex(cellSize float64) *BucketIndex {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = 1
	}
	return &BucketIndex{cellSize: cellSize, buckets: make(map[string]*bucket)}
}

// Size returns the number of indexed groups.
func (idx *BucketIndex) Size() int {
	return idx.size
}

// Cells returns the number of occupied cells.
func (idx *BucketIndex) Cells() int {
	return len(idx.buckets)
}

// MaxOccupancy returns the largest number of groups sharing one cell.
func (idx *BucketIndex) MaxOccupancy() int {
	max := 0
	for _, b := range idx.buckets {
		if len(b.groups) > max {
			max = len(b.groups)
		}
	}
	return max
}

func (idx *BucketIndex) cellOf(p Position) cell {
	c := make(cell, len(p))
	for i, v := range p {
		c[i] = clampCell(math.Floor(v / idx.cellSize))
	}
	return c
}

func clampCell(q float64) int64 {
	switch {
	case math.IsNaN(q):
		return 0
	case q > cellLimit:
		return cellLimit
	case q < -cellLimit:
		return -cellLimit
	}
	return int64(q)
}

// Insert adds a group under the cell of its position.
func (idx *BucketIndex) Insert(g *Group) {
	c := idx.cellOf(g.Position)
	k := c.key()
	b, ok := idx.buckets[k]
	if !ok {
		b = &bucket{cell: c}
		idx.buckets[k] = b
	}
	b.groups = append(b.groups, g)
	idx.size++
}

// Candidates returns the groups whose cell lies within radius of p's cell in
// every dimension, ordered by group creation. Callers still apply the exact
// distance test; the index only bounds the search.
func (idx *BucketIndex) Candidates(p Position, radius float64) []*Group {
	if idx.size == 0 || len(p) == 0 {
		return nil
	}
	// floor+1 rather than ceil keeps one cell of slack when radius is a
	// multiple of the cell size and the divisions round across a boundary.
	reach := clampCell(math.Floor(radius/idx.cellSize)) + 1
	if reach < 1 {
		reach = 1
	}
	center := idx.cellOf(p)
	var out []*Group
	if n, ok := neighborCount(len(p), reach); ok && n <= len(idx.buckets) {
		idx.walkNeighbors(center, reach, func(b *bucket) {
			out = append(out, b.groups...)
		})
	} else {
		for _, b := range idx.buckets {
			if withinCells(center, b.cell, reach) {
				out = append(out, b.groups...)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (idx *BucketIndex) walkNeighbors(center cell, reach int64, fn func(*bucket)) {
	cur := make(cell, len(center))
	var rec func(dim int)
	rec = func(dim int) {
		if dim == len(center) {
			if b, ok := idx.buckets[cur.key()]; ok {
				fn(b)
			}
			return
		}
		for d := -reach; d <= reach; d++ {
			cur[dim] = center[dim] + d
			rec(dim + 1)
		}
	}
	rec(0)
}

// neighborCount returns (2*reach+1)^dims, or false once it exceeds
// maxNeighborCells.
func neighborCount(dims int, reach int64) (int, bool) {
	side := 2*reach + 1
	if side > maxNeighborCells {
		return 0, false
	}
	n := int64(1)
	for i := 0; i < dims; i++ {
		n *= side
		if n > maxNeighborCells {
			return 0, false
		}
	}
	return int(n), true
}

func withinCells(a, b cell, reach int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		d := a[i] - b[i]
		if d < -reach || d > reach {
			return false
		}
	}
	return true
}
