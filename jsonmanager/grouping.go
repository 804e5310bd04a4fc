package jsonmanager

import (
	"fmt"
	"math"
	"sort"
)

// Classification tells the caller how a record was placed.
type Classification int

const (
	// ClassOriginal means the record opened a new group.
	ClassOriginal Classification = iota
	// ClassDuplicate means the record joined an existing group by exact key.
	ClassDuplicate
	// ClassNearDuplicate means the record opened a new group within tolerance
	// of at least one earlier position.
	ClassNearDuplicate
)

func (c Classification) String() string {
	switch c {
	case ClassOriginal:
		return "original"
	case ClassDuplicate:
		return "duplicate"
	case ClassNearDuplicate:
		return "near-duplicate"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// EngineOptions configures a grouping engine.
type EngineOptions struct {
	FindNear    bool
	Tolerance   float64
	CellSize    float64
	Metric      Metric
	Arity       int
	MergeChains bool
}

// EngineOptionsFrom extracts engine options from a batch configuration.
func EngineOptionsFrom(cfg Config) EngineOptions {
	cfg.ApplyDefaults()
	return EngineOptions{
		FindNear:    cfg.FindNearDuplicates,
		Tolerance:   cfg.Tolerance,
		CellSize:    cfg.CellSize,
		Metric:      cfg.Metric,
		Arity:       cfg.Arity,
		MergeChains: cfg.MergeChains,
	}
}

// Engine partitions positions into exact-duplicate groups and near-duplicate
// clusters. Records must be fed in discovery order; the first record of a
// group is its original. An Engine is not safe for concurrent use.
//
// Every position within tolerance of another is a near duplicate. Clusters
// are cliques on top of that: a new position joins the cluster of the
// earliest indexed position within tolerance only when it is within
// tolerance of every member already in that cluster. Chains (A near B, B near
// C, A far from C) therefore stay split, and C is reported as a near
// duplicate outside any cluster, unless MergeChains asks Finalize to union
// them into connected components.
type Engine struct {
	opts EngineOptions

	groups   map[Key]*Group
	order    []*Group
	index    *BucketIndex
	clusters []*Cluster
	arity    int

	duplicates  int
	nearKeys    int
	comparisons int
	finalized   bool
}

// NewEngine constructs an empty engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1
	}
	if opts.CellSize <= 0 {
		opts.CellSize = opts.Tolerance
	}
	if opts.Metric == "" {
		opts.Metric = MetricChebyshev
	}
	return &Engine{
		opts:   opts,
		groups: make(map[Key]*Group),
		index:  NewBucketIndex(opts.CellSize),
		arity:  opts.Arity,
	}
}

// Classify assigns a normalized position to a group and, when near search is
// enabled, to a cluster. Positions with the wrong arity are rejected with an
// *InvalidPositionError and never enter a group.
func (e *Engine) Classify(path string, pos Position) (Classification, *Group, error) {
	if len(pos) == 0 {
		return 0, nil, &InvalidPositionError{Path: path, cause: ErrPositionAbsent}
	}
	if e.arity == 0 {
		e.arity = len(pos)
	}
	if len(pos) != e.arity {
		return 0, nil, &InvalidPositionError{
			Path:  path,
			Raw:   pos.String(),
			cause: fmt.Errorf("%w: got %d components, want %d", ErrArityMismatch, len(pos), e.arity),
		}
	}

	key := pos.Key()
	if g, ok := e.groups[key]; ok {
		g.Paths = append(g.Paths, path)
		if len(g.Paths) == 2 {
			e.duplicates++
		}
		return ClassDuplicate, g, nil
	}

	g := &Group{
		Key:      key,
		Position: append(Position(nil), pos...),
		Paths:    []string{path},
		seq:      len(e.order),
	}
	e.groups[key] = g
	e.order = append(e.order, g)

	class := ClassOriginal
	if e.opts.FindNear && e.attachNear(g) {
		class = ClassNearDuplicate
	}
	e.index.Insert(g)
	return class, g, nil
}

// attachNear links g to every indexed position within tolerance and places it
// in at most one cluster. It reports whether g has any near partner.
func (e *Engine) attachNear(g *Group) bool {
	joined := false
	for _, c := range e.index.Candidates(g.Position, e.opts.Tolerance) {
		if !e.within(g.Position, c.Position) {
			continue
		}
		e.link(g, c)
		if joined {
			continue
		}
		if c.cluster == nil {
			cl := &Cluster{}
			e.clusters = append(e.clusters, cl)
			e.join(cl, c)
			e.join(cl, g)
			joined = true
			continue
		}
		if e.withinAll(g.Position, c.cluster, c) {
			e.join(c.cluster, g)
			joined = true
		}
	}
	return len(g.partners) > 0
}

// link records a near match between a and b. A position counts as a near
// duplicate from its first partner on, whether or not it joins a cluster.
func (e *Engine) link(a, b *Group) {
	for _, g := range []*Group{a, b} {
		if len(g.partners) == 0 {
			e.nearKeys++
		}
	}
	a.partners = append(a.partners, b)
	b.partners = append(b.partners, a)
}

func (e *Engine) withinAll(p Position, cl *Cluster, skip *Group) bool {
	for _, m := range cl.groups {
		if m == skip {
			continue
		}
		if !e.within(p, m.Position) {
			return false
		}
	}
	return true
}

func (e *Engine) join(cl *Cluster, g *Group) {
	cl.groups = append(cl.groups, g)
	cl.Keys = append(cl.Keys, g.Key)
	g.cluster = cl
}

func (e *Engine) within(a, b Position) bool {
	e.comparisons++
	return Distance(e.opts.Metric, a, b) <= e.opts.Tolerance
}

// Distance measures a and b under metric. Positions of different arity are
// infinitely far apart.
func Distance(metric Metric, a, b Position) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	switch metric {
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return math.Sqrt(sum)
	default:
		var max float64
		for i := range a {
			d := math.Abs(a[i] - b[i])
			if d > max {
				max = d
			}
		}
		return max
	}
}

// Finalize runs the stages that must see every position, currently the
// optional chain merge. Calling it more than once is harmless.
func (e *Engine) Finalize() {
	if e.finalized {
		return
	}
	e.finalized = true
	if e.opts.FindNear && e.opts.MergeChains {
		e.mergeChains()
	}
}

// DuplicateCount is the number of exact-duplicate groups so far.
func (e *Engine) DuplicateCount() int { return e.duplicates }

// NearCount is the number of positions with at least one near partner so far.
func (e *Engine) NearCount() int { return e.nearKeys }

// Comparisons is the number of distance evaluations performed so far.
func (e *Engine) Comparisons() int { return e.comparisons }

// GroupCount is the number of distinct positions seen.
func (e *Engine) GroupCount() int { return len(e.order) }

// Index exposes the bucket index for diagnostics.
func (e *Engine) Index() *BucketIndex { return e.index }

// Fill copies the engine's groups, key sets and clusters into res. Lists are
// ordered by group creation.
func (e *Engine) Fill(res *Result) {
	res.Groups = append([]*Group(nil), e.order...)
	res.byKey = make(map[Key]*Group, len(e.order))
	res.DuplicateKeys = res.DuplicateKeys[:0]
	res.NearDuplicateKeys = res.NearDuplicateKeys[:0]
	for _, g := range e.order {
		res.byKey[g.Key] = g
		if len(g.Paths) >= 2 {
			res.DuplicateKeys = append(res.DuplicateKeys, g.Key)
		}
		if len(g.partners) > 0 {
			res.NearDuplicateKeys = append(res.NearDuplicateKeys, g.Key)
		}
	}
	clusters := append([]*Cluster(nil), e.clusters...)
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].groups[0].seq < clusters[j].groups[0].seq
	})
	res.Clusters = clusters
	res.Stats.DuplicatePositions = len(res.DuplicateKeys)
	res.Stats.NearPositions = len(res.NearDuplicateKeys)
}
