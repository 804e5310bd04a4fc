package jsonmanager

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type placed struct {
	path string
	pos  Position
}

func classifyAll(t *testing.T, e *Engine, records []placed) *Result {
	t.Helper()
	for _, r := range records {
		_, _, err := e.Classify(r.path, r.pos)
		require.NoError(t, err, r.path)
	}
	e.Finalize()
	res := &Result{}
	e.Fill(res)
	return res
}

func TestEngine_ExactDuplicates(t *testing.T) {
	precision := IntPtr(2)
	a, err := NormalizePosition([]byte(`[1.001, 2, 3]`), precision, 0)
	require.NoError(t, err)
	b, err := NormalizePosition([]byte(`[1.004, 2, 3]`), precision, 0)
	require.NoError(t, err)

	e := NewEngine(EngineOptions{})
	class, g, err := e.Classify("a.json", a)
	require.NoError(t, err)
	assert.Equal(t, ClassOriginal, class)
	class, g2, err := e.Classify("b.json", b)
	require.NoError(t, err)
	assert.Equal(t, ClassDuplicate, class)
	assert.Same(t, g, g2)

	res := &Result{}
	e.Fill(res)
	assert.Equal(t, []Key{"1,2,3"}, res.DuplicateKeys)
	assert.Empty(t, res.NearDuplicateKeys)
	assert.Equal(t, []string{"a.json", "b.json"}, g.Paths)
	assert.Equal(t, "a.json", g.Original())
	assert.Equal(t, []string{"b.json"}, g.Duplicates())
	assert.Equal(t, Position{1, 2, 3}, g.Position)
	assert.Equal(t, g.Position.Key(), g.Key)
}

func TestEngine_NearDuplicates(t *testing.T) {
	e := NewEngine(EngineOptions{FindNear: true, Tolerance: 2})
	_, _, err := e.Classify("a.json", Position{0, 0, 0})
	require.NoError(t, err)
	class, _, err := e.Classify("b.json", Position{0, 0, 1.5})
	require.NoError(t, err)
	assert.Equal(t, ClassNearDuplicate, class)

	res := &Result{}
	e.Fill(res)
	assert.Empty(t, res.DuplicateKeys)
	assert.Equal(t, []Key{"0,0,0", "0,0,1.5"}, res.NearDuplicateKeys)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []Key{"0,0,0", "0,0,1.5"}, res.Clusters[0].Keys)
	assert.Len(t, res.Groups, 2)
}

func TestEngine_NearDisabled(t *testing.T) {
	e := NewEngine(EngineOptions{Tolerance: 2})
	res := classifyAll(t, e, []placed{
		{"a.json", Position{0, 0, 0}},
		{"b.json", Position{0, 0, 1.5}},
	})
	assert.Empty(t, res.NearDuplicateKeys)
	assert.Empty(t, res.Clusters)
	assert.Zero(t, e.Comparisons())
}

func TestEngine_Metric(t *testing.T) {
	records := []placed{
		{"a.json", Position{0, 0, 0}},
		{"b.json", Position{1.5, 1.5, 0}},
	}
	cheb := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: 2}), records)
	assert.Len(t, cheb.Clusters, 1)

	eucl := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: 2, Metric: MetricEuclidean}), records)
	assert.Empty(t, eucl.Clusters)
}

func TestEngine_ChainsStaySplit(t *testing.T) {
	records := []placed{
		{"a.json", Position{0}},
		{"b.json", Position{1}},
		{"c.json", Position{2}},
	}
	e := NewEngine(EngineOptions{FindNear: true, Tolerance: 1})
	res := classifyAll(t, e, records)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []Key{"0", "1"}, res.Clusters[0].Keys)
	assert.Equal(t, []Key{"0", "1", "2"}, res.NearDuplicateKeys, "chain end is near 1 without joining its cluster")
	assert.Equal(t, []Key{"2"}, res.UnclusteredNearKeys())
	assert.Equal(t, 3, res.Stats.NearPositions)
	assert.Equal(t, 3, e.NearCount())
	assert.Len(t, res.Matches(), 3)

	merged := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: 1, MergeChains: true}), records)
	require.Len(t, merged.Clusters, 1)
	assert.Equal(t, []Key{"0", "1", "2"}, merged.Clusters[0].Keys)
	assert.Equal(t, 3, merged.Stats.NearPositions)
}

func TestEngine_ChainEndClassifiedNear(t *testing.T) {
	e := NewEngine(EngineOptions{FindNear: true, Tolerance: 1.5})
	var classes []Classification
	for i, p := range []Position{{0, 0, 0}, {0, 0, 1}, {0, 0, 2}} {
		class, _, err := e.Classify(fmt.Sprintf("%d.json", i), p)
		require.NoError(t, err)
		classes = append(classes, class)
	}
	e.Finalize()
	res := &Result{}
	e.Fill(res)

	assert.Equal(t, []Classification{ClassOriginal, ClassNearDuplicate, ClassNearDuplicate}, classes)
	assert.Contains(t, res.NearDuplicateKeys, Key("0,0,2"))
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []Key{"0,0,0", "0,0,1"}, res.Clusters[0].Keys)
	_, clustered := res.ClusterOf("0,0,2")
	assert.False(t, clustered)
}

func TestResult_ForgetKeepsNearWhilePartnerListed(t *testing.T) {
	records := []placed{
		{"a.json", Position{0}},
		{"b.json", Position{1}},
		{"c.json", Position{2}},
	}
	res := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: 1}), records)

	res.Forget([]Key{"0"})
	assert.Empty(t, res.Clusters)
	assert.Equal(t, []Key{"1", "2"}, res.NearDuplicateKeys, "1 and 2 are still within tolerance")

	res.Forget([]Key{"2"})
	assert.Empty(t, res.NearDuplicateKeys)
	assert.Empty(t, res.Matches())
	_, ok := res.Group("1")
	assert.True(t, ok)
}

func TestEngine_ArityLocksOnFirstPosition(t *testing.T) {
	e := NewEngine(EngineOptions{})
	_, _, err := e.Classify("a.json", Position{1, 2, 3})
	require.NoError(t, err)
	_, _, err = e.Classify("b.json", Position{1, 2})
	assert.ErrorIs(t, err, ErrArityMismatch)
	assert.Equal(t, 1, e.GroupCount())
}

func TestEngine_OrderInsensitiveMembership(t *testing.T) {
	var records []placed
	for i := 0; i < 60; i++ {
		records = append(records, placed{
			path: fmt.Sprintf("r%02d.json", i),
			pos:  Position{float64(i % 7), float64(i % 3), 1},
		})
	}
	membership := func(res *Result) map[Key][]string {
		out := make(map[Key][]string)
		for _, g := range res.Groups {
			paths := append([]string(nil), g.Paths...)
			sort.Strings(paths)
			out[g.Key] = paths
		}
		return out
	}

	want := membership(classifyAll(t, NewEngine(EngineOptions{}), records))
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		shuffled := append([]placed(nil), records...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		res := classifyAll(t, NewEngine(EngineOptions{}), shuffled)
		assert.Equal(t, want, membership(res))

		for _, g := range res.Groups {
			for _, r := range shuffled {
				if r.pos.Key() == g.Key {
					assert.Equal(t, r.path, g.Original(), "first-seen record must be the original")
					break
				}
			}
		}
	}
}

func TestEngine_EveryRecordInOneGroup(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var records []placed
	for i := 0; i < 500; i++ {
		records = append(records, placed{
			path: fmt.Sprintf("f%03d.json", i),
			pos:  Position{float64(rng.Intn(20)), float64(rng.Intn(20))},
		})
	}
	res := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: 1}), records)
	seen := make(map[string]Key)
	total := 0
	for _, g := range res.Groups {
		for _, p := range g.Paths {
			_, dup := seen[p]
			assert.False(t, dup, "%s in two groups", p)
			seen[p] = g.Key
			total++
		}
	}
	assert.Equal(t, len(records), total)

	inCluster := make(map[Key]int)
	for _, c := range res.Clusters {
		for _, k := range c.Keys {
			inCluster[k]++
		}
	}
	for k, n := range inCluster {
		assert.Equal(t, 1, n, "key %s in %d clusters", k, n)
	}
}

func TestEngine_NeverMergesBeyondTolerance(t *testing.T) {
	for _, metric := range []Metric{MetricChebyshev, MetricEuclidean} {
		t.Run(string(metric), func(t *testing.T) {
			rng := rand.New(rand.NewSource(11))
			const tol = 0.75
			var records []placed
			for i := 0; i < 800; i++ {
				records = append(records, placed{
					path: fmt.Sprintf("p%03d.json", i),
					pos:  Position{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}.Rounded(IntPtr(2)),
				})
			}
			res := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: tol, Metric: metric}), records)
			require.NotEmpty(t, res.Clusters)
			for _, c := range res.Clusters {
				assert.GreaterOrEqual(t, len(c.Keys), 2)
				for i := range c.Keys {
					for j := i + 1; j < len(c.Keys); j++ {
						a, _ := ParseKey(c.Keys[i])
						b, _ := ParseKey(c.Keys[j])
						assert.LessOrEqual(t, Distance(metric, a, b), tol)
					}
				}
			}
		})
	}
}

func TestEngine_EveryNearPairListed(t *testing.T) {
	for _, metric := range []Metric{MetricChebyshev, MetricEuclidean} {
		t.Run(string(metric), func(t *testing.T) {
			rng := rand.New(rand.NewSource(13))
			const tol = 0.75
			var records []placed
			for i := 0; i < 600; i++ {
				records = append(records, placed{
					path: fmt.Sprintf("p%03d.json", i),
					pos:  Position{rng.Float64() * 8, rng.Float64() * 8, rng.Float64() * 8}.Rounded(IntPtr(2)),
				})
			}
			res := classifyAll(t, NewEngine(EngineOptions{FindNear: true, Tolerance: tol, Metric: metric}), records)
			near := make(map[Key]bool, len(res.NearDuplicateKeys))
			for _, k := range res.NearDuplicateKeys {
				near[k] = true
			}
			pairs := 0
			for i := range res.Groups {
				for j := i + 1; j < len(res.Groups); j++ {
					a, b := res.Groups[i], res.Groups[j]
					if Distance(metric, a.Position, b.Position) > tol {
						continue
					}
					pairs++
					assert.True(t, near[a.Key], "%s is within tolerance of %s", a.Key, b.Key)
					assert.True(t, near[b.Key], "%s is within tolerance of %s", b.Key, a.Key)
				}
			}
			require.NotZero(t, pairs)
			assert.Equal(t, len(near), res.Stats.NearPositions)
		})
	}
}

func TestEngine_IndexFindsAllNeighbours(t *testing.T) {
	// Compare indexed near matching against a brute-force scan.
	rng := rand.New(rand.NewSource(5))
	const tol = 1.0
	positions := make([]Position, 300)
	for i := range positions {
		positions[i] = Position{rng.Float64() * 12, rng.Float64() * 12}.Rounded(IntPtr(1))
	}
	for _, cellSize := range []float64{0.3, 1, 2.5} {
		e := NewEngine(EngineOptions{FindNear: true, Tolerance: tol, CellSize: cellSize})
		var added []*Group
		for i, p := range positions {
			want := map[Key]bool{}
			for _, g := range added {
				if Distance(MetricChebyshev, g.Position, p) <= tol {
					want[g.Key] = true
				}
			}
			got := map[Key]bool{}
			for _, g := range e.Index().Candidates(p, tol) {
				if Distance(MetricChebyshev, g.Position, p) <= tol {
					got[g.Key] = true
				}
			}
			assert.Equal(t, want, got, "cell size %v position %v", cellSize, p)
			_, g, err := e.Classify(fmt.Sprintf("%d.json", i), p)
			require.NoError(t, err)
			if len(g.Paths) == 1 {
				added = append(added, g)
			}
		}
	}
}

func TestEngine_SubQuadraticOnScatteredRecords(t *testing.T) {
	const n = 10000
	rng := rand.New(rand.NewSource(42))
	e := NewEngine(EngineOptions{FindNear: true, Tolerance: 0.5})
	for i := 0; i < n; i++ {
		p := Position{rng.Float64() * 1000, rng.Float64() * 1000, rng.Float64() * 1000}.Rounded(IntPtr(3))
		_, _, err := e.Classify(fmt.Sprintf("%05d.json", i), p)
		require.NoError(t, err)
	}
	e.Finalize()

	assert.Less(t, e.Comparisons(), n*10, "distance evaluations should stay near linear")
	assert.LessOrEqual(t, e.Index().MaxOccupancy(), 4)
	assert.Equal(t, n, e.Index().Size())
}

func TestBucketIndex_ExtremeCoordinates(t *testing.T) {
	idx := NewBucketIndex(1e-300)
	far := &Group{Key: "far", Position: Position{1e300, -1e300}}
	near := &Group{Key: "near", Position: Position{0, 0}, seq: 1}
	idx.Insert(far)
	idx.Insert(near)

	got := idx.Candidates(Position{1e300, -1e300}, 1e-300)
	require.NotEmpty(t, got)
	assert.Same(t, far, got[0])

	assert.NotPanics(t, func() {
		all := idx.Candidates(Position{0, 0}, 1e300)
		assert.Len(t, all, 2)
	})

	e := NewEngine(EngineOptions{FindNear: true, Tolerance: 1e300, CellSize: 1e-300})
	res := classifyAll(t, e, []placed{
		{"a.json", Position{0}},
		{"b.json", Position{1e300}},
	})
	assert.Equal(t, []Key{Position{0}.Key(), Position{1e300}.Key()}, res.NearDuplicateKeys)
}

func TestNeighborCount_LargeReach(t *testing.T) {
	_, ok := neighborCount(2, cellLimit)
	assert.False(t, ok)
	n, ok := neighborCount(3, 2)
	require.True(t, ok)
	assert.Equal(t, 125, n)
}

func TestDistance(t *testing.T) {
	a := Position{0, 0}
	b := Position{3, 4}
	assert.Equal(t, 4.0, Distance(MetricChebyshev, a, b))
	assert.Equal(t, 5.0, Distance(MetricEuclidean, a, b))
	assert.True(t, Distance(MetricChebyshev, a, Position{1}) > 1e300)
}
