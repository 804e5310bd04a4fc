package jsonmanager

import "sort"

// disjointSet is a union-find over group sequence numbers.
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(x int) int {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

func (ds *disjointSet) union(a, b int) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ds.parent[ra] = rb
	case ds.rank[ra] > ds.rank[rb]:
		ds.parent[rb] = ra
	default:
		ds.parent[rb] = ra
		ds.rank[ra]++
	}
}

// mergeChains replaces the clique clusters with connected components of the
// "within tolerance" relation. Members of one component may be farther apart
// than tolerance; they are linked through intermediate positions.
func (e *Engine) mergeChains() {
	ds := newDisjointSet(len(e.order))
	for _, g := range e.order {
		for _, p := range g.partners {
			ds.union(p.seq, g.seq)
		}
	}

	components := make(map[int][]*Group)
	for _, g := range e.order {
		root := ds.find(g.seq)
		components[root] = append(components[root], g)
	}
	for _, g := range e.order {
		g.cluster = nil
	}
	clusters := make([]*Cluster, 0, len(components))
	for _, members := range components {
		if len(members) < 2 {
			continue
		}
		cl := &Cluster{}
		for _, g := range members {
			cl.groups = append(cl.groups, g)
			cl.Keys = append(cl.Keys, g.Key)
			g.cluster = cl
		}
		clusters = append(clusters, cl)
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].groups[0].seq < clusters[j].groups[0].seq
	})
	e.clusters = clusters
}
