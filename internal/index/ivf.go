// Package index implements a list-partitioned (IVF) approximate
// nearest-neighbour index over cosine similarity.
//
// Vectors are clustered into Lists partitions with spherical k-means. A query
// scans the Probes partitions whose centroids are closest to it. Vectors added
// after a build are assigned to their nearest existing partition, the way
// ivfflat treats rows inserted after CREATE INDEX; the partitions are rebuilt
// once the index has doubled in size.
//
// The index degrades to exact search when Lists <= 1, when Lists >= the
// number of vectors, or when Probes >= Lists.
package index

import (
	"math/rand"
	"sort"
	"sync"

	"campusrag/internal/vecmath"
)

const (
	DefaultIterations = 10
	defaultSeed       = 42
)

// Options tunes the index.
type Options struct {
	Lists      int
	Probes     int
	Iterations int
}

type IVF struct {
	opts Options

	mu        sync.RWMutex
	vectors   map[int64][]float32 // normalized
	centroids [][]float32
	members   []map[int64]struct{}
	assign    map[int64]int
	builtSize int
	dirty     bool
}

// New creates an empty index.
func New(opts Options) *IVF {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Probes <= 0 {
		opts.Probes = 1
	}
	return &IVF{
		opts:    opts,
		vectors: make(map[int64][]float32),
		assign:  make(map[int64]int),
	}
}

// Options returns the tunables the index was created with.
func (x *IVF) Options() Options {
	return x.opts
}

// Len returns the number of indexed vectors.
func (x *IVF) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Add inserts or replaces the vector for id.
func (x *IVF) Add(id int64, v []float32) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := vecmath.Normalize(v)
	x.vectors[id] = n

	if x.centroids == nil {
		x.dirty = true
		return
	}
	if old, ok := x.assign[id]; ok {
		delete(x.members[old], id)
	}
	list := nearestCentroid(x.centroids, n)
	x.members[list][id] = struct{}{}
	x.assign[id] = list
	if len(x.vectors) >= 2*x.builtSize {
		x.dirty = true
	}
}

// Exact reports whether queries currently bypass the partitions.
func (x *IVF) Exact() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.exactLocked()
}

func (x *IVF) exactLocked() bool {
	return x.opts.Lists <= 1 || x.opts.Lists >= len(x.vectors) || x.opts.Probes >= x.opts.Lists
}

// Candidates returns the ids in the partitions probed for query. When the
// index is exact it returns nil and true, meaning every vector is a
// candidate. Additional partitions are probed until at least k candidates
// are collected or none remain.
func (x *IVF) Candidates(query []float32, k int) ([]int64, bool) {
	x.mu.Lock()
	if x.exactLocked() {
		x.mu.Unlock()
		return nil, true
	}
	if x.dirty || x.centroids == nil {
		x.rebuildLocked()
	}
	x.mu.Unlock()

	x.mu.RLock()
	defer x.mu.RUnlock()

	q := vecmath.Normalize(query)
	order := make([]int, len(x.centroids))
	sims := make([]float64, len(x.centroids))
	for i, c := range x.centroids {
		order[i] = i
		sims[i] = vecmath.Dot(q, c)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sims[order[a]] > sims[order[b]]
	})

	var ids []int64
	for probed, list := range order {
		if probed >= x.opts.Probes && len(ids) >= k {
			break
		}
		for id := range x.members[list] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, false
}

// rebuildLocked reclusters every vector. Seeding is deterministic so the
// same content always produces the same partitions.
func (x *IVF) rebuildLocked() {
	ids := make([]int64, 0, len(x.vectors))
	for id := range x.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	lists := x.opts.Lists
	if lists > len(ids) {
		lists = len(ids)
	}
	centroids := seedCentroids(ids, x.vectors, lists)

	assign := make(map[int64]int, len(ids))
	for iter := 0; iter < x.opts.Iterations; iter++ {
		changed := false
		for _, id := range ids {
			c := nearestCentroid(centroids, x.vectors[id])
			if prev, ok := assign[id]; !ok || prev != c {
				assign[id] = c
				changed = true
			}
		}
		centroids = recomputeCentroids(centroids, ids, x.vectors, assign)
		if !changed {
			break
		}
	}

	members := make([]map[int64]struct{}, len(centroids))
	for i := range members {
		members[i] = make(map[int64]struct{})
	}
	for _, id := range ids {
		c := nearestCentroid(centroids, x.vectors[id])
		assign[id] = c
		members[c][id] = struct{}{}
	}

	x.centroids = centroids
	x.members = members
	x.assign = assign
	x.builtSize = len(ids)
	x.dirty = false
}

// seedCentroids picks initial centroids with k-means++ over a fixed seed.
func seedCentroids(ids []int64, vectors map[int64][]float32, k int) [][]float32 {
	rng := rand.New(rand.NewSource(defaultSeed))
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, copyVec(vectors[ids[rng.Intn(len(ids))]]))

	dist := make([]float64, len(ids))
	for len(centroids) < k {
		var total float64
		for i, id := range ids {
			best := 2.0
			for _, c := range centroids {
				if d := 1 - vecmath.Dot(vectors[id], c); d < best {
					best = d
				}
			}
			dist[i] = best * best
			total += dist[i]
		}
		if total == 0 {
			break
		}
		target := rng.Float64() * total
		pick := len(ids) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, copyVec(vectors[ids[pick]]))
	}
	return centroids
}

func recomputeCentroids(prev [][]float32, ids []int64, vectors map[int64][]float32, assign map[int64]int) [][]float32 {
	dim := len(prev[0])
	sums := make([][]float32, len(prev))
	counts := make([]int, len(prev))
	for i := range sums {
		sums[i] = make([]float32, dim)
	}
	for _, id := range ids {
		c := assign[id]
		counts[c]++
		for j, v := range vectors[id] {
			sums[c][j] += v
		}
	}
	out := make([][]float32, len(prev))
	for i := range sums {
		if counts[i] == 0 {
			out[i] = prev[i]
			continue
		}
		out[i] = vecmath.Normalize(sums[i])
	}
	return out
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best, bestSim := 0, -2.0
	for i, c := range centroids {
		if s := vecmath.Dot(v, c); s > bestSim {
			best, bestSim = i, s
		}
	}
	return best
}

func copyVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
