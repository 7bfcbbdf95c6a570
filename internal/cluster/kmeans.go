package cluster

import (
	"math"
	"math/rand"
)

// KMeans clusters points into k groups with k-means++ seeding followed by
// Lloyd iterations. The result is deterministic for a given rng state.
// Every label in [0,k) is used as long as k <= len(points).
func KMeans(points [][]float64, k int, rng *rand.Rand, maxIter int) []int {
	n := len(points)
	labels := make([]int, n)
	if n == 0 || k <= 1 {
		return labels
	}
	if maxIter <= 0 {
		maxIter = 300
	}

	centroids := seedPlusPlus(points, k, rng)
	for iter := 0; iter < maxIter; iter++ {
		changed := assign(points, centroids, labels)
		fillEmpty(points, centroids, labels, k)
		centroids = recompute(points, labels, k, centroids)
		if !changed && iter > 0 {
			break
		}
	}
	return labels
}

// seedPlusPlus picks the first centroid uniformly and every next one with
// probability proportional to the squared distance to the closest chosen
// centroid.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(n)]))

	d2 := make([]float64, n)
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(p, c); d < best {
					best = d
				}
			}
			d2[i] = best
			total += best
		}
		if total == 0 {
			// Every point coincides with a centroid; duplicate one and let
			// fillEmpty spread the labels.
			centroids = append(centroids, clone(points[rng.Intn(n)]))
			continue
		}
		r := rng.Float64() * total
		pick := n - 1
		for i, d := range d2 {
			r -= d
			if r < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

// assign labels every point with its nearest centroid, lowest index on ties.
func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(p, centroid); d < bestD {
				best, bestD = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// fillEmpty gives every empty cluster the point farthest from its own
// centroid, taken from a cluster that has more than one member.
func fillEmpty(points, centroids [][]float64, labels []int, k int) {
	for {
		sizes := make([]int, k)
		for _, l := range labels {
			sizes[l]++
		}
		empty := -1
		for c, s := range sizes {
			if s == 0 {
				empty = c
				break
			}
		}
		if empty < 0 {
			return
		}

		far, farD := -1, -1.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := sqDist(p, centroids[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			return
		}
		labels[far] = empty
		centroids[empty] = clone(points[far])
	}
}

func recompute(points [][]float64, labels []int, k int, prev [][]float64) [][]float64 {
	dim := len(points[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		l := labels[i]
		counts[l]++
		for d, v := range p {
			sums[l][d] += v
		}
	}
	for c := range sums {
		if counts[c] == 0 {
			sums[c] = clone(prev[c])
			continue
		}
		for d := range sums[c] {
			sums[c][d] /= float64(counts[c])
		}
	}
	return sums
}

// Centroid returns the component-wise mean of the given points.
func Centroid(points [][]float64) []float64 {
	if len(points) == 0 {
		return nil
	}
	out := make([]float64, len(points[0]))
	for _, p := range points {
		for d, v := range p {
			out[d] += v
		}
	}
	for d := range out {
		out[d] /= float64(len(points))
	}
	return out
}

// Euclidean returns the Euclidean distance between a and b.
func Euclidean(a, b []float64) float64 {
	return math.Sqrt(sqDist(a, b))
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
