package normalize

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// kmeans runs Lloyd's algorithm with k-means++ seeding and returns one label
// per point. The pack has no clustering library for plain point sets (the
// graph community machinery lives in cluster); this is only used to form
// coarse groups for factor estimation, so a plain implementation suffices.
func kmeans(points [][]float64, k, maxIter int, rng *rand.Rand) []int {
	n := len(points)
	if k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i
		}
		return labels
	}
	centers := plusPlusInit(points, k, rng)
	labels := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c, ctr := range centers {
				if d := sqDist(p, ctr); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		for c := range centers {
			for x := range centers[c] {
				centers[c][x] = 0
			}
		}
		for i, p := range points {
			floats.Add(centers[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centers {
			if counts[c] == 0 {
				// Re-seed an empty cluster from a random point.
				copy(centers[c], points[rng.Intn(n)])
				continue
			}
			floats.Scale(1/float64(counts[c]), centers[c])
		}
	}
	return labels
}

func plusPlusInit(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	first := append([]float64(nil), points[rng.Intn(n)]...)
	centers = append(centers, first)

	d2 := make([]float64, n)
	for len(centers) < k {
		sum := 0.0
		for i, p := range points {
			best := math.Inf(1)
			for _, c := range centers {
				if d := sqDist(p, c); d < best {
					best = d
				}
			}
			d2[i] = best
			sum += best
		}
		var next int
		if sum == 0 {
			next = rng.Intn(n)
		} else {
			r := rng.Float64() * sum
			for i, d := range d2 {
				r -= d
				if r <= 0 {
					next = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), points[next]...))
	}
	return centers
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
