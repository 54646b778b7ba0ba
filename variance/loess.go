package variance

import (
	"fmt"
	"math"
	"sort"
)

// fitLoess returns a predictor for local linear regression with tricube
// weights. span is the fraction of points in each local window. No loess
// implementation exists in the dependency set, so the standard Cleveland
// formulation is implemented directly on top of a closed-form weighted
// least squares.
func fitLoess(xs, ys []float64, span float64) (func(float64) float64, error) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return nil, fmt.Errorf("loess: need >=2 points, got %d", len(xs))
	}
	if span <= 0 || span > 1 {
		return nil, fmt.Errorf("loess: span %g outside (0, 1]", span)
	}
	type pt struct{ x, y float64 }
	pts := make([]pt, len(xs))
	for i := range xs {
		pts[i] = pt{xs[i], ys[i]}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].x < pts[j].x })

	window := int(math.Ceil(span * float64(len(pts))))
	if window < 2 {
		window = 2
	}

	return func(x0 float64) float64 {
		// Window of the `window` points nearest to x0 in x.
		lo := sort.Search(len(pts), func(i int) bool { return pts[i].x >= x0 })
		hi := lo
		for hi-lo < window {
			switch {
			case lo == 0:
				hi++
			case hi == len(pts):
				lo--
			case x0-pts[lo-1].x <= pts[hi].x-x0:
				lo--
			default:
				hi++
			}
		}

		h := math.Max(x0-pts[lo].x, pts[hi-1].x-x0)
		var sw, swx, swy, swxx, swxy float64
		for _, p := range pts[lo:hi] {
			w := 1.0
			if h > 0 {
				d := math.Abs(p.x-x0) / h
				if d >= 1 {
					d = 1
				}
				w = math.Pow(1-d*d*d, 3)
			}
			sw += w
			swx += w * p.x
			swy += w * p.y
			swxx += w * p.x * p.x
			swxy += w * p.x * p.y
		}
		if sw == 0 {
			return 0
		}
		denom := sw*swxx - swx*swx
		if math.Abs(denom) < 1e-12 {
			return swy / sw
		}
		beta := (sw*swxy - swx*swy) / denom
		alpha := (swy - beta*swx) / sw
		return alpha + beta*x0
	}, nil
}
