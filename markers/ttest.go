package markers

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// welchUpP returns the one-sided p-value that group A's mean exceeds group
// B's, under Welch's unequal-variance t-test.
func welchUpP(meanA, varA float64, nA int, meanB, varB float64, nB int) float64 {
	fa, fb := float64(nA), float64(nB)
	se2 := varA/fa + varB/fb
	if se2 == 0 {
		// Both groups constant: direction alone decides.
		switch {
		case meanA > meanB:
			return 0
		case meanA < meanB:
			return 1
		default:
			return 0.5
		}
	}
	t := (meanA - meanB) / math.Sqrt(se2)

	// Welch-Satterthwaite degrees of freedom.
	df := se2 * se2 / (varA*varA/(fa*fa*(fa-1)) + varB*varB/(fb*fb*(fb-1)))
	if math.IsNaN(df) || df < 1 {
		df = 1
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 1 - dist.CDF(t)
}
