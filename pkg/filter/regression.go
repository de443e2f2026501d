package filter

import "math"

// Result is an ordinary least-squares fit y = Slope*x + Intercept.
// Residual is the mean absolute deviation of the samples from the line.
// The zero Result means there was not enough data to fit.
type Result struct {
	Slope     float64
	Intercept float64
	Residual  float64
}

// Offsets returns the regression abscissae for a window of n samples:
// integers from -(n-1)/2 to (n-1)/2, oldest sample first.
func Offsets(n int) []float64 {
	if n <= 0 {
		return nil
	}
	x := make([]float64, n)
	start := -float64(n-1) / 2
	for i := range x {
		x[i] = start + float64(i)
	}
	return x
}

// Fit computes the least-squares line through (x[i], y[i]).
// It returns the zero Result when fewer than three points are given,
// the lengths differ, or all x are equal.
func Fit(x, y []float64) Result {
	if len(x) <= 2 || len(x) != len(y) {
		return Result{}
	}

	n := float64(len(x))
	var sx, sy, sxx, sxy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}

	det := n*sxx - sx*sx
	if det == 0 {
		return Result{}
	}

	a := (n*sxy - sx*sy) / det
	b := (sxx*sy - sx*sxy) / det

	var e float64
	for i := range x {
		e += math.Abs(y[i] - (a*x[i] + b))
	}

	return Result{
		Slope:     a,
		Intercept: b,
		Residual:  e / n,
	}
}

// Mean returns the arithmetic mean of y, or 0 for an empty slice.
func Mean(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	return sum / float64(len(y))
}
