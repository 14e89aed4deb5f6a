package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	n := L2Norm(x)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range x {
		x[i] *= inv
	}
}

// L2Norm returns the Euclidean length of x.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Dot returns the inner product of a and b. Callers must pass equal lengths.
func Dot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
