package vector

// SquaredL2 returns the squared Euclidean distance between a and b, accumulated in float64.
// Vectors must have the same length.
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}
