package memory

// Relevance converts a batch of distances into scores in [0, 100]:
// (1 - d/maxD) * 100, where maxD is the largest distance in the batch.
// When the batch is empty or every distance is zero, maxD is 1.
//
// Scores are relative to the batch, not absolute: the farthest result in
// any batch of two or more distinct distances scores 0, and a lone
// non-exact result also scores 0.
func Relevance(distances []float32) []float64 {
	out := make([]float64, len(distances))
	maxD := 0.0
	for _, d := range distances {
		if float64(d) > maxD {
			maxD = float64(d)
		}
	}
	if maxD == 0 {
		maxD = 1
	}
	for i, d := range distances {
		out[i] = (1 - float64(d)/maxD) * 100
	}
	return out
}
