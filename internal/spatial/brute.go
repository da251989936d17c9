package spatial

// Brute scans every point on each query.
type Brute struct {
	points [][]float64
}

// NewBrute creates a brute-force index.
func NewBrute(points [][]float64) *Brute {
	return &Brute{points: points}
}

func (b *Brute) Within(p []float64, r float64) []int {
	r2 := r * r
	var out []int
	for i, q := range b.points {
		if SquaredL2(p, q) <= r2 {
			out = append(out, i)
		}
	}
	return out
}

func (b *Brute) Len() int {
	return len(b.points)
}
