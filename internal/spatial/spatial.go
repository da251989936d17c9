// Package spatial answers fixed-radius neighbour queries over point sets.
//
// Two strategies return identical results: a k-d tree for large frames and a
// brute-force scan for small ones. Points must be finite and share one
// dimension.
package spatial

import (
	"fmt"
	"strings"
)

// Index finds the points within a radius of a query point.
type Index interface {
	// Within returns the indices of points at Euclidean distance <= r from
	// p, in ascending order.
	Within(p []float64, r float64) []int
	// Len returns the number of indexed points.
	Len() int
}

// Strategy selects an Index implementation.
type Strategy int

const (
	StrategyKDTree Strategy = iota
	StrategyBrute
)

func (s Strategy) String() string {
	switch s {
	case StrategyKDTree:
		return "kdtree"
	case StrategyBrute:
		return "brute"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ParseStrategy parses "kdtree" or "brute". Empty selects kdtree.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kdtree", "kd":
		return StrategyKDTree, nil
	case "brute", "bruteforce":
		return StrategyBrute, nil
	default:
		return 0, fmt.Errorf("unknown neighbour strategy %q", s)
	}
}

// New indexes points with the given strategy. The points are not copied.
func New(strategy Strategy, points [][]float64) Index {
	if strategy == StrategyBrute {
		return NewBrute(points)
	}
	return NewKDTree(points)
}

// SquaredL2 returns the squared Euclidean distance between a and b.
// Assumes equal length.
func SquaredL2(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
