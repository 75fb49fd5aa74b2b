package zarr

import "math"

const (
	// DefaultChunkBudget is the target decoded chunk size for auto sizing.
	DefaultChunkBudget = 32 << 20
	// DefaultMinChunkEdge is the smallest edge auto sizing will pick.
	DefaultMinChunkEdge = 64
)

// ChunkSizing decides the planar edge of [C, E, E] chunks.
type ChunkSizing struct {
	Edge    int // fixed edge; zero selects automatically
	Budget  int // bytes per chunk for auto sizing
	MinEdge int
}

// AutoEdge returns the largest E with channels*E*E*sampleBytes <= budget,
// never below minEdge.
func AutoEdge(channels, sampleBytes, budget, minEdge int) int {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}
	if minEdge <= 0 {
		minEdge = DefaultMinChunkEdge
	}
	per := channels * sampleBytes
	if per <= 0 {
		return minEdge
	}
	e := int(math.Sqrt(float64(budget) / float64(per)))
	for e > 0 && per*e*e > budget {
		e--
	}
	for per*(e+1)*(e+1) <= budget {
		e++
	}
	return max(e, minEdge)
}

// Chunks returns the chunk shape for a C x height x width level. The edge is
// clamped per axis to the level's own size.
func (s ChunkSizing) Chunks(channels, height, width, sampleBytes int) []int {
	edge := s.Edge
	if edge <= 0 {
		edge = AutoEdge(channels, sampleBytes, s.Budget, s.MinEdge)
	}
	return []int{channels, max(1, min(edge, height)), max(1, min(edge, width))}
}
