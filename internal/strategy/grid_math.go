package strategy

// gridStep is the price distance between adjacent levels: the full
// deviation band divided into `grids` slices of the anchor price.
func gridStep(deviationThreshold float64, grids int, initialPrice float64) float64 {
	return deviationThreshold / float64(grids) * initialPrice
}

// buyLevels returns grids prices descending below the anchor.
func buyLevels(initialPrice, step float64, grids int) []float64 {
	levels := make([]float64, grids)
	for i := 1; i <= grids; i++ {
		levels[i-1] = initialPrice - float64(i)*step
	}
	return levels
}

// sellLevels returns grids prices ascending above the anchor.
func sellLevels(initialPrice, step float64, grids int) []float64 {
	levels := make([]float64, grids)
	for i := 1; i <= grids; i++ {
		levels[i-1] = initialPrice + float64(i)*step
	}
	return levels
}

// granularSizes splits total capital across the grid with linear growth:
// the first slice is x1 = T / (n + g*n*(n-1)/2) and slice i is x1*(1+g*i),
// so the slices sum back to T.
func granularSizes(total float64, grids int, growth float64) []float64 {
	n := float64(grids)
	first := total / (n + growth*n*(n-1)/2)
	sizes := make([]float64, grids)
	for i := 0; i < grids; i++ {
		sizes[i] = first * (1 + growth*float64(i))
	}
	return sizes
}

// equalSizes splits total capital evenly.
func equalSizes(total float64, grids int) []float64 {
	sizes := make([]float64, grids)
	for i := range sizes {
		sizes[i] = total / float64(grids)
	}
	return sizes
}
