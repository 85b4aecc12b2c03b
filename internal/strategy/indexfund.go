package strategy

import (
	"fmt"
)

// NewIndexFund wraps the grid engine with ratio-keeping behavior. Each
// deviation reset first folds realized profit back into the configured
// funds, and the ladders are sized so a full sweep moves the base
// inventory by the configured index deviation.
func NewIndexFund(cfg GridConfig, params IndexFundParams) (*Grid, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cfg.Params = params.GridParams
	g, err := NewGrid(cfg)
	if err != nil {
		return nil, err
	}
	g.statusType = TypeIndexFund
	g.paramsView = params

	g.guard = func(price float64) error {
		if params.UpperRiskLimit > 0 && price >= params.UpperRiskLimit {
			return fmt.Errorf("price %v reached upper risk limit %v", price, params.UpperRiskLimit)
		}
		if params.LowerRiskLimit > 0 && price <= params.LowerRiskLimit {
			return fmt.Errorf("price %v reached lower risk limit %v", price, params.LowerRiskLimit)
		}
		return nil
	}

	// Watermarks keep the fold incremental; realized accumulators stay
	// cumulative for reporting.
	var foldedA, foldedB float64
	g.beforeReset = func(price float64) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.params.AssetAFunds += g.realizedProfitA - foldedA
		g.params.AssetBFunds += g.realizedProfitB - foldedB
		foldedA, foldedB = g.realizedProfitA, g.realizedProfitB
		var ratio float64
		if g.params.AssetAFunds > 0 {
			ratio = g.params.AssetBFunds / g.params.AssetAFunds
		}
		g.logger.Info("rebalanced funds: quote %v, base %v, ratio %v", g.params.AssetAFunds, g.params.AssetBFunds, ratio)
	}

	g.sizeLevels = func(price float64, buyLv, sellLv []float64) ([]float64, []float64) {
		g.mu.Lock()
		base := g.params.AssetBFunds
		growth := g.params.GrowthFactor
		granular := g.params.UseGranularDistribution
		g.mu.Unlock()

		// A full sweep of either ladder shifts the base inventory by
		// exactly the index deviation.
		targetBase := base * params.IndexDeviationThreshold
		n := len(sellLv)
		if granular {
			return granularSizes(targetBase, n, growth), granularSizes(targetBase, n, growth)
		}
		return equalSizes(targetBase, n), equalSizes(targetBase, n)
	}

	return g, nil
}
