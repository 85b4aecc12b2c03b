package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Bot types dispatched by the supervisor.
const (
	TypeGrid      = "grid"
	TypeIndexFund = "indexfund"
	TypeSellBot   = "sellbot"
)

// GridParams configures the grid engine. AssetAFunds is quote capital for
// the buy ladder, AssetBFunds base inventory for the sell ladder.
type GridParams struct {
	AssetAFunds             float64 `json:"asset_a_funds"`
	AssetBFunds             float64 `json:"asset_b_funds"`
	Grids                   int     `json:"grids"`
	DeviationThreshold      float64 `json:"deviation_threshold"`
	GrowthFactor            float64 `json:"growth_factor"`
	UseGranularDistribution bool    `json:"use_granular_distribution"`
	// Carried through the API for clients; the engine does not act on them.
	TrailPrice           bool `json:"trail_price"`
	OnlyProfitableTrades bool `json:"only_profitable_trades"`
}

// Validate rejects parameter sets the engine cannot run with.
func (p GridParams) Validate() error {
	if p.Grids < 2 {
		return fmt.Errorf("grids must be at least 2, got %d", p.Grids)
	}
	if p.DeviationThreshold <= 0 || p.DeviationThreshold >= 1 {
		return fmt.Errorf("deviation_threshold must be in (0,1), got %v", p.DeviationThreshold)
	}
	if p.GrowthFactor < 0 {
		return fmt.Errorf("growth_factor must be >= 0, got %v", p.GrowthFactor)
	}
	if p.AssetAFunds <= 0 && p.AssetBFunds <= 0 {
		return errors.New("at least one of asset_a_funds, asset_b_funds must be positive")
	}
	return nil
}

// IndexFundParams extends the grid with a two-asset ratio target and hard
// price bounds the user agreed to.
type IndexFundParams struct {
	GridParams
	RiskAgreement           bool    `json:"risk_agreement"`
	UpperRiskLimit          float64 `json:"upper_risk_limit"`
	LowerRiskLimit          float64 `json:"lower_risk_limit"`
	IndexDeviationThreshold float64 `json:"index_deviation_threshold"`
}

// Validate checks the grid core plus the risk bounds.
func (p IndexFundParams) Validate() error {
	if err := p.GridParams.Validate(); err != nil {
		return err
	}
	if !p.RiskAgreement {
		return errors.New("risk_agreement must be accepted for indexfund bots")
	}
	if p.UpperRiskLimit > 0 && p.LowerRiskLimit > 0 && p.LowerRiskLimit >= p.UpperRiskLimit {
		return fmt.Errorf("lower_risk_limit %v must be below upper_risk_limit %v", p.LowerRiskLimit, p.UpperRiskLimit)
	}
	if p.IndexDeviationThreshold <= 0 {
		return fmt.Errorf("index_deviation_threshold must be positive, got %v", p.IndexDeviationThreshold)
	}
	return nil
}

// RequiredFunds decodes and validates the type-specific parameter
// document and returns the base/quote inventory the bot needs up front.
// Every start path runs this before the bot exists.
func RequiredFunds(botType string, raw []byte) (baseNeeded, quoteNeeded float64, err error) {
	switch botType {
	case TypeGrid:
		var p GridParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return 0, 0, fmt.Errorf("decode grid params: %w", err)
		}
		if err := p.Validate(); err != nil {
			return 0, 0, err
		}
		return p.AssetBFunds, p.AssetAFunds, nil
	case TypeIndexFund:
		var p IndexFundParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return 0, 0, fmt.Errorf("decode indexfund params: %w", err)
		}
		if err := p.Validate(); err != nil {
			return 0, 0, err
		}
		return p.AssetBFunds, p.AssetAFunds, nil
	case TypeSellBot:
		var p SellBotParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return 0, 0, fmt.Errorf("decode sellbot params: %w", err)
		}
		if err := p.Validate(); err != nil {
			return 0, 0, err
		}
		return p.BatchSize * float64(p.NumLevels), 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown bot type %q", botType)
	}
}

// SellBotParams configures the static sell ladder.
type SellBotParams struct {
	MinPrice          float64 `json:"min_price"`
	MaxPrice          float64 `json:"max_price"`
	NumLevels         int     `json:"num_levels"`
	ResetThresholdPct float64 `json:"reset_threshold_pct"`
	BatchSize         float64 `json:"batch_size"`
}

// Validate rejects ladders that cannot be spaced.
func (p SellBotParams) Validate() error {
	if p.NumLevels < 2 {
		return fmt.Errorf("num_levels must be at least 2, got %d", p.NumLevels)
	}
	if p.MinPrice <= 0 || p.MaxPrice <= p.MinPrice {
		return fmt.Errorf("price range [%v, %v] is invalid", p.MinPrice, p.MaxPrice)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %v", p.BatchSize)
	}
	if p.ResetThresholdPct < 0 || p.ResetThresholdPct >= 100 {
		return fmt.Errorf("reset_threshold_pct must be in [0,100), got %v", p.ResetThresholdPct)
	}
	return nil
}
