package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mitchivanov/waverider/internal/botlog"
	"github.com/mitchivanov/waverider/internal/strategy"
	"github.com/mitchivanov/waverider/internal/stream"
	"github.com/mitchivanov/waverider/pkg/db"
	"github.com/mitchivanov/waverider/pkg/exchanges/binance/spot"
	market "github.com/mitchivanov/waverider/pkg/market/binance"
)

// FactoryDeps is the shared infrastructure every bot instance draws on.
// Throttle is the process-wide request pacer shared across bots.
type FactoryDeps struct {
	Store             *db.BotQueries
	Bus               strategy.Notifier
	LogDir            string
	Throttle          *rate.Limiter
	MaxInflightOrders int

	// Optional pacing overrides; zero values keep the engine defaults.
	BatchSize    int
	BatchPause   time.Duration
	LoopInterval time.Duration
}

// NewFactory returns the production strategy factory. Each bot gets its
// own exchange session, price stream, and logger; the raw parameter
// document is decoded per bot type.
func NewFactory(deps FactoryDeps) Factory {
	return func(ctx context.Context, bot db.Bot, rawParams json.RawMessage) (strategy.Strategy, error) {
		gw := spot.New(spot.Config{
			APIKey:            bot.APIKey,
			APISecret:         bot.APISecret,
			Testnet:           bot.Testnet,
			MaxInflightOrders: deps.MaxInflightOrders,
		}, deps.Throttle)

		logger, err := botlog.New(deps.LogDir, bot.ID)
		if err != nil {
			return nil, fmt.Errorf("bot logger: %w", err)
		}

		sampler := stream.NewPriceSampler(bot.Symbol, market.NewStreamClient(bot.Testnet))
		sampler.Start(context.Background())

		cfg := strategy.GridConfig{
			BotID:   bot.ID,
			Symbol:  bot.Symbol,
			Gateway: gw,
			Prices:  sampler,
			Store:   deps.Store,
			Logger:  logger,
			Bus:     deps.Bus,
		}

		var strat strategy.Strategy
		switch bot.Type {
		case strategy.TypeGrid:
			var params strategy.GridParams
			if err := json.Unmarshal(rawParams, &params); err != nil {
				err = fmt.Errorf("decode grid params: %w", err)
				teardown(sampler, logger)
				return nil, err
			}
			strat, err = strategy.NewGrid(withParams(cfg, params))
		case strategy.TypeIndexFund:
			var params strategy.IndexFundParams
			if err := json.Unmarshal(rawParams, &params); err != nil {
				err = fmt.Errorf("decode indexfund params: %w", err)
				teardown(sampler, logger)
				return nil, err
			}
			strat, err = strategy.NewIndexFund(cfg, params)
		case strategy.TypeSellBot:
			var params strategy.SellBotParams
			if err := json.Unmarshal(rawParams, &params); err != nil {
				err = fmt.Errorf("decode sellbot params: %w", err)
				teardown(sampler, logger)
				return nil, err
			}
			strat, err = strategy.NewSellBot(strategy.SellBotConfig{
				BotID: bot.ID, Symbol: bot.Symbol, Params: params,
				Gateway: gw, Prices: sampler, Store: deps.Store, Logger: logger, Bus: deps.Bus,
			})
		default:
			teardown(sampler, logger)
			return nil, fmt.Errorf("unknown bot type %q", bot.Type)
		}
		if err != nil {
			teardown(sampler, logger)
			return nil, err
		}
		applyPacing(strat, deps)
		return strat, nil
	}
}

func applyPacing(strat strategy.Strategy, deps FactoryDeps) {
	switch s := strat.(type) {
	case *strategy.Grid:
		if deps.BatchSize > 0 {
			s.BatchSize = deps.BatchSize
		}
		if deps.BatchPause > 0 {
			s.BatchPause = deps.BatchPause
		}
		if deps.LoopInterval > 0 {
			s.LoopInterval = deps.LoopInterval
		}
	case *strategy.SellBot:
		if deps.BatchSize > 0 {
			s.BatchSize = deps.BatchSize
		}
		if deps.BatchPause > 0 {
			s.BatchPause = deps.BatchPause
		}
		if deps.LoopInterval > 0 {
			s.LoopInterval = deps.LoopInterval
		}
	}
}

func withParams(cfg strategy.GridConfig, params strategy.GridParams) strategy.GridConfig {
	cfg.Params = params
	return cfg
}

func teardown(sampler *stream.PriceSampler, logger *botlog.Logger) {
	sampler.Stop()
	logger.Close()
}
