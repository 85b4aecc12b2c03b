package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchivanov/waverider/internal/botlog"
	"github.com/mitchivanov/waverider/pkg/db"
	"github.com/mitchivanov/waverider/pkg/exchanges/binance/spot"
	"github.com/mitchivanov/waverider/pkg/exchanges/common"
	"github.com/mitchivanov/waverider/pkg/retry"
)

// sellLevel is one rung of the static ladder.
type sellLevel struct {
	price   float64
	orderID string // empty when no live order holds the level
}

// SellBotConfig bundles the per-bot services the sell ladder owns.
type SellBotConfig struct {
	BotID   int64
	Symbol  string
	Params  SellBotParams
	Gateway Gateway
	Prices  PriceSource
	Store   *db.BotQueries
	Logger  *botlog.Logger
	Bus     Notifier
}

// SellBot sustains a static wall of limit sells evenly spaced across a
// price range. Fills are recorded as closed trades; when price falls far
// enough below the last fill, vacated levels at or below the market are
// re-seeded.
type SellBot struct {
	botID  int64
	symbol string
	params SellBotParams

	gw     Gateway
	prices PriceSource
	store  *db.BotQueries
	logger *botlog.Logger
	bus    Notifier

	BatchSize    int
	BatchPause   time.Duration
	LoopInterval time.Duration

	filters *common.SymbolFilters

	mu              sync.Mutex
	running         bool
	levels          []sellLevel
	lastFilled      float64
	realizedQuote   float64
	completedTrades int

	stopFlag atomic.Bool
	stopOnce sync.Once
}

// NewSellBot builds a sell ladder engine.
func NewSellBot(cfg SellBotConfig) (*SellBot, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	return &SellBot{
		botID:        cfg.BotID,
		symbol:       cfg.Symbol,
		params:       cfg.Params,
		gw:           cfg.Gateway,
		prices:       cfg.Prices,
		store:        cfg.Store,
		logger:       cfg.Logger,
		bus:          cfg.Bus,
		BatchSize:    5,
		BatchPause:   time.Second,
		LoopInterval: time.Second,
	}, nil
}

func (s *SellBot) BotID() int64 { return s.botID }
func (s *SellBot) Type() string { return TypeSellBot }

// Execute seeds the full ladder and then watches for fills and resets.
func (s *SellBot) Execute(ctx context.Context) error {
	filters, err := s.gw.GetSymbolFilters(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("symbol filters: %w", err)
	}
	s.filters = filters

	if _, err := s.prices.WaitForPrice(ctx); err != nil {
		return fmt.Errorf("first price tick: %w", err)
	}

	interval := (s.params.MaxPrice - s.params.MinPrice) / float64(s.params.NumLevels-1)
	levels := make([]sellLevel, s.params.NumLevels)
	for i := range levels {
		levels[i] = sellLevel{price: s.params.MinPrice + float64(i)*interval}
	}
	s.mu.Lock()
	s.levels = levels
	s.running = true
	s.mu.Unlock()

	s.logger.Info("sell ladder spans [%v, %v] across %d levels", s.params.MinPrice, s.params.MaxPrice, s.params.NumLevels)
	s.seedLevels(ctx, func(sellLevel) bool { return true })

	ticker := time.NewTicker(s.LoopInterval)
	defer ticker.Stop()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		if s.stopFlag.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		s.scanFills(ctx)

		price, ok := s.prices.Current()
		if !ok {
			continue
		}
		s.mu.Lock()
		last := s.lastFilled
		s.mu.Unlock()
		if last > 0 && price < last*(1-s.params.ResetThresholdPct/100) {
			s.logger.Info("price %v dropped below reset bound of last fill %v, re-seeding", price, last)
			s.seedLevels(ctx, func(lv sellLevel) bool {
				return lv.orderID == "" && lv.price <= price
			})
			s.mu.Lock()
			s.lastFilled = 0
			s.mu.Unlock()
		}
	}
}

// seedLevels places one sell of batch size on every level accepted by
// want. Per-level failures are logged and the level stays vacant.
func (s *SellBot) seedLevels(ctx context.Context, want func(sellLevel) bool) {
	s.mu.Lock()
	snapshot := append([]sellLevel(nil), s.levels...)
	s.mu.Unlock()

	placed := 0
	for i, lv := range snapshot {
		if !want(lv) || lv.orderID != "" {
			continue
		}
		if placed > 0 && placed%s.BatchSize == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.BatchPause):
			}
		}
		if s.stopFlag.Load() {
			return
		}
		placed++

		price := spot.RoundPrice(s.filters, lv.price)
		qty := spot.RoundQty(s.filters, s.params.BatchSize)
		if err := spot.ValidateOrder(s.filters, price, qty); err != nil {
			s.logger.Error("level %v rejected by filters: %v", lv.price, err)
			continue
		}

		var ack *common.OrderAck
		err := retry.Do(ctx, retry.PlacementPolicy, spot.IsTransient, func() error {
			a, err := s.gw.PlaceLimitOrder(ctx, s.symbol, common.SideSell, qty, price)
			if err != nil {
				return err
			}
			ack = a
			return nil
		})
		if err != nil {
			s.logger.Error("seed sell at %v failed: %v", lv.price, err)
			continue
		}

		if err := s.store.UpsertActiveOrder(ctx, db.ActiveOrder{
			BotID: s.botID, OrderID: ack.OrderID, OrderType: orderTypeSell,
			IsInitial: true, Price: ack.Price, Quantity: ack.OrigQty,
		}); err != nil {
			s.logger.Error("persist active order %s: %v", ack.OrderID, err)
		}
		if err := s.store.UpsertOrderRecord(ctx, db.OrderRecord{
			BotID: s.botID, OrderID: ack.OrderID, OrderType: orderTypeSell,
			IsInitial: true, Price: ack.Price, Quantity: ack.OrigQty,
			Status: db.OrderStatusOpen,
		}); err != nil {
			s.logger.Error("persist order record %s: %v", ack.OrderID, err)
		}

		s.mu.Lock()
		s.levels[i].orderID = ack.OrderID
		s.mu.Unlock()
		s.logger.Info("ladder sell %s placed: %v @ %v", ack.OrderID, ack.OrigQty, ack.Price)
	}
}

// scanFills polls every live rung and records fills as closed trades.
func (s *SellBot) scanFills(ctx context.Context) {
	s.mu.Lock()
	snapshot := append([]sellLevel(nil), s.levels...)
	s.mu.Unlock()

	for i, lv := range snapshot {
		if lv.orderID == "" {
			continue
		}
		status, err := s.gw.GetOrderStatus(ctx, s.symbol, lv.orderID)
		if err != nil {
			s.logger.Error("status poll %s: %v", lv.orderID, err)
			continue
		}
		if status != common.StatusFilled {
			continue
		}

		qty := spot.RoundQty(s.filters, s.params.BatchSize)
		proceeds := lv.price * qty

		if err := s.store.SetOrderStatus(ctx, s.botID, lv.orderID, db.OrderStatusFilled); err != nil {
			s.logger.Error("mark %s filled: %v", lv.orderID, err)
		}
		if err := s.store.DeleteActiveOrder(ctx, s.botID, lv.orderID); err != nil {
			s.logger.Error("drop active order %s: %v", lv.orderID, err)
		}
		if _, err := s.store.InsertTrade(ctx, db.Trade{
			BotID:       s.botID,
			TradeType:   "SELL",
			SellPrice:   lv.price,
			Quantity:    qty,
			Profit:      proceeds,
			ProfitAsset: s.filters.QuoteAsset,
			Status:      db.TradeStatusClosed,
			SellOrderID: lv.orderID,
		}); err != nil {
			s.logger.Error("record ladder fill %s: %v", lv.orderID, err)
		}

		s.mu.Lock()
		s.levels[i].orderID = ""
		s.lastFilled = lv.price
		s.realizedQuote += proceeds
		s.completedTrades++
		s.mu.Unlock()

		s.logger.Info("ladder sell %s filled at %v for %v", lv.orderID, lv.price, proceeds)
		s.bus.Notify("new_trade", s.botID, map[string]any{
			"trade_type": "SELL",
			"sell_price": lv.price,
			"quantity":   qty,
		})
	}
}

// Stop is idempotent: flag the loop, cancel open orders, clear state.
func (s *SellBot) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopFlag.Store(true)

		if err := s.gw.CancelAllOpen(ctx, s.symbol); err != nil {
			s.logger.Error("cancel open orders on stop: %v", err)
		}
		if err := s.store.DeleteActiveOrdersByBot(ctx, s.botID); err != nil {
			s.logger.Error("purge active orders on stop: %v", err)
		}

		s.mu.Lock()
		for i := range s.levels {
			s.levels[i].orderID = ""
		}
		s.running = false
		s.mu.Unlock()

		s.prices.Stop()
		s.logger.Info("strategy stopped")
		s.logger.Close()
	})
	return nil
}

// Status derives a fresh snapshot of the ladder.
func (s *SellBot) Status(ctx context.Context) Status {
	price, _ := s.prices.Current()

	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]ActiveOrderView, 0, len(s.levels))
	for _, lv := range s.levels {
		if lv.orderID == "" {
			continue
		}
		views = append(views, ActiveOrderView{
			OrderID: lv.orderID, OrderType: orderTypeSell, IsInitial: true,
			Price: lv.price, Quantity: s.params.BatchSize,
		})
	}

	return Status{
		BotID:                s.botID,
		Type:                 TypeSellBot,
		Symbol:               s.symbol,
		Running:              s.running,
		CurrentPrice:         price,
		InitialPrice:         s.params.MinPrice,
		RealizedProfitA:      s.realizedQuote,
		TotalProfitUSDT:      s.realizedQuote,
		ActiveOrdersCount:    len(views),
		CompletedTradesCount: s.completedTrades,
		ActiveOrders:         views,
		InitialParameters:    s.params,
	}
}
