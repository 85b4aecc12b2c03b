package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchivanov/waverider/internal/botlog"
	"github.com/mitchivanov/waverider/pkg/db"
	"github.com/mitchivanov/waverider/pkg/exchanges/binance/spot"
	"github.com/mitchivanov/waverider/pkg/exchanges/common"
	"github.com/mitchivanov/waverider/pkg/retry"
)

// Order side labels as persisted.
const (
	orderTypeBuy  = "buy"
	orderTypeSell = "sell"
)

// Trade directions.
const (
	TradeBuySell = "BUY_SELL"
	TradeSellBuy = "SELL_BUY"
)

// errExpiredInMatch drives the nudged-price retry inside placement.
var errExpiredInMatch = errors.New("order expired in match")

// position is one live initial order tracked by the engine.
type position struct {
	orderID string
	price   float64
	qty     float64
}

// openTrade pairs a filled initial leg with its live counter order.
type openTrade struct {
	tradeType   string
	buyOrderID  string
	sellOrderID string
	buyPrice    float64
	sellPrice   float64
	qty         float64
}

// GridConfig bundles the per-bot services a grid engine owns.
type GridConfig struct {
	BotID   int64
	Symbol  string
	Params  GridParams
	Gateway Gateway
	Prices  PriceSource
	Store   *db.BotQueries
	Logger  *botlog.Logger
	Bus     Notifier
}

// Grid partitions capital into a symmetric price ladder around an anchor,
// keeps paired limit orders alive, and realizes profit when a counter
// order closes a two-legged trade.
type Grid struct {
	botID  int64
	symbol string
	params GridParams

	gw     Gateway
	prices PriceSource
	store  *db.BotQueries
	logger *botlog.Logger
	bus    Notifier

	// Placement pacing; tests shrink these.
	BatchSize    int
	BatchPause   time.Duration
	LoopInterval time.Duration

	filters *common.SymbolFilters

	mu              sync.Mutex
	running         bool
	initialPrice    float64
	step            float64
	lastPrice       float64
	buyPositions    []position
	sellPositions   []position
	openTrades      []openTrade
	realizedProfitA float64 // quote asset
	realizedProfitB float64 // base asset
	completedTrades int

	stopFlag atomic.Bool
	stopOnce sync.Once

	// Variant hooks. Nil means plain grid behavior.
	sizeLevels  func(price float64, buyLv, sellLv []float64) (buyQty, sellQty []float64)
	beforeReset func(price float64)
	guard       func(price float64) error

	statusType string
	paramsView any
}

// NewGrid builds a grid engine. The caller has already verified funding.
func NewGrid(cfg GridConfig) (*Grid, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	return &Grid{
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
		statusType:   TypeGrid,
		paramsView:   cfg.Params,
	}, nil
}

func (g *Grid) BotID() int64 { return g.botID }
func (g *Grid) Type() string { return g.statusType }

// Execute runs initialization and the steady-state loop until Stop.
// No failure inside the loop escapes; each converges on a log line.
func (g *Grid) Execute(ctx context.Context) error {
	filters, err := g.gw.GetSymbolFilters(ctx, g.symbol)
	if err != nil {
		return fmt.Errorf("symbol filters: %w", err)
	}
	g.filters = filters

	price, err := g.prices.WaitForPrice(ctx)
	if err != nil {
		return fmt.Errorf("first price tick: %w", err)
	}

	g.mu.Lock()
	g.initialPrice = price
	g.step = gridStep(g.params.DeviationThreshold, g.params.Grids, price)
	g.running = true
	g.mu.Unlock()

	g.logger.Info("grid anchored at %v, step %v", price, g.step)
	g.placeInitialOrders(ctx, price)

	ticker := time.NewTicker(g.LoopInterval)
	defer ticker.Stop()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	for {
		if g.stopFlag.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		price, ok := g.prices.Current()
		if !ok {
			continue
		}
		g.mu.Lock()
		unchanged := price == g.lastPrice
		g.lastPrice = price
		initialPrice := g.initialPrice
		g.mu.Unlock()
		if unchanged {
			continue
		}

		if g.guard != nil {
			if err := g.guard(price); err != nil {
				g.logger.Error("risk guard tripped: %v", err)
				g.bus.Notify("risk_limit", g.botID, map[string]any{"reason": err.Error(), "price": price})
				g.Stop(ctx)
				return nil
			}
		}

		deviation := (price - initialPrice) / initialPrice
		if math.Abs(deviation) >= g.params.DeviationThreshold {
			g.logger.Info("deviation %.5f breached threshold %.5f, resetting grid", deviation, g.params.DeviationThreshold)
			g.resetGrid(ctx, price)
			continue
		}

		g.scanInitialOrders(ctx)
		g.scanOpenTrades(ctx)
	}
}

// placeInitialOrders computes ladders and sizes and places all 2*grids
// orders in paced batches. Per-level failures are logged and skipped.
func (g *Grid) placeInitialOrders(ctx context.Context, price float64) {
	g.mu.Lock()
	initialPrice := g.initialPrice
	step := g.step
	g.mu.Unlock()

	buyLv := buyLevels(initialPrice, step, g.params.Grids)
	sellLv := sellLevels(initialPrice, step, g.params.Grids)

	var buyQty, sellQty []float64
	if g.sizeLevels != nil {
		buyQty, sellQty = g.sizeLevels(price, buyLv, sellLv)
	} else {
		buyQty, sellQty = g.defaultSizes(price, buyLv)
	}

	type intent struct {
		side  common.Side
		price float64
		qty   float64
	}
	intents := make([]intent, 0, 2*g.params.Grids)
	for i, lv := range buyLv {
		intents = append(intents, intent{common.SideBuy, lv, buyQty[i]})
	}
	for i, lv := range sellLv {
		intents = append(intents, intent{common.SideSell, lv, sellQty[i]})
	}

	for i, in := range intents {
		if i > 0 && i%g.BatchSize == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.BatchPause):
			}
		}
		if g.stopFlag.Load() {
			return
		}
		ack, err := g.placeWithRetry(ctx, in.side, in.qty, in.price)
		if err != nil {
			g.logger.Error("initial %s at %v failed: %v", in.side, in.price, err)
			continue
		}
		g.recordInitialOrder(ctx, ack, in.side)
	}
}

// defaultSizes splits the configured capital across levels. Granular distribution
// grows level sizes linearly; buys convert quote capital to base using
// the current price. Equal distribution divides each buy slice by its own
// level price instead.
func (g *Grid) defaultSizes(price float64, buyLv []float64) (buyQty, sellQty []float64) {
	n := g.params.Grids
	if g.params.UseGranularDistribution {
		quoteSlices := granularSizes(g.params.AssetAFunds, n, g.params.GrowthFactor)
		buyQty = make([]float64, n)
		for i, s := range quoteSlices {
			buyQty[i] = s / price
		}
		sellQty = granularSizes(g.params.AssetBFunds, n, g.params.GrowthFactor)
		return buyQty, sellQty
	}
	buyQty = make([]float64, n)
	for i, lv := range buyLv {
		buyQty[i] = g.params.AssetAFunds / float64(n) / lv
	}
	sellQty = equalSizes(g.params.AssetBFunds, n)
	return buyQty, sellQty
}

// placeWithRetry rounds, validates, and submits one limit order. Transient
// failures back off and retry; an EXPIRED_IN_MATCH ack retries with the
// price nudged toward fill (buy up, sell down). Filter violations are
// fatal-logged and never reach the exchange.
func (g *Grid) placeWithRetry(ctx context.Context, side common.Side, qty, price float64) (*common.OrderAck, error) {
	price = spot.RoundPrice(g.filters, price)
	qty = spot.RoundQty(g.filters, qty)
	if err := spot.ValidateOrder(g.filters, price, qty); err != nil {
		return nil, g.logger.Fatal("order %s %v@%v rejected before submit: %v", side, qty, price, err)
	}

	attemptPrice := price
	var ack *common.OrderAck
	err := retry.Do(ctx, retry.PlacementPolicy, func(err error) bool {
		return errors.Is(err, errExpiredInMatch) || spot.IsTransient(err)
	}, func() error {
		a, err := g.gw.PlaceLimitOrder(ctx, g.symbol, side, qty, attemptPrice)
		if err != nil {
			return err
		}
		if a.Status == common.StatusExpiredInMatch {
			if side == common.SideBuy {
				attemptPrice = spot.RoundPrice(g.filters, attemptPrice*1.0001)
			} else {
				attemptPrice = spot.RoundPrice(g.filters, attemptPrice*0.9999)
			}
			return errExpiredInMatch
		}
		ack = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// recordInitialOrder persists a freshly placed grid order and tracks it
// in the engine's position lists.
func (g *Grid) recordInitialOrder(ctx context.Context, ack *common.OrderAck, side common.Side) {
	ot := orderTypeBuy
	if side == common.SideSell {
		ot = orderTypeSell
	}
	if err := g.store.UpsertActiveOrder(ctx, db.ActiveOrder{
		BotID: g.botID, OrderID: ack.OrderID, OrderType: ot,
		IsInitial: true, Price: ack.Price, Quantity: ack.OrigQty,
	}); err != nil {
		g.logger.Error("persist active order %s: %v", ack.OrderID, err)
	}
	if err := g.store.UpsertOrderRecord(ctx, db.OrderRecord{
		BotID: g.botID, OrderID: ack.OrderID, OrderType: ot,
		IsInitial: true, Price: ack.Price, Quantity: ack.OrigQty,
		Status: db.OrderStatusOpen,
	}); err != nil {
		g.logger.Error("persist order record %s: %v", ack.OrderID, err)
	}

	g.mu.Lock()
	p := position{orderID: ack.OrderID, price: ack.Price, qty: ack.OrigQty}
	if side == common.SideBuy {
		g.buyPositions = append(g.buyPositions, p)
	} else {
		g.sellPositions = append(g.sellPositions, p)
	}
	g.mu.Unlock()

	g.logger.Info("initial %s order %s placed: %v @ %v", ot, ack.OrderID, ack.OrigQty, ack.Price)
}

// scanInitialOrders polls every tracked initial order and converts fills
// into counter orders plus an OPEN trade row.
func (g *Grid) scanInitialOrders(ctx context.Context) {
	g.mu.Lock()
	buys := append([]position(nil), g.buyPositions...)
	sells := append([]position(nil), g.sellPositions...)
	step := g.step
	g.mu.Unlock()

	for _, pos := range buys {
		status, err := g.gw.GetOrderStatus(ctx, g.symbol, pos.orderID)
		if err != nil {
			g.logger.Error("status poll buy %s: %v", pos.orderID, err)
			continue
		}
		if status != common.StatusFilled {
			continue
		}
		g.onInitialBuyFilled(ctx, pos, pos.price+step)
	}

	for _, pos := range sells {
		status, err := g.gw.GetOrderStatus(ctx, g.symbol, pos.orderID)
		if err != nil {
			g.logger.Error("status poll sell %s: %v", pos.orderID, err)
			continue
		}
		if status != common.StatusFilled {
			continue
		}
		g.onInitialSellFilled(ctx, pos, pos.price-step)
	}
}

func (g *Grid) onInitialBuyFilled(ctx context.Context, pos position, sellPrice float64) {
	g.logger.Info("initial buy %s filled at %v", pos.orderID, pos.price)
	g.settleInitialFill(ctx, pos, orderTypeBuy)

	ack, err := g.placeWithRetry(ctx, common.SideSell, pos.qty, sellPrice)
	if err != nil {
		g.logger.Error("counter sell for buy %s failed: %v", pos.orderID, err)
		return
	}
	g.recordCounterOrder(ctx, ack, orderTypeSell)

	trade := db.Trade{
		BotID:       g.botID,
		TradeType:   TradeBuySell,
		BuyPrice:    pos.price,
		SellPrice:   ack.Price,
		Quantity:    ack.OrigQty,
		ProfitAsset: g.filters.QuoteAsset,
		Status:      db.TradeStatusOpen,
		BuyOrderID:  pos.orderID,
		SellOrderID: ack.OrderID,
	}
	if _, err := g.store.InsertTrade(ctx, trade); err != nil {
		g.logger.Error("persist trade for buy %s: %v", pos.orderID, err)
	}

	g.mu.Lock()
	g.openTrades = append(g.openTrades, openTrade{
		tradeType:   TradeBuySell,
		buyOrderID:  pos.orderID,
		sellOrderID: ack.OrderID,
		buyPrice:    pos.price,
		sellPrice:   ack.Price,
		qty:         ack.OrigQty,
	})
	g.mu.Unlock()

	g.bus.Notify("new_trade", g.botID, map[string]any{
		"trade_type": TradeBuySell,
		"buy_price":  pos.price,
		"sell_price": ack.Price,
		"quantity":   ack.OrigQty,
	})
}

func (g *Grid) onInitialSellFilled(ctx context.Context, pos position, buyPrice float64) {
	g.logger.Info("initial sell %s filled at %v", pos.orderID, pos.price)
	g.settleInitialFill(ctx, pos, orderTypeSell)

	ack, err := g.placeWithRetry(ctx, common.SideBuy, pos.qty, buyPrice)
	if err != nil {
		g.logger.Error("counter buy for sell %s failed: %v", pos.orderID, err)
		return
	}
	g.recordCounterOrder(ctx, ack, orderTypeBuy)

	trade := db.Trade{
		BotID:       g.botID,
		TradeType:   TradeSellBuy,
		BuyPrice:    ack.Price,
		SellPrice:   pos.price,
		Quantity:    ack.OrigQty,
		ProfitAsset: g.filters.BaseAsset,
		Status:      db.TradeStatusOpen,
		BuyOrderID:  ack.OrderID,
		SellOrderID: pos.orderID,
	}
	if _, err := g.store.InsertTrade(ctx, trade); err != nil {
		g.logger.Error("persist trade for sell %s: %v", pos.orderID, err)
	}

	g.mu.Lock()
	g.openTrades = append(g.openTrades, openTrade{
		tradeType:   TradeSellBuy,
		buyOrderID:  ack.OrderID,
		sellOrderID: pos.orderID,
		buyPrice:    ack.Price,
		sellPrice:   pos.price,
		qty:         ack.OrigQty,
	})
	g.mu.Unlock()

	g.bus.Notify("new_trade", g.botID, map[string]any{
		"trade_type": TradeSellBuy,
		"buy_price":  ack.Price,
		"sell_price": pos.price,
		"quantity":   ack.OrigQty,
	})
}

// settleInitialFill marks the order FILLED in history and drops it from
// the live set, both in memory and in the store.
func (g *Grid) settleInitialFill(ctx context.Context, pos position, orderType string) {
	if err := g.store.SetOrderStatus(ctx, g.botID, pos.orderID, db.OrderStatusFilled); err != nil {
		g.logger.Error("mark %s filled: %v", pos.orderID, err)
	}
	if err := g.store.DeleteActiveOrder(ctx, g.botID, pos.orderID); err != nil {
		g.logger.Error("drop active order %s: %v", pos.orderID, err)
	}

	g.mu.Lock()
	if orderType == orderTypeBuy {
		g.buyPositions = removePosition(g.buyPositions, pos.orderID)
	} else {
		g.sellPositions = removePosition(g.sellPositions, pos.orderID)
	}
	g.mu.Unlock()
}

func (g *Grid) recordCounterOrder(ctx context.Context, ack *common.OrderAck, orderType string) {
	if err := g.store.UpsertActiveOrder(ctx, db.ActiveOrder{
		BotID: g.botID, OrderID: ack.OrderID, OrderType: orderType,
		IsInitial: false, Price: ack.Price, Quantity: ack.OrigQty,
	}); err != nil {
		g.logger.Error("persist counter order %s: %v", ack.OrderID, err)
	}
	if err := g.store.UpsertOrderRecord(ctx, db.OrderRecord{
		BotID: g.botID, OrderID: ack.OrderID, OrderType: orderType,
		IsInitial: false, Price: ack.Price, Quantity: ack.OrigQty,
		Status: db.OrderStatusOpen,
	}); err != nil {
		g.logger.Error("persist counter record %s: %v", ack.OrderID, err)
	}
	g.logger.Info("counter %s order %s placed: %v @ %v", orderType, ack.OrderID, ack.OrigQty, ack.Price)
}

// scanOpenTrades polls counter legs and closes trades on fill. A missing
// OPEN row is an anomaly: logged, never fabricated.
func (g *Grid) scanOpenTrades(ctx context.Context) {
	g.mu.Lock()
	trades := append([]openTrade(nil), g.openTrades...)
	g.mu.Unlock()

	for _, ot := range trades {
		counterID := ot.sellOrderID
		if ot.tradeType == TradeSellBuy {
			counterID = ot.buyOrderID
		}
		status, err := g.gw.GetOrderStatus(ctx, g.symbol, counterID)
		if err != nil {
			g.logger.Error("status poll counter %s: %v", counterID, err)
			continue
		}
		if status != common.StatusFilled {
			continue
		}

		var profit float64
		if ot.tradeType == TradeBuySell {
			profit = (ot.sellPrice - ot.buyPrice) * ot.qty
		} else {
			profit = ot.qty * (ot.sellPrice/ot.buyPrice - 1)
		}

		if err := g.store.SetOrderStatus(ctx, g.botID, counterID, db.OrderStatusFilled); err != nil {
			g.logger.Error("mark counter %s filled: %v", counterID, err)
		}
		if err := g.store.DeleteActiveOrder(ctx, g.botID, counterID); err != nil {
			g.logger.Error("drop counter order %s: %v", counterID, err)
		}
		if err := g.store.CloseOpenTrade(ctx, g.botID, ot.buyPrice, ot.qty, profit); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				g.logger.Warning("no OPEN trade row matching buy %v qty %v", ot.buyPrice, ot.qty)
			} else {
				g.logger.Error("close trade: %v", err)
			}
		}

		g.mu.Lock()
		if ot.tradeType == TradeBuySell {
			g.realizedProfitA += profit
		} else {
			g.realizedProfitB += profit
		}
		g.completedTrades++
		g.openTrades = removeTrade(g.openTrades, counterID)
		g.mu.Unlock()

		g.logger.Info("trade closed %s: profit %v %s", ot.tradeType, profit, func() string {
			if ot.tradeType == TradeBuySell {
				return g.filters.QuoteAsset
			}
			return g.filters.BaseAsset
		}())
		g.bus.Notify("trade_closed", g.botID, map[string]any{
			"trade_type": ot.tradeType,
			"profit":     profit,
		})
	}
}

// resetGrid cancels only the surviving initial orders, re-anchors at the
// current price, and rebuilds the ladder. Counter orders stay alive so
// open trades can still close.
func (g *Grid) resetGrid(ctx context.Context, price float64) {
	if g.beforeReset != nil {
		g.beforeReset(price)
	}

	rows, err := g.store.GetInitialActiveOrders(ctx, g.botID)
	if err != nil {
		g.logger.Error("list initial orders for reset: %v", err)
		return
	}

	for _, row := range rows {
		row := row
		err := retry.Do(ctx, retry.CancelPolicy, spot.IsTransient, func() error {
			return g.gw.CancelOrder(ctx, g.symbol, row.OrderID)
		})
		if err != nil {
			g.logger.Error("cancel %s during reset: %v", row.OrderID, err)
			continue
		}
		if err := g.store.SetOrderStatus(ctx, g.botID, row.OrderID, db.OrderStatusCanceled); err != nil {
			g.logger.Error("mark %s canceled: %v", row.OrderID, err)
		}
		if err := g.store.DeleteActiveOrder(ctx, g.botID, row.OrderID); err != nil {
			g.logger.Error("drop %s after cancel: %v", row.OrderID, err)
		}
		g.mu.Lock()
		g.buyPositions = removePosition(g.buyPositions, row.OrderID)
		g.sellPositions = removePosition(g.sellPositions, row.OrderID)
		g.mu.Unlock()
	}

	g.mu.Lock()
	g.initialPrice = price
	g.step = gridStep(g.params.DeviationThreshold, g.params.Grids, price)
	g.mu.Unlock()

	g.logger.Info("grid re-anchored at %v", price)
	g.placeInitialOrders(ctx, price)
}

// Stop is idempotent: flag the loop, cancel open exchange orders, clear
// state, close the logger and price stream.
func (g *Grid) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() {
		g.stopFlag.Store(true)

		if err := g.gw.CancelAllOpen(ctx, g.symbol); err != nil {
			g.logger.Error("cancel open orders on stop: %v", err)
		}
		if err := g.store.DeleteActiveOrdersByBot(ctx, g.botID); err != nil {
			g.logger.Error("purge active orders on stop: %v", err)
		}

		g.mu.Lock()
		g.buyPositions = nil
		g.sellPositions = nil
		g.openTrades = nil
		g.running = false
		g.mu.Unlock()

		g.prices.Stop()
		g.logger.Info("strategy stopped")
		g.logger.Close()
	})
	return nil
}

// Status derives a fresh snapshot; nothing is cached between calls.
func (g *Grid) Status(ctx context.Context) Status {
	price, _ := g.prices.Current()

	g.mu.Lock()
	defer g.mu.Unlock()

	var deviation float64
	if g.initialPrice > 0 {
		deviation = (price - g.initialPrice) / g.initialPrice
	}

	var unrealA, unrealB float64
	for _, ot := range g.openTrades {
		if ot.tradeType == TradeBuySell {
			unrealA += (price - ot.buyPrice) * ot.qty
		} else if price > 0 {
			unrealB += ot.qty * (ot.sellPrice/price - 1)
		}
	}

	views := make([]ActiveOrderView, 0, len(g.buyPositions)+len(g.sellPositions)+len(g.openTrades))
	for _, p := range g.buyPositions {
		views = append(views, ActiveOrderView{OrderID: p.orderID, OrderType: orderTypeBuy, IsInitial: true, Price: p.price, Quantity: p.qty})
	}
	for _, p := range g.sellPositions {
		views = append(views, ActiveOrderView{OrderID: p.orderID, OrderType: orderTypeSell, IsInitial: true, Price: p.price, Quantity: p.qty})
	}
	for _, ot := range g.openTrades {
		if ot.tradeType == TradeBuySell {
			views = append(views, ActiveOrderView{OrderID: ot.sellOrderID, OrderType: orderTypeSell, Price: ot.sellPrice, Quantity: ot.qty})
		} else {
			views = append(views, ActiveOrderView{OrderID: ot.buyOrderID, OrderType: orderTypeBuy, Price: ot.buyPrice, Quantity: ot.qty})
		}
	}

	total := g.realizedProfitA + g.realizedProfitB*price

	return Status{
		BotID:                g.botID,
		Type:                 g.statusType,
		Symbol:               g.symbol,
		Running:              g.running,
		CurrentPrice:         price,
		InitialPrice:         g.initialPrice,
		Deviation:            deviation,
		RealizedProfitA:      g.realizedProfitA,
		RealizedProfitB:      g.realizedProfitB,
		TotalProfitUSDT:      total,
		UnrealizedProfitA:    unrealA,
		UnrealizedProfitB:    unrealB,
		ActiveOrdersCount:    len(g.buyPositions) + len(g.sellPositions) + len(g.openTrades),
		CompletedTradesCount: g.completedTrades,
		ActiveOrders:         views,
		InitialParameters:    g.paramsView,
	}
}

func removePosition(list []position, orderID string) []position {
	out := list[:0]
	for _, p := range list {
		if p.orderID != orderID {
			out = append(out, p)
		}
	}
	return out
}

func removeTrade(list []openTrade, counterID string) []openTrade {
	out := list[:0]
	for _, t := range list {
		if t.sellOrderID != counterID && t.buyOrderID != counterID {
			out = append(out, t)
		}
	}
	return out
}
