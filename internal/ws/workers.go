package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mitchivanov/waverider/internal/events"
	"github.com/mitchivanov/waverider/internal/manager"
	"github.com/mitchivanov/waverider/pkg/db"
	market "github.com/mitchivanov/waverider/pkg/market/binance"
)

// Subscription channels a client can ask for.
const (
	ChannelStatus       = "status"
	ChannelActiveOrders = "active_orders"
	ChannelOrderHistory = "order_history"
	ChannelTradeHistory = "trade_history"
	ChannelCandles      = "candlestick_data"
)

const historyLimit = 100

// StatusSource yields live status snapshots; in production this is the
// supervisor.
type StatusSource interface {
	GetCurrentParameters(ctx context.Context, botID int64) (*manager.BotStatus, error)
}

// CandleSource yields the latest candle window for a symbol.
type CandleSource interface {
	Snapshot(symbol string) []market.Kline
}

type workerKey struct {
	botID   int64
	channel string
}

type worker struct {
	cancel context.CancelFunc
	owners map[*client]struct{}
}

// Service owns the subscription workers and the hub they publish to.
type Service struct {
	hub     *Hub
	store   *db.BotQueries
	status  StatusSource
	candles CandleSource

	// PollInterval is the snapshot cadence; tests shrink it.
	PollInterval time.Duration

	mu      sync.Mutex
	workers map[workerKey]*worker
}

func NewService(hub *Hub, store *db.BotQueries, status StatusSource, candles CandleSource) *Service {
	return &Service{
		hub:          hub,
		store:        store,
		status:       status,
		candles:      candles,
		PollInterval: time.Second,
		workers:      make(map[workerKey]*worker),
	}
}

type frame struct {
	Type    string `json:"type"`
	BotID   int64  `json:"bot_id"`
	Payload any    `json:"payload"`
}

// subscribe attaches a client to a (bot, channel) worker, spawning it on
// first use. A duplicate subscribe is a no-op.
func (s *Service) subscribe(c *client, botID int64, channel string) {
	switch channel {
	case ChannelStatus, ChannelActiveOrders, ChannelOrderHistory, ChannelTradeHistory, ChannelCandles:
	default:
		log.Printf("[WS] ignoring unknown channel %q", channel)
		return
	}

	key := workerKey{botID: botID, channel: channel}
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[key]; ok {
		w.owners[c] = struct{}{}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, owners: map[*client]struct{}{c: {}}}
	s.workers[key] = w
	go s.run(ctx, key)
}

// detach removes a client from every worker it owns; a worker with no
// owners left is canceled.
func (s *Service) detach(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.workers {
		if _, ok := w.owners[c]; !ok {
			continue
		}
		delete(w.owners, c)
		if len(w.owners) == 0 {
			w.cancel()
			delete(s.workers, key)
		}
	}
}

func (s *Service) run(ctx context.Context, key workerKey) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	// Candle workers need the bot's symbol once up front.
	var symbol string
	if key.channel == ChannelCandles {
		bot, err := s.store.GetBot(ctx, key.botID)
		if err != nil {
			log.Printf("[WS] candle worker for unknown bot %d: %v", key.botID, err)
			return
		}
		symbol = bot.Symbol
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		payload, ok := s.snapshot(ctx, key, symbol)
		if !ok {
			continue
		}
		raw, err := json.Marshal(frame{Type: key.channel + "_data", BotID: key.botID, Payload: payload})
		if err != nil {
			log.Printf("[WS] marshal %s frame: %v", key.channel, err)
			continue
		}
		s.hub.Broadcast(raw)
	}
}

func (s *Service) snapshot(ctx context.Context, key workerKey, symbol string) (any, bool) {
	switch key.channel {
	case ChannelStatus:
		st, err := s.status.GetCurrentParameters(ctx, key.botID)
		if err != nil {
			if !errors.Is(err, manager.ErrNotRunning) {
				log.Printf("[WS] status snapshot bot %d: %v", key.botID, err)
			}
			return nil, false
		}
		return st, true
	case ChannelActiveOrders:
		rows, err := s.store.GetActiveOrdersByBot(ctx, key.botID)
		if err != nil {
			log.Printf("[WS] active orders bot %d: %v", key.botID, err)
			return nil, false
		}
		return rows, true
	case ChannelOrderHistory:
		rows, err := s.store.GetOrderHistoryByBot(ctx, key.botID, historyLimit)
		if err != nil {
			log.Printf("[WS] order history bot %d: %v", key.botID, err)
			return nil, false
		}
		return rows, true
	case ChannelTradeHistory:
		rows, err := s.store.GetTradesByBot(ctx, key.botID, historyLimit)
		if err != nil {
			log.Printf("[WS] trade history bot %d: %v", key.botID, err)
			return nil, false
		}
		return rows, true
	case ChannelCandles:
		if s.candles == nil {
			return nil, false
		}
		return s.candles.Snapshot(symbol), true
	}
	return nil, false
}

// ForwardNotifications relays strategy events from the bus to every
// connected client until ctx ends. Wire this once from main.
func (s *Service) ForwardNotifications(ctx context.Context, bus *events.Bus) {
	stream, unsub := bus.Subscribe(events.EventNotification, 100)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			n, ok := msg.(events.Notification)
			if !ok {
				continue
			}
			raw, err := json.Marshal(map[string]any{
				"type":              "notification",
				"notification_type": n.NotificationType,
				"bot_id":            n.BotID,
				"payload":           n.Payload,
			})
			if err != nil {
				continue
			}
			s.hub.Broadcast(raw)
		}
	}
}
