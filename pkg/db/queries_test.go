package db

import (
	"context"
	"errors"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestBotQueriesRequireBotID(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	t.Run("GetActiveOrdersByBot requires botID", func(t *testing.T) {
		_, err := q.GetActiveOrdersByBot(ctx, 0)
		if err != ErrBotIDRequired {
			t.Errorf("expected ErrBotIDRequired, got %v", err)
		}
	})

	t.Run("GetOrderHistoryByBot requires botID", func(t *testing.T) {
		_, err := q.GetOrderHistoryByBot(ctx, 0, 100)
		if err != ErrBotIDRequired {
			t.Errorf("expected ErrBotIDRequired, got %v", err)
		}
	})

	t.Run("GetTradesByBot requires botID", func(t *testing.T) {
		_, err := q.GetTradesByBot(ctx, 0, 100)
		if err != ErrBotIDRequired {
			t.Errorf("expected ErrBotIDRequired, got %v", err)
		}
	})

	t.Run("UpsertActiveOrder requires botID", func(t *testing.T) {
		err := q.UpsertActiveOrder(ctx, ActiveOrder{OrderID: "1"})
		if err != ErrBotIDRequired {
			t.Errorf("expected ErrBotIDRequired, got %v", err)
		}
	})
}

func TestBotDataIsolation(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	botA, err := q.CreateBot(ctx, Bot{Type: "grid", Symbol: "BTCUSDT", APIKey: "k", APISecret: "s", Status: BotStatusActive})
	if err != nil {
		t.Fatalf("Failed to create bot A: %v", err)
	}
	botB, err := q.CreateBot(ctx, Bot{Type: "grid", Symbol: "ETHUSDT", APIKey: "k", APISecret: "s", Status: BotStatusActive})
	if err != nil {
		t.Fatalf("Failed to create bot B: %v", err)
	}

	if err := q.UpsertActiveOrder(ctx, ActiveOrder{BotID: botA, OrderID: "100", OrderType: "buy", IsInitial: true, Price: 50000, Quantity: 0.1}); err != nil {
		t.Fatalf("Failed to insert order for A: %v", err)
	}
	if err := q.UpsertActiveOrder(ctx, ActiveOrder{BotID: botB, OrderID: "200", OrderType: "sell", IsInitial: true, Price: 3000, Quantity: 1}); err != nil {
		t.Fatalf("Failed to insert order for B: %v", err)
	}

	t.Run("bot A sees only its orders", func(t *testing.T) {
		orders, err := q.GetActiveOrdersByBot(ctx, botA)
		if err != nil {
			t.Fatalf("Failed to get orders: %v", err)
		}
		if len(orders) != 1 || orders[0].OrderID != "100" {
			t.Errorf("expected single order 100, got %+v", orders)
		}
	})

	t.Run("delete purges only the target bot", func(t *testing.T) {
		if err := q.DeleteBot(ctx, botA); err != nil {
			t.Fatalf("Failed to delete bot: %v", err)
		}
		if _, err := q.GetBot(ctx, botA); err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		orders, err := q.GetActiveOrdersByBot(ctx, botB)
		if err != nil {
			t.Fatalf("Failed to get orders: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("bot B orders should survive, got %d", len(orders))
		}
	})

	t.Run("delete of a missing bot reports ErrNotFound", func(t *testing.T) {
		if err := q.DeleteBot(ctx, botA); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for repeated delete, got %v", err)
		}
		if err := q.DeleteBot(ctx, 999); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for unknown id, got %v", err)
		}
	})
}

func TestUpsertActiveOrderIdempotent(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	botID, err := q.CreateBot(ctx, Bot{Type: "grid", Symbol: "ETHUSDT", APIKey: "k", APISecret: "s", Status: BotStatusActive})
	if err != nil {
		t.Fatalf("Failed to create bot: %v", err)
	}

	first := ActiveOrder{BotID: botID, OrderID: "42", OrderType: "buy", IsInitial: true, Price: 1999.2, Quantity: 0.05}
	if err := q.UpsertActiveOrder(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := first
	second.Price = 2000.0
	if err := q.UpsertActiveOrder(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	orders, err := q.GetActiveOrdersByBot(ctx, botID)
	if err != nil {
		t.Fatalf("Failed to get orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 row after duplicate upsert, got %d", len(orders))
	}
	if orders[0].Price != 2000.0 {
		t.Errorf("expected latest price 2000.0, got %v", orders[0].Price)
	}
}

func TestOrderStatusNeverRewinds(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	botID, err := q.CreateBot(ctx, Bot{Type: "grid", Symbol: "ETHUSDT", APIKey: "k", APISecret: "s", Status: BotStatusActive})
	if err != nil {
		t.Fatalf("Failed to create bot: %v", err)
	}

	rec := OrderRecord{BotID: botID, OrderID: "7", OrderType: "buy", IsInitial: true, Price: 1999.2, Quantity: 0.05}
	if err := q.UpsertOrderRecord(ctx, rec); err != nil {
		t.Fatalf("insert record: %v", err)
	}

	if err := q.SetOrderStatus(ctx, botID, "7", OrderStatusFilled); err != nil {
		t.Fatalf("OPEN -> FILLED should succeed: %v", err)
	}
	if err := q.SetOrderStatus(ctx, botID, "7", OrderStatusCanceled); !errors.Is(err, ErrNotFound) {
		t.Errorf("FILLED -> CANCELED should be rejected, got %v", err)
	}

	records, err := q.GetOrderHistoryByBot(ctx, botID, 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(records) != 1 || records[0].Status != OrderStatusFilled {
		t.Errorf("expected single FILLED record, got %+v", records)
	}
}

func TestCloseOpenTrade(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	botID, err := q.CreateBot(ctx, Bot{Type: "grid", Symbol: "ETHUSDT", APIKey: "k", APISecret: "s", Status: BotStatusActive})
	if err != nil {
		t.Fatalf("Failed to create bot: %v", err)
	}

	trade := Trade{
		BotID:       botID,
		TradeType:   "BUY_SELL",
		BuyPrice:    1999.2,
		SellPrice:   2000.0,
		Quantity:    0.05,
		ProfitAsset: "USDT",
		Status:      TradeStatusOpen,
		BuyOrderID:  "1",
		SellOrderID: "2",
	}
	if _, err := q.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	t.Run("closes matching OPEN row with profit", func(t *testing.T) {
		if err := q.CloseOpenTrade(ctx, botID, 1999.2, 0.05, 0.8*0.05); err != nil {
			t.Fatalf("close trade: %v", err)
		}
		trades, err := q.GetTradesByBot(ctx, botID, 10)
		if err != nil {
			t.Fatalf("get trades: %v", err)
		}
		if len(trades) != 1 || trades[0].Status != TradeStatusClosed {
			t.Fatalf("expected closed trade, got %+v", trades)
		}
		if trades[0].Profit != 0.8*0.05 {
			t.Errorf("expected profit %v, got %v", 0.8*0.05, trades[0].Profit)
		}
	})

	t.Run("missing match surfaces ErrNotFound", func(t *testing.T) {
		err := q.CloseOpenTrade(ctx, botID, 1234.5, 0.05, 1)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
