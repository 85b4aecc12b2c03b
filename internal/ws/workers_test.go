package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mitchivanov/waverider/internal/events"
	"github.com/mitchivanov/waverider/internal/manager"
	"github.com/mitchivanov/waverider/internal/strategy"
	"github.com/mitchivanov/waverider/pkg/db"
)

type fakeStatus struct{}

func (fakeStatus) GetCurrentParameters(ctx context.Context, botID int64) (*manager.BotStatus, error) {
	return &manager.BotStatus{
		Status:      strategy.Status{BotID: botID, Type: strategy.TypeGrid, Running: true},
		RunningTime: 12,
	}, nil
}

func newTestService(t *testing.T) (*Service, *db.BotQueries) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	svc := NewService(NewHub(), database.Queries(), fakeStatus{}, nil)
	svc.PollInterval = 5 * time.Millisecond
	return svc, database.Queries()
}

func (s *Service) workerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func TestSubscribeDedup(t *testing.T) {
	svc, _ := newTestService(t)
	a := newClient(nil)
	b := newClient(nil)
	svc.hub.register(a)
	svc.hub.register(b)

	svc.subscribe(a, 1, ChannelStatus)
	svc.subscribe(b, 1, ChannelStatus)
	svc.subscribe(a, 1, ChannelStatus)
	if n := svc.workerCount(); n != 1 {
		t.Fatalf("%d workers for one (bot, channel) pair, want 1", n)
	}

	svc.subscribe(a, 2, ChannelStatus)
	if n := svc.workerCount(); n != 2 {
		t.Fatalf("%d workers after second bot, want 2", n)
	}

	// The worker survives while any subscriber remains.
	svc.detach(a)
	if n := svc.workerCount(); n != 1 {
		t.Fatalf("%d workers after first detach, want 1", n)
	}
	svc.detach(b)
	if n := svc.workerCount(); n != 0 {
		t.Fatalf("%d workers after last detach, want 0", n)
	}
}

func TestUnknownChannelIgnored(t *testing.T) {
	svc, _ := newTestService(t)
	c := newClient(nil)
	svc.hub.register(c)

	svc.subscribe(c, 1, "order_book")
	if n := svc.workerCount(); n != 0 {
		t.Fatalf("worker spawned for unknown channel")
	}
}

func TestStatusFrames(t *testing.T) {
	svc, _ := newTestService(t)
	c := newClient(nil)
	svc.hub.register(c)
	defer svc.detach(c)

	svc.subscribe(c, 7, ChannelStatus)

	select {
	case raw := <-c.send:
		var f struct {
			Type    string            `json:"type"`
			BotID   int64             `json:"bot_id"`
			Payload manager.BotStatus `json:"payload"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if f.Type != "status_data" || f.BotID != 7 {
			t.Errorf("frame = %s/%d, want status_data/7", f.Type, f.BotID)
		}
		if f.Payload.RunningTime != 12 {
			t.Errorf("running_time = %v, want 12", f.Payload.RunningTime)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status frame arrived")
	}
}

func TestActiveOrderFrames(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if err := store.UpsertActiveOrder(ctx, db.ActiveOrder{
		BotID: 3, OrderID: "42", OrderType: "buy", IsInitial: true, Price: 1999.2, Quantity: 0.5,
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	c := newClient(nil)
	svc.hub.register(c)
	defer svc.detach(c)
	svc.subscribe(c, 3, ChannelActiveOrders)

	select {
	case raw := <-c.send:
		var f struct {
			Type    string           `json:"type"`
			Payload []db.ActiveOrder `json:"payload"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if f.Type != "active_orders_data" || len(f.Payload) != 1 || f.Payload[0].OrderID != "42" {
			t.Errorf("unexpected frame: %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no active orders frame arrived")
	}
}

func TestForwardNotifications(t *testing.T) {
	svc, _ := newTestService(t)
	c := newClient(nil)
	svc.hub.register(c)

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.ForwardNotifications(ctx, bus)

	// Give the forwarder a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.Notify("new_trade", 5, map[string]any{"profit": 0.8})

	select {
	case raw := <-c.send:
		var f struct {
			Type             string `json:"type"`
			NotificationType string `json:"notification_type"`
			BotID            int64  `json:"bot_id"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if f.Type != "notification" || f.NotificationType != "new_trade" || f.BotID != 5 {
			t.Errorf("unexpected frame: %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification frame arrived")
	}
}
