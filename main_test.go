package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mitchivanov/waverider/internal/api"
	"github.com/mitchivanov/waverider/internal/manager"
	"github.com/mitchivanov/waverider/internal/strategy"
	"github.com/mitchivanov/waverider/pkg/config"
	"github.com/mitchivanov/waverider/pkg/db"
	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

type presetSession struct {
	balances []common.Balance
}

func (s *presetSession) GetAccountBalances(ctx context.Context) ([]common.Balance, error) {
	return s.balances, nil
}

func (s *presetSession) GetSymbolFilters(ctx context.Context, symbol string) (*common.SymbolFilters, error) {
	return &common.SymbolFilters{BaseAsset: "ETH", QuoteAsset: "USDT"}, nil
}

type presetStrategy struct {
	botID int64
}

func (p *presetStrategy) Execute(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *presetStrategy) Stop(ctx context.Context) error { return nil }

func (p *presetStrategy) Status(ctx context.Context) strategy.Status {
	return strategy.Status{BotID: p.botID, Type: strategy.TypeGrid, Running: true}
}

func (p *presetStrategy) BotID() int64 { return p.botID }
func (p *presetStrategy) Type() string { return strategy.TypeGrid }

func newPresetFixture(t *testing.T) (*db.BotQueries, *manager.Supervisor) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := database.Queries()

	factory := func(ctx context.Context, bot db.Bot, raw json.RawMessage) (strategy.Strategy, error) {
		return &presetStrategy{botID: bot.ID}, nil
	}
	sup := manager.NewSupervisor(factory, store)
	t.Cleanup(func() { sup.StopAll(context.Background()) })
	return store, sup
}

func gridPreset() config.PresetBot {
	return config.PresetBot{
		Type:      strategy.TypeGrid,
		Symbol:    "ETHUSDT",
		APIKey:    "key",
		APISecret: "secret",
		Parameters: map[string]any{
			"asset_a_funds":       1000,
			"asset_b_funds":       0.5,
			"grids":               10,
			"deviation_threshold": 0.004,
		},
	}
}

func TestPresetStartRequiresFunding(t *testing.T) {
	store, sup := newPresetFixture(t)
	ctx := context.Background()
	cfg := &config.Config{}

	sessions := func(apiKey, apiSecret string, testnet bool) api.Session {
		return &presetSession{balances: []common.Balance{
			{Asset: "ETH", Free: 0.1},
			{Asset: "USDT", Free: 10},
		}}
	}

	if err := startPreset(ctx, cfg, store, sup, sessions, gridPreset()); err == nil {
		t.Fatal("underfunded preset started without error")
	}
	bots, err := store.ListBots(ctx)
	if err != nil {
		t.Fatalf("list bots: %v", err)
	}
	if len(bots) != 0 {
		t.Errorf("%d bot rows created despite failed precheck", len(bots))
	}
}

func TestPresetStartWhenFunded(t *testing.T) {
	store, sup := newPresetFixture(t)
	ctx := context.Background()
	cfg := &config.Config{}

	sessions := func(apiKey, apiSecret string, testnet bool) api.Session {
		return &presetSession{balances: []common.Balance{
			{Asset: "ETH", Free: 10},
			{Asset: "USDT", Free: 100000},
		}}
	}

	if err := startPreset(ctx, cfg, store, sup, sessions, gridPreset()); err != nil {
		t.Fatalf("funded preset failed: %v", err)
	}
	bots, err := store.ListBots(ctx)
	if err != nil {
		t.Fatalf("list bots: %v", err)
	}
	if len(bots) != 1 || bots[0].Status != db.BotStatusActive {
		t.Fatalf("unexpected bot rows: %+v", bots)
	}
	if !sup.IsRunning(bots[0].ID) {
		t.Error("preset bot not running after start")
	}
	if saved, err := store.GetBotConfig(ctx, bots[0].ID); err != nil || saved == "" {
		t.Errorf("preset config not saved: %v", err)
	}
}
