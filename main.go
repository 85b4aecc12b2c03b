package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/mitchivanov/waverider/internal/api"
	"github.com/mitchivanov/waverider/internal/balance"
	"github.com/mitchivanov/waverider/internal/events"
	"github.com/mitchivanov/waverider/internal/manager"
	"github.com/mitchivanov/waverider/internal/market"
	"github.com/mitchivanov/waverider/internal/strategy"
	"github.com/mitchivanov/waverider/internal/ws"
	"github.com/mitchivanov/waverider/pkg/config"
	"github.com/mitchivanov/waverider/pkg/db"
	"github.com/mitchivanov/waverider/pkg/exchanges/binance/spot"
	marketbinance "github.com/mitchivanov/waverider/pkg/market/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MAIN] Config load failed: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatalf("[MAIN] Create data directory: %v", err)
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[MAIN] Open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("[MAIN] Apply migrations: %v", err)
	}
	store := database.Queries()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bots marked active by a previous run are stale after a restart.
	if err := store.DeactivateAllBots(ctx); err != nil {
		log.Printf("[MAIN] Reset stale bot statuses: %v", err)
	}

	bus := events.NewBus()

	// One request budget shared by every bot session and credential check.
	throttle := rate.NewLimiter(rate.Limit(cfg.GlobalRequestsPerSec), int(cfg.GlobalRequestsPerSec)+1)

	factory := manager.NewFactory(manager.FactoryDeps{
		Store:             store,
		Bus:               bus,
		LogDir:            cfg.LogDir,
		Throttle:          throttle,
		MaxInflightOrders: cfg.MaxInflightOrders,
		BatchSize:         cfg.OrderBatchSize,
		BatchPause:        cfg.OrderBatchPause,
		LoopInterval:      cfg.LoopInterval,
	})
	sup := manager.NewSupervisor(factory, store)
	sup.Bus = bus

	poller := market.NewPoller(marketbinance.NewClient(cfg.BinanceTestnet))
	defer poller.Stop()

	hub := ws.NewHub()
	fanout := ws.NewService(hub, store, sup, poller)
	go fanout.ForwardNotifications(ctx, bus)

	sessions := func(apiKey, apiSecret string, testnet bool) api.Session {
		return spot.New(spot.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   testnet,
		}, throttle)
	}
	server := api.NewServer(store, sup, fanout, sessions)

	if cfg.BotsConfig != "" {
		startPresetBots(ctx, cfg, store, sup, sessions)
	}

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		log.Printf("[MAIN] Listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] HTTP server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[MAIN] Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sup.StopAll(shutdownCtx)
	if err := store.DeactivateAllBots(shutdownCtx); err != nil {
		log.Printf("[MAIN] Deactivate bots: %v", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] HTTP shutdown: %v", err)
	}
	cancel()
	log.Println("[MAIN] Stopped")
}

// startPresetBots boots the bots listed in the BOTS_CONFIG file. A bad
// preset is logged and skipped so the rest of the file still starts.
func startPresetBots(ctx context.Context, cfg *config.Config, store *db.BotQueries, sup *manager.Supervisor, sessions api.SessionFactory) {
	presets, err := config.LoadPresets(cfg.BotsConfig)
	if err != nil {
		log.Printf("[MAIN] Load preset bots: %v", err)
		return
	}
	for i, p := range presets {
		if err := startPreset(ctx, cfg, store, sup, sessions, p); err != nil {
			log.Printf("[MAIN] Preset bot %d (%s %s) failed: %v", i, p.Type, p.Symbol, err)
			continue
		}
		log.Printf("[MAIN] Preset bot %d started: %s %s", i, p.Type, p.Symbol)
	}
}

func startPreset(ctx context.Context, cfg *config.Config, store *db.BotQueries, sup *manager.Supervisor, sessions api.SessionFactory, p config.PresetBot) error {
	testnet := cfg.BinanceTestnet
	if p.Testnet != nil {
		testnet = *p.Testnet
	}
	raw, err := p.ParamsJSON()
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	// Same funding gate as the HTTP start path: no row, no orders, until
	// the account covers the configured capital.
	baseNeeded, quoteNeeded, err := strategy.RequiredFunds(p.Type, raw)
	if err != nil {
		return err
	}
	session := sessions(p.APIKey, p.APISecret, testnet)
	filters, err := session.GetSymbolFilters(ctx, p.Symbol)
	if err != nil {
		return fmt.Errorf("symbol %s: %w", p.Symbol, err)
	}
	if err := balance.Verify(ctx, session, filters.BaseAsset, filters.QuoteAsset, baseNeeded, quoteNeeded); err != nil {
		return err
	}

	bot := db.Bot{
		Type:      p.Type,
		Symbol:    p.Symbol,
		APIKey:    p.APIKey,
		APISecret: p.APISecret,
		Testnet:   testnet,
		Status:    db.BotStatusActive,
	}
	id, err := store.CreateBot(ctx, bot)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	bot.ID = id
	if err := store.SaveBotConfig(ctx, id, string(raw)); err != nil {
		log.Printf("[MAIN] Save preset config for bot %d: %v", id, err)
	}

	if err := sup.StartBot(ctx, bot, json.RawMessage(raw)); err != nil {
		if derr := store.SetBotStatus(ctx, id, db.BotStatusInactive); derr != nil {
			log.Printf("[MAIN] Mark preset bot %d inactive: %v", id, derr)
		}
		return fmt.Errorf("start bot: %w", err)
	}
	return nil
}
