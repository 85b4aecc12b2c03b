package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mitchivanov/waverider/internal/events"
	"github.com/mitchivanov/waverider/internal/strategy"
	"github.com/mitchivanov/waverider/pkg/db"
)

// ErrNotRunning is returned when a status lookup targets a bot the
// supervisor does not hold.
var ErrNotRunning = errors.New("bot is not running")

// Factory builds a strategy instance for a bot row. Raw params are the
// type-specific parameter document from the start request.
type Factory func(ctx context.Context, bot db.Bot, rawParams json.RawMessage) (strategy.Strategy, error)

// instance is one supervised bot.
type instance struct {
	strat     strategy.Strategy
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}
}

// Supervisor is the process-wide registry of live bots. It holds no
// domain state of its own; it dispatches lifecycle calls and tracks
// start times.
type Supervisor struct {
	mu      sync.Mutex
	bots    map[int64]*instance
	factory Factory
	store   *db.BotQueries

	// Bus, when set, receives lifecycle events for each start and stop.
	Bus *events.Bus
}

func NewSupervisor(factory Factory, store *db.BotQueries) *Supervisor {
	return &Supervisor{
		bots:    make(map[int64]*instance),
		factory: factory,
		store:   store,
	}
}

// StartBot instantiates and launches the strategy for a bot row. A bot
// already running under the same id is stopped first.
func (s *Supervisor) StartBot(ctx context.Context, bot db.Bot, rawParams json.RawMessage) error {
	if s.IsRunning(bot.ID) {
		if err := s.StopBot(ctx, bot.ID); err != nil {
			return fmt.Errorf("stop previous instance: %w", err)
		}
	}

	strat, err := s.factory(ctx, bot, rawParams)
	if err != nil {
		return fmt.Errorf("build %s strategy: %w", bot.Type, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		strat:     strat,
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.bots[bot.ID] = inst
	s.mu.Unlock()

	go func() {
		defer close(inst.done)
		err := strat.Execute(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[SUPERVISOR] bot %d exited: %v", bot.ID, err)
			_ = strat.Stop(context.Background())
		}

		// A loop that returns on its own (failure or self-stop, e.g. a
		// risk limit) must not linger in the registry.
		s.mu.Lock()
		lingering := s.bots[bot.ID] == inst
		if lingering {
			delete(s.bots, bot.ID)
		}
		s.mu.Unlock()
		if lingering {
			if serr := s.store.SetBotStatus(context.Background(), bot.ID, db.BotStatusInactive); serr != nil {
				log.Printf("[SUPERVISOR] mark bot %d inactive: %v", bot.ID, serr)
			}
			if s.Bus != nil {
				s.Bus.Publish(events.EventBotStopped, bot.ID)
			}
		}
	}()

	if s.Bus != nil {
		s.Bus.Publish(events.EventBotStarted, bot.ID)
	}
	log.Printf("[SUPERVISOR] bot %d (%s %s) started", bot.ID, bot.Type, bot.Symbol)
	return nil
}

// StopBot tears a bot down and waits for its loop to exit. Stopping a
// bot that is not running is a no-op.
func (s *Supervisor) StopBot(ctx context.Context, botID int64) error {
	s.mu.Lock()
	inst, ok := s.bots[botID]
	if ok {
		delete(s.bots, botID)
	}
	s.mu.Unlock()
	if !ok {
		log.Printf("[SUPERVISOR] stop requested for bot %d which is not running", botID)
		return nil
	}

	if err := inst.strat.Stop(ctx); err != nil {
		log.Printf("[SUPERVISOR] stop bot %d: %v", botID, err)
	}
	inst.cancel()

	select {
	case <-inst.done:
	case <-time.After(10 * time.Second):
		log.Printf("[SUPERVISOR] bot %d loop did not exit in time", botID)
	}

	if err := s.store.SetBotStatus(ctx, botID, db.BotStatusInactive); err != nil {
		return fmt.Errorf("mark bot inactive: %w", err)
	}
	if s.Bus != nil {
		s.Bus.Publish(events.EventBotStopped, botID)
	}
	log.Printf("[SUPERVISOR] bot %d stopped", botID)
	return nil
}

// IsRunning reports whether the supervisor holds a live instance.
func (s *Supervisor) IsRunning(botID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bots[botID]
	return ok
}

// Uptime returns how long the bot has been running.
func (s *Supervisor) Uptime(botID int64) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.bots[botID]
	if !ok {
		return 0, false
	}
	return time.Since(inst.startedAt), true
}

// BotStatus is a strategy snapshot plus the supervisor's uptime.
type BotStatus struct {
	strategy.Status
	RunningTime float64 `json:"running_time"`
}

// GetCurrentParameters returns the live status snapshot with running
// time, or ErrNotRunning.
func (s *Supervisor) GetCurrentParameters(ctx context.Context, botID int64) (*BotStatus, error) {
	s.mu.Lock()
	inst, ok := s.bots[botID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotRunning
	}
	return &BotStatus{
		Status:      inst.strat.Status(ctx),
		RunningTime: time.Since(inst.startedAt).Seconds(),
	}, nil
}

// StopAll stops every live bot. Used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.bots))
	for id := range s.bots {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.StopBot(ctx, id); err != nil {
			log.Printf("[SUPERVISOR] stop bot %d on shutdown: %v", id, err)
		}
	}
}
