// Package market keeps a rolling candle window per watched symbol by
// polling the public kline endpoint.
package market

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	binance "github.com/mitchivanov/waverider/pkg/market/binance"
)

const (
	defaultInterval = "1m"
	windowSize      = 100
)

// klineSource is the slice of the REST client the poller uses.
type klineSource interface {
	GetKlines(symbol, interval string, limit int) ([]binance.Kline, error)
}

type feed struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	candles []binance.Kline
}

// Poller refreshes one candle window per watched symbol. Watching is
// lazy: the first Snapshot for an unknown symbol starts its feed.
type Poller struct {
	source klineSource

	mu    sync.Mutex
	feeds map[string]*feed
}

func NewPoller(source klineSource) *Poller {
	return &Poller{source: source, feeds: make(map[string]*feed)}
}

// Watch starts a background refresh loop for the symbol. Idempotent.
func (p *Poller) Watch(symbol, interval string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.feeds[symbol]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &feed{cancel: cancel}
	p.feeds[symbol] = f
	go p.run(ctx, f, symbol, interval)
}

// Unwatch stops the symbol's refresh loop.
func (p *Poller) Unwatch(symbol string) {
	p.mu.Lock()
	f, ok := p.feeds[symbol]
	if ok {
		delete(p.feeds, symbol)
	}
	p.mu.Unlock()
	if ok {
		f.cancel()
	}
}

// Stop cancels every feed.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, f := range p.feeds {
		f.cancel()
		delete(p.feeds, symbol)
	}
}

// Snapshot returns the current candle window for the symbol, starting
// the feed on first use. The window may be empty during warm-up.
func (p *Poller) Snapshot(symbol string) []binance.Kline {
	p.Watch(symbol, defaultInterval)

	p.mu.Lock()
	f := p.feeds[symbol]
	p.mu.Unlock()
	if f == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]binance.Kline, len(f.candles))
	copy(out, f.candles)
	return out
}

func (p *Poller) run(ctx context.Context, f *feed, symbol, interval string) {
	sleep := intervalDuration(interval)
	for {
		candles, err := p.source.GetKlines(symbol, interval, windowSize)
		if err != nil {
			log.Printf("[MARKET] klines %s %s: %v", symbol, interval, err)
		} else {
			f.mu.Lock()
			f.candles = candles
			f.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// intervalDuration maps an exchange interval string like "1m" or "4h"
// to a refresh cadence. Unknown formats fall back to one minute.
func intervalDuration(interval string) time.Duration {
	if len(interval) < 2 {
		return time.Minute
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	switch interval[len(interval)-1] {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Minute
}
