// Package stream maintains one long-lived ticker subscription per bot and
// exposes the latest price as an atomic sample.
package stream

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	market "github.com/mitchivanov/waverider/pkg/market/binance"
)

const reconnectDelay = 5 * time.Second

// tickerSource is the subset of the stream client the sampler uses.
type tickerSource interface {
	SubscribeTicker(ctx context.Context, symbol string) (<-chan market.Ticker, func(), error)
}

// PriceSampler holds the most recent traded price for one symbol. It is a
// sampler, not a log: updates between reads are dropped and callers
// only ever see the latest value.
type PriceSampler struct {
	symbol string
	source tickerSource

	priceBits atomic.Uint64
	set       atomic.Bool
	updatedAt atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPriceSampler creates a sampler bound to one symbol.
func NewPriceSampler(symbol string, source tickerSource) *PriceSampler {
	return &PriceSampler{
		symbol: symbol,
		source: source,
		done:   make(chan struct{}),
	}
}

// Start launches the subscription loop. After it returns the price may
// still be unset for a warm-up window; callers poll Current until the
// second return value is true.
func (p *PriceSampler) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

func (p *PriceSampler) run(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}
		ticks, stop, err := p.source.SubscribeTicker(ctx, p.symbol)
		if err != nil {
			log.Printf("[STREAM] %s subscribe failed: %v, retrying in %v", p.symbol, err, reconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}

		for tick := range ticks {
			p.priceBits.Store(math.Float64bits(tick.Price))
			p.updatedAt.Store(time.Now().UnixMilli())
			p.set.Store(true)
		}
		stop()

		// Channel closed: the connection dropped. Back off and redial.
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// Current returns the latest sampled price; ok is false during warm-up.
func (p *PriceSampler) Current() (price float64, ok bool) {
	if !p.set.Load() {
		return 0, false
	}
	return math.Float64frombits(p.priceBits.Load()), true
}

// UpdatedAt returns the unix-ms timestamp of the last sample.
func (p *PriceSampler) UpdatedAt() int64 {
	return p.updatedAt.Load()
}

// WaitForPrice blocks until the first sample arrives or ctx is done.
func (p *PriceSampler) WaitForPrice(ctx context.Context) (float64, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if price, ok := p.Current(); ok {
			return price, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop tears the subscription down and waits for the loop to exit.
func (p *PriceSampler) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}
