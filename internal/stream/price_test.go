package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	market "github.com/mitchivanov/waverider/pkg/market/binance"
)

type fakeSource struct {
	mu    sync.Mutex
	chans []chan market.Ticker
}

func (f *fakeSource) SubscribeTicker(ctx context.Context, symbol string) (<-chan market.Ticker, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan market.Ticker, 10)
	f.chans = append(f.chans, ch)
	return ch, func() {}, nil
}

func (f *fakeSource) current() chan market.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chans) == 0 {
		return nil
	}
	return f.chans[len(f.chans)-1]
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chans)
}

func TestPriceSamplerWarmupAndUpdate(t *testing.T) {
	src := &fakeSource{}
	p := NewPriceSampler("ETHUSDT", src)
	p.Start(context.Background())
	defer p.Stop()

	if _, ok := p.Current(); ok {
		t.Fatal("price should be unset before first tick")
	}

	waitFor(t, func() bool { return src.current() != nil })
	src.current() <- market.Ticker{Symbol: "ETHUSDT", Price: 2000}

	waitFor(t, func() bool {
		price, ok := p.Current()
		return ok && price == 2000
	})

	src.current() <- market.Ticker{Symbol: "ETHUSDT", Price: 2001.5}
	waitFor(t, func() bool {
		price, _ := p.Current()
		return price == 2001.5
	})
}

func TestPriceSamplerSurvivesDisconnect(t *testing.T) {
	src := &fakeSource{}
	p := NewPriceSampler("ETHUSDT", src)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, func() bool { return src.count() == 1 })
	src.current() <- market.Ticker{Price: 1500}
	waitFor(t, func() bool { _, ok := p.Current(); return ok })

	// Simulate a dropped connection; the sampler must redial and keep
	// serving the last known price meanwhile.
	close(src.current())
	if price, ok := p.Current(); !ok || price != 1500 {
		t.Errorf("last price should survive disconnect, got %v %v", price, ok)
	}
}

func TestWaitForPrice(t *testing.T) {
	src := &fakeSource{}
	p := NewPriceSampler("ETHUSDT", src)
	p.Start(context.Background())
	defer p.Stop()

	go func() {
		for src.current() == nil {
			time.Sleep(5 * time.Millisecond)
		}
		src.current() <- market.Ticker{Price: 42}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	price, err := p.WaitForPrice(ctx)
	if err != nil {
		t.Fatalf("WaitForPrice: %v", err)
	}
	if price != 42 {
		t.Errorf("expected 42, got %v", price)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
