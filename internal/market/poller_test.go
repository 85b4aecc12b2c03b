package market

import (
	"sync/atomic"
	"testing"
	"time"

	binance "github.com/mitchivanov/waverider/pkg/market/binance"
)

type fakeKlines struct {
	calls atomic.Int32
}

func (f *fakeKlines) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	f.calls.Add(1)
	return []binance.Kline{
		{Symbol: symbol, Open: 2000, Close: 2001},
		{Symbol: symbol, Open: 2001, Close: 2002},
	}, nil
}

func TestSnapshotStartsFeedLazily(t *testing.T) {
	src := &fakeKlines{}
	p := NewPoller(src)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var got []binance.Kline
	for time.Now().Before(deadline) {
		got = p.Snapshot("ETHUSDT")
		if len(got) == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if len(got) != 2 || got[0].Symbol != "ETHUSDT" {
		t.Fatalf("snapshot = %+v, want 2 ETHUSDT candles", got)
	}

	// The snapshot is a copy; mutating it must not touch the window.
	got[0].Close = -1
	again := p.Snapshot("ETHUSDT")
	if again[0].Close == -1 {
		t.Error("snapshot aliases the internal window")
	}
}

func TestUnwatchStopsPolling(t *testing.T) {
	src := &fakeKlines{}
	p := NewPoller(src)
	defer p.Stop()

	p.Watch("ETHUSDT", "1s")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && src.calls.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if src.calls.Load() < 2 {
		t.Fatal("poller never refreshed")
	}

	p.Unwatch("ETHUSDT")
	settled := src.calls.Load()
	time.Sleep(50 * time.Millisecond)
	// One in-flight refresh may still land after cancel.
	if src.calls.Load() > settled+1 {
		t.Errorf("polling continued after Unwatch: %d -> %d", settled, src.calls.Load())
	}
}

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1s", time.Second},
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"", time.Minute},
		{"bogus", time.Minute},
	}
	for _, tc := range cases {
		if got := intervalDuration(tc.in); got != tc.want {
			t.Errorf("intervalDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
