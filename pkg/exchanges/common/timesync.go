package common

import (
	"sync"
	"time"
)

// TimeSync tracks the clock offset against an exchange. Signed requests
// stamp with Now() so a skewed local clock stays inside the recvWindow.
type TimeSync struct {
	fetch func() (int64, error)

	mu     sync.RWMutex
	offset int64 // server minus local, ms
}

// NewTimeSync wraps a server-time fetcher. The offset starts at zero and
// is only measured when Sync is called.
func NewTimeSync(fetch func() (int64, error)) *TimeSync {
	return &TimeSync{fetch: fetch}
}

// Sync measures the offset against the server clock, halving the round
// trip to approximate the moment the server answered.
func (ts *TimeSync) Sync() error {
	before := time.Now().UnixMilli()
	server, err := ts.fetch()
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.mu.Unlock()
	return nil
}

// Now returns the local clock shifted by the measured offset, in ms.
func (ts *TimeSync) Now() int64 {
	return time.Now().UnixMilli() + ts.Offset()
}

// Offset returns the measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
