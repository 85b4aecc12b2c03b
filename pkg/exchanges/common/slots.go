package common

import "context"

// OrderSlots caps the number of concurrent order placements for one bot.
type OrderSlots struct {
	slots chan struct{}
}

// NewOrderSlots creates a semaphore with n slots.
func NewOrderSlots(n int) *OrderSlots {
	if n <= 0 {
		n = 10
	}
	return &OrderSlots{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *OrderSlots) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (s *OrderSlots) Release() {
	<-s.slots
}
