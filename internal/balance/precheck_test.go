package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

type fakeAccount struct {
	balances []common.Balance
	err      error
}

func (f *fakeAccount) GetAccountBalances(ctx context.Context) ([]common.Balance, error) {
	return f.balances, f.err
}

func TestVerify(t *testing.T) {
	acct := &fakeAccount{balances: []common.Balance{
		{Asset: "ETH", Free: 0.5, Locked: 0.1},
		{Asset: "USDT", Free: 1000},
	}}
	ctx := context.Background()

	t.Run("sufficient", func(t *testing.T) {
		if err := Verify(ctx, acct, "ETH", "USDT", 0.5, 1000); err != nil {
			t.Errorf("expected pass, got %v", err)
		}
	})

	t.Run("quote short", func(t *testing.T) {
		err := Verify(ctx, acct, "ETH", "USDT", 0.1, 1000000)
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("expected ErrInsufficientFunds, got %v", err)
		}
	})

	t.Run("locked does not count", func(t *testing.T) {
		err := Verify(ctx, acct, "ETH", "USDT", 0.6, 10)
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("locked balance must not satisfy the precheck, got %v", err)
		}
	})
}

func TestNonZero(t *testing.T) {
	in := []common.Balance{
		{Asset: "ETH", Free: 0.5},
		{Asset: "BTC"},
		{Asset: "BNB", Locked: 1},
	}
	out := NonZero(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 nonzero balances, got %d", len(out))
	}
}
