// Package balance verifies a bot's funding against the exchange account
// before the first order is placed.
package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

// ErrInsufficientFunds is returned when the account cannot cover the
// requested grid capital. The wrapped message names the short asset.
var ErrInsufficientFunds = errors.New("insufficient funds")

// AccountSource is the slice of the exchange client the precheck needs.
type AccountSource interface {
	GetAccountBalances(ctx context.Context) ([]common.Balance, error)
}

// Verify checks that free(base) covers baseNeeded and free(quote) covers
// quoteNeeded. Locked balances do not count: the grid needs orders the
// exchange will actually accept.
func Verify(ctx context.Context, src AccountSource, baseAsset, quoteAsset string, baseNeeded, quoteNeeded float64) error {
	balances, err := src.GetAccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	free := make(map[string]float64, len(balances))
	for _, b := range balances {
		free[b.Asset] = b.Free
	}

	if free[quoteAsset] < quoteNeeded {
		return fmt.Errorf("%w: need %v %s, have %v", ErrInsufficientFunds, quoteNeeded, quoteAsset, free[quoteAsset])
	}
	if free[baseAsset] < baseNeeded {
		return fmt.Errorf("%w: need %v %s, have %v", ErrInsufficientFunds, baseNeeded, baseAsset, free[baseAsset])
	}
	return nil
}

// NonZero filters an account snapshot down to assets with any balance.
func NonZero(balances []common.Balance) []common.Balance {
	out := make([]common.Balance, 0, len(balances))
	for _, b := range balances {
		if b.Free != 0 || b.Locked != 0 {
			out = append(out, b)
		}
	}
	return out
}
