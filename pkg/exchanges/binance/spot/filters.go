package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

// ErrFilterViolation wraps a placement rejected before reaching the exchange.
type ErrFilterViolation struct {
	Reason string
}

func (e *ErrFilterViolation) Error() string {
	return "filter violation: " + e.Reason
}

var filterCache sync.Map // symbol+host -> *common.SymbolFilters

// GetSymbolFilters fetches exchangeInfo for symbol and extracts the
// PRICE_FILTER, LOT_SIZE and NOTIONAL constraints. A missing filter is an
// error: placing without precision data risks a hard reject loop.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*common.SymbolFilters, error) {
	cacheKey := c.baseURL + "/" + symbol
	if cached, ok := filterCache.Load(cacheKey); ok {
		return cached.(*common.SymbolFilters), nil
	}

	if err := c.waitThrottle(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/exchangeInfo?symbol="+symbol, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, parseAPIError(res.StatusCode, body)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				MinPrice    string `json:"minPrice"`
				MaxPrice    string `json:"maxPrice"`
				TickSize    string `json:"tickSize"`
				MinQty      string `json:"minQty"`
				MaxQty      string `json:"maxQty"`
				StepSize    string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
				MaxNotional string `json:"maxNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("exchange info: symbol %s not found", symbol)
	}

	var (
		out                              common.SymbolFilters
		havePrice, haveLot, haveNotional bool
	)
	out.BaseAsset = info.Symbols[0].BaseAsset
	out.QuoteAsset = info.Symbols[0].QuoteAsset
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			out.MinPrice = parseF(f.MinPrice)
			out.MaxPrice = parseF(f.MaxPrice)
			out.TickSize = parseF(f.TickSize)
			out.PriceDecimals = decimals(f.TickSize)
			havePrice = true
		case "LOT_SIZE":
			out.MinQty = parseF(f.MinQty)
			out.MaxQty = parseF(f.MaxQty)
			out.StepSize = parseF(f.StepSize)
			out.QtyDecimals = decimals(f.StepSize)
			haveLot = true
		case "NOTIONAL", "MIN_NOTIONAL":
			out.MinNotional = parseF(f.MinNotional)
			out.MaxNotional = parseF(f.MaxNotional)
			haveNotional = true
		}
	}
	if !havePrice || !haveLot || !haveNotional {
		return nil, fmt.Errorf("exchange info: incomplete filters for %s (price=%v lot=%v notional=%v)",
			symbol, havePrice, haveLot, haveNotional)
	}

	filterCache.Store(cacheKey, &out)
	return &out, nil
}

// RoundPrice rounds to the tick-size decimal count.
func RoundPrice(f *common.SymbolFilters, price float64) float64 {
	return roundTo(price, f.PriceDecimals)
}

// RoundQty rounds to the step-size decimal count.
func RoundQty(f *common.SymbolFilters, qty float64) float64 {
	return roundTo(qty, f.QtyDecimals)
}

// ValidateOrder checks a rounded (price, qty) pair against all three
// filters. The caller must not contact the exchange on error.
func ValidateOrder(f *common.SymbolFilters, price, qty float64) error {
	if price < f.MinPrice || (f.MaxPrice > 0 && price > f.MaxPrice) {
		return &ErrFilterViolation{Reason: fmt.Sprintf("price %v outside [%v, %v]", price, f.MinPrice, f.MaxPrice)}
	}
	if qty < f.MinQty || (f.MaxQty > 0 && qty > f.MaxQty) {
		return &ErrFilterViolation{Reason: fmt.Sprintf("quantity %v outside [%v, %v]", qty, f.MinQty, f.MaxQty)}
	}
	notional := price * qty
	if notional < f.MinNotional || (f.MaxNotional > 0 && notional > f.MaxNotional) {
		return &ErrFilterViolation{Reason: fmt.Sprintf("notional %v outside [%v, %v]", notional, f.MinNotional, f.MaxNotional)}
	}
	return nil
}

func roundTo(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// decimals counts fractional digits in a tick/step string like "0.0100".
func decimals(s string) int {
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
