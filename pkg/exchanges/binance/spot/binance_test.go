package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

func TestParamsEncodePreservesInsertionOrder(t *testing.T) {
	p := NewParams()
	p.Set("symbol", "ETHUSDT")
	p.Set("side", "BUY")
	p.Set("type", "LIMIT")
	p.SetFloat("quantity", 0.05)
	p.SetFloat("price", 1999.2)

	got := p.Encode()
	want := "symbol=ETHUSDT&side=BUY&type=LIMIT&quantity=0.05&price=1999.2"
	if got != want {
		t.Errorf("encode order mismatch:\n got  %s\n want %s", got, want)
	}

	// Overwriting a key must not change its position.
	p.Set("side", "SELL")
	if !strings.HasPrefix(p.Encode(), "symbol=ETHUSDT&side=SELL&type=") {
		t.Errorf("overwrite moved key: %s", p.Encode())
	}
}

func TestPlaceLimitOrderSigning(t *testing.T) {
	const secret = "test-secret"
	var gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Errorf("missing api key header")
		}
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Write([]byte(`{"symbol":"ETHUSDT","orderId":42,"clientOrderId":"c1","status":"NEW","price":"1999.20000000","origQty":"0.05000000"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", APISecret: secret}, nil)
	c.SetBaseURL(srv.URL)

	ack, err := c.PlaceLimitOrder(context.Background(), "ETHUSDT", common.SideBuy, 0.05, 1999.2)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if ack.OrderID != "42" || ack.Status != "NEW" {
		t.Errorf("unexpected ack %+v", ack)
	}
	if ack.Price != 1999.2 || ack.OrigQty != 0.05 {
		t.Errorf("ack price/qty not parsed: %+v", ack)
	}

	// Signature must cover the body minus the trailing signature param,
	// in insertion order.
	idx := strings.LastIndex(gotBody, "&signature=")
	if idx < 0 {
		t.Fatalf("no signature in body: %s", gotBody)
	}
	payload, sig := gotBody[:idx], gotBody[idx+len("&signature="):]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
		t.Errorf("signature mismatch over %q", payload)
	}
	if !strings.HasPrefix(payload, "symbol=ETHUSDT&side=BUY&type=LIMIT&timeInForce=GTC&quantity=0.05&price=1999.2") {
		t.Errorf("unexpected param order: %s", payload)
	}
}

func TestPlaceLimitOrderResyncsClockOnSkew(t *testing.T) {
	const serverAhead = 7000 // ms the fake server clock runs ahead
	var bodies []string
	var timeCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			timeCalls++
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli()+serverAhead)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`))
			return
		}
		w.Write([]byte(`{"symbol":"ETHUSDT","orderId":7,"status":"NEW","price":"2000","origQty":"0.05"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", APISecret: "s"}, nil)
	c.SetBaseURL(srv.URL)

	ack, err := c.PlaceLimitOrder(context.Background(), "ETHUSDT", common.SideBuy, 0.05, 2000)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if ack.OrderID != "7" {
		t.Errorf("unexpected ack %+v", ack)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	if timeCalls != 1 {
		t.Errorf("expected one clock resync, got %d", timeCalls)
	}
	if !strings.Contains(bodies[0], "recvWindow=5000") {
		t.Errorf("first attempt should use default recvWindow: %s", bodies[0])
	}
	if !strings.Contains(bodies[1], "recvWindow=60000") {
		t.Errorf("retry should widen recvWindow: %s", bodies[1])
	}
	if strings.Count(bodies[1], "signature=") != 1 {
		t.Errorf("retry must re-sign exactly once: %s", bodies[1])
	}

	// The retry must stamp with the resynced clock, i.e. roughly the
	// server's offset ahead of local time.
	ts := extractInt(t, bodies[1], "timestamp=")
	ahead := ts - time.Now().UnixMilli()
	if ahead < serverAhead/2 {
		t.Errorf("retry timestamp only %dms ahead, want about %dms", ahead, int64(serverAhead))
	}
}

func extractInt(t *testing.T, body, key string) int64 {
	t.Helper()
	idx := strings.Index(body, key)
	if idx < 0 {
		t.Fatalf("no %q in body: %s", key, body)
	}
	rest := body[idx+len(key):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	v, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		t.Fatalf("parse %s%s: %v", key, rest, err)
	}
	return v
}

func TestWeightHeaderFeedsRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "1150")
		w.Write([]byte(`{"balances":[{"asset":"ETH","free":"1.0","locked":"0.0"}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", APISecret: "s"}, nil)
	c.SetBaseURL(srv.URL)

	if c.rateLimiter.ShouldDelay() {
		t.Fatal("fresh client should not delay")
	}
	if _, err := c.GetAccountBalances(context.Background()); err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if !c.rateLimiter.ShouldDelay() {
		t.Error("1150/1200 reported weight should signal a delay")
	}
}

func TestGetSymbolFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"ETHUSDT","baseAsset":"ETH","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01000000","maxPrice":"1000000.00000000","tickSize":"0.01000000"},
			{"filterType":"LOT_SIZE","minQty":"0.00010000","maxQty":"9000.00000000","stepSize":"0.00010000"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000","maxNotional":"9000000.00000000"}
		]}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", APISecret: "s"}, nil)
	c.SetBaseURL(srv.URL)

	f, err := c.GetSymbolFilters(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if f.BaseAsset != "ETH" || f.QuoteAsset != "USDT" {
		t.Errorf("asset split wrong: %s/%s", f.BaseAsset, f.QuoteAsset)
	}
	if f.PriceDecimals != 2 || f.QtyDecimals != 4 {
		t.Errorf("decimals wrong: price=%d qty=%d", f.PriceDecimals, f.QtyDecimals)
	}
	if got := RoundPrice(f, 1999.23456); got != 1999.23 {
		t.Errorf("RoundPrice = %v", got)
	}
	if got := RoundQty(f, 0.051234); got != 0.0512 {
		t.Errorf("RoundQty = %v", got)
	}

	t.Run("validation", func(t *testing.T) {
		if err := ValidateOrder(f, 2000, 0.05); err != nil {
			t.Errorf("valid order rejected: %v", err)
		}
		if err := ValidateOrder(f, 2000, 0.00001); err == nil {
			t.Error("lot size violation not caught")
		}
		if err := ValidateOrder(f, 10, 0.001); err == nil {
			t.Error("notional violation not caught")
		}
	})
}

func TestDecimals(t *testing.T) {
	cases := map[string]int{
		"0.01000000": 2,
		"0.00010000": 4,
		"1.00000000": 0,
		"0.1":        1,
	}
	for in, want := range cases {
		if got := decimals(in); got != want {
			t.Errorf("decimals(%q) = %d, want %d", in, got, want)
		}
	}
}
