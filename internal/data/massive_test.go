package data

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contactkeval/vol-surface/internal/pricing"
)

func newTestMassive(srv *httptest.Server) *massiveDataProvider {
	return &massiveDataProvider{
		APIKey:        "test",
		Client:        srv.Client(),
		BaseURL:       srv.URL, // IMPORTANT
		Location:      time.UTC,
		rateLimitWait: func() time.Duration { return time.Millisecond },
	}
}

func TestMassiveProvider_SpotLastTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Errorf("missing bearer token")
		}
		if r.URL.Path != "/v2/last/trade/AAPL" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"OK","results":{"p":187.42,"s":100}}`))
	}))
	defer srv.Close()

	spot, err := newTestMassive(srv).GetSpotPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot != 187.42 {
		t.Fatalf("expected 187.42, got %v", spot)
	}
}

func TestMassiveProvider_SpotFallsBackToPreviousClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/last/trade/AAPL":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"status":"NOT_AUTHORIZED","message":"plan does not include trades"}`))
		case "/v2/aggs/ticker/AAPL/prev":
			w.Write([]byte(`{"results":[{"c":185.1,"o":183,"h":186,"l":182}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	spot, err := newTestMassive(srv).GetSpotPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot != 185.1 {
		t.Fatalf("expected previous close 185.1, got %v", spot)
	}
}

func TestMassiveProvider_HTTPError(t *testing.T) {
	// fake server returning 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"internal error"}`))
	}))
	defer srv.Close()

	_, err := newTestMassive(srv).GetExpirations(context.Background(), "AAPL")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("expected API message in error, got %v", err)
	}
}

func TestMassiveProvider_ExpirationsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page2" {
			w.Write([]byte(`{"results":[
				{"expiration_date":"2025-02-21","strike_price":150,"contract_type":"call"},
				{"expiration_date":"2025-01-17","strike_price":155,"contract_type":"put"}
			]}`))
			return
		}
		if got := r.URL.Query().Get("underlying_ticker"); got != "AAPL" {
			t.Errorf("underlying_ticker=%q", got)
		}
		w.Write([]byte(`{
			"results": [
				{"expiration_date":"2025-01-17","strike_price":150,"contract_type":"call"},
				{"expiration_date":"bogus","strike_price":150,"contract_type":"call"},
				{"expiration_date":"2025-01-24","strike_price":150,"contract_type":"call"}
			],
			"next_url": "` + srv.URL + `/page2"
		}`))
	}))
	defer srv.Close()

	exps, err := newTestMassive(srv).GetExpirations(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"2025-01-17", "2025-01-24", "2025-02-21"}
	if len(exps) != len(want) {
		t.Fatalf("expected %d expirations, got %v", len(want), exps)
	}
	for i, w := range want {
		if got := exps[i].Format(DateLayout); got != w {
			t.Fatalf("expiration %d = %s want %s", i, got, w)
		}
	}
}

func TestMassiveProvider_OptionChain(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/next" {
			w.Write([]byte(`{"results":[
				{"details":{"contract_type":"call","expiration_date":"2025-01-17","strike_price":160,"ticker":"O:AAPL250117C00160000"},
				 "last_quote":{"bid":0.5,"ask":0.7}}
			]}`))
			return
		}
		if r.URL.Path != "/v3/snapshot/options/AAPL" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("contract_type") != "call" || q.Get("expiration_date") != "2025-01-17" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{
			"status":"OK",
			"results":[
				{"details":{"contract_type":"call","expiration_date":"2025-01-17","strike_price":150,"ticker":"O:AAPL250117C00150000"},
				 "implied_volatility":0.31,
				 "last_quote":{"bid":4.1,"ask":4.3}},
				{"details":{"contract_type":"put","expiration_date":"2025-01-17","strike_price":150,"ticker":"O:AAPL250117P00150000"},
				 "last_quote":{"bid":1,"ask":1.1}}
			],
			"next_url":"` + srv.URL + `/next"
		}`))
	}))
	defer srv.Close()

	exp := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
	quotes, err := newTestMassive(srv).GetOptionChain(context.Background(), "AAPL", exp, pricing.Call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 call quotes, got %d", len(quotes))
	}

	q := quotes[0]
	if q.Symbol != "O:AAPL250117C00150000" || q.Kind != pricing.Call {
		t.Fatalf("unexpected quote %+v", q)
	}
	if mid := q.Mid().String(); mid != "4.2" {
		t.Fatalf("expected mid 4.2, got %s", mid)
	}
	if q.ProviderIV != 0.31 {
		t.Fatalf("expected provider IV 0.31, got %v", q.ProviderIV)
	}
	if !math.IsNaN(quotes[1].ProviderIV) {
		t.Fatalf("missing provider IV should be NaN, got %v", quotes[1].ProviderIV)
	}
	if !q.Expiration.Equal(exp) {
		t.Fatalf("expected expiration %v, got %v", exp, q.Expiration)
	}
}

func TestMassiveProvider_RateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":{"p":10}}`))
	}))
	defer srv.Close()

	spot, err := newTestMassive(srv).GetSpotPrice(context.Background(), "X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot != 10 || calls.Load() != 2 {
		t.Fatalf("expected retry after 429, spot=%v calls=%d", spot, calls.Load())
	}
}

func TestMassiveProvider_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newTestMassive(srv)
	p.rateLimitWait = func() time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.GetExpirations(ctx, "X")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMassiveProvider_SecondaryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestMassive(srv)
	p.secondary = &SyntheticProvider{Spot: 42}

	spot, err := p.GetSpotPrice(context.Background(), "X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot != 42 {
		t.Fatalf("expected secondary spot 42, got %v", spot)
	}
}
