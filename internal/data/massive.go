// Package data provides market data provider implementations.
//
// This file contains a Massive-backed Provider that retrieves the spot
// price, listed expirations and option-chain snapshots over the Massive
// (Polygon-compatible) HTTP API.
//
// Design notes:
//   - Uses raw HTTP calls instead of the official Massive SDK
//   - Supports pagination, rate-limiting retries, and fallback providers
//   - Logging is verbose at Debug/Trace levels for diagnostics
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/pricing"
)

// massiveDataProvider implements the Provider interface using Massive APIs.
type massiveDataProvider struct {
	// APIKey used for authenticating requests with Massive.
	APIKey string

	// Client is the HTTP client used to make API requests.
	Client *http.Client

	// BaseURL is the root endpoint for Massive APIs
	// (e.g., https://api.massive.com).
	BaseURL string

	// Location expiration dates are interpreted in; nil means time.Local.
	Location *time.Location

	// rateLimitWait returns how long to back off after an HTTP 429.
	rateLimitWait func() time.Duration

	// secondary is an optional fallback provider.
	secondary Provider
}

// massiveContract represents a single option contract
// returned by Massive's contracts reference endpoint.
type massiveContract struct {
	ContractType string  `json:"contract_type"`
	ExpiryDate   string  `json:"expiration_date"`
	StrikePrice  float64 `json:"strike_price"`
	Ticker       string  `json:"ticker"`
}

// massiveContractsResp models the paginated response
// returned by Massive's option contracts API.
type massiveContractsResp struct {
	Results   []massiveContract `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	NextURL   string            `json:"next_url"`
}

// massiveSnapshot is one contract of the option chain snapshot endpoint.
type massiveSnapshot struct {
	Details struct {
		ContractType string          `json:"contract_type"`
		ExpiryDate   string          `json:"expiration_date"`
		StrikePrice  decimal.Decimal `json:"strike_price"`
		Ticker       string          `json:"ticker"`
	} `json:"details"`
	ImpliedVolatility *float64 `json:"implied_volatility"`
	LastQuote         struct {
		Bid decimal.Decimal `json:"bid"`
		Ask decimal.Decimal `json:"ask"`
	} `json:"last_quote"`
}

type massiveSnapshotResp struct {
	Results []massiveSnapshot `json:"results"`
	Status  string            `json:"status"`
	NextURL string            `json:"next_url"`
}

// NewMassiveDataProvider constructs a Massive-backed data provider.
//
// It initializes an HTTP client with sensible defaults for:
//   - timeouts
//   - connection pooling
//   - HTTP/2 support
//   - gzip decompression
//
// Parameters:
//   - apiKey: Massive API key for authentication
//   - secondary: provider consulted when a request fails, may be nil
func NewMassiveDataProvider(apiKey string, secondary Provider) *massiveDataProvider {
	logger.Infof("initializing Massive data provider")

	return &massiveDataProvider{
		APIKey: apiKey,
		Client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    false, // must be false to enable gzip auto-decompression
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		BaseURL:   "https://api.massive.com",
		secondary: secondary,
	}
}

// Secondary returns the configured secondary Provider, if any.
func (massiveDataProv *massiveDataProvider) Secondary() Provider {
	return massiveDataProv.secondary
}

// GetSpotPrice returns the last trade price of underlying, or the previous
// session's close when no trade is available (outside market hours, or on
// plans without real-time trades).
func (massiveDataProv *massiveDataProvider) GetSpotPrice(ctx context.Context, underlying string) (float64, error) {
	spot, err := massiveDataProv.lastTrade(ctx, underlying)
	if err == nil && spot > 0 {
		return spot, nil
	}
	logger.Infof("real-time price for %s not available (%v), using previous close", underlying, err)

	spot, err = massiveDataProv.previousClose(ctx, underlying)
	if err != nil {
		return withSecondary(massiveDataProv, "spot price", err, func(p Provider) (float64, error) {
			return p.GetSpotPrice(ctx, underlying)
		})
	}
	return spot, nil
}

func (massiveDataProv *massiveDataProvider) lastTrade(ctx context.Context, underlying string) (float64, error) {
	var body struct {
		Results struct {
			Price float64 `json:"p"`
		} `json:"results"`
	}
	reqURL := fmt.Sprintf("%s/v2/last/trade/%s", massiveDataProv.BaseURL, url.PathEscape(underlying))
	if err := massiveDataProv.getJSON(ctx, reqURL, &body); err != nil {
		return 0, err
	}
	return body.Results.Price, nil
}

func (massiveDataProv *massiveDataProvider) previousClose(ctx context.Context, underlying string) (float64, error) {
	var body struct {
		Results []struct {
			Close float64 `json:"c"`
		} `json:"results"`
	}
	reqURL := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true", massiveDataProv.BaseURL, url.PathEscape(underlying))
	if err := massiveDataProv.getJSON(ctx, reqURL, &body); err != nil {
		return 0, err
	}
	if len(body.Results) == 0 || !(body.Results[0].Close > 0) {
		return 0, fmt.Errorf("no previous close for %s", underlying)
	}
	return body.Results[0].Close, nil
}

// GetExpirations returns the sorted, unique expiration dates of the
// unexpired contracts listed on underlying.
func (massiveDataProv *massiveDataProvider) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	logger.Debugf("resolving expirations for %s", underlying)

	u, err := url.Parse(massiveDataProv.BaseURL + "/v3/reference/options/contracts")
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("underlying_ticker", underlying)
	query.Set("expired", "false")
	query.Set("order", "asc")
	query.Set("sort", "expiration_date")
	query.Set("limit", "1000")
	u.RawQuery = query.Encode()

	var out []time.Time
	reqURL := u.String()
	for reqURL != "" {
		var page massiveContractsResp
		if err := massiveDataProv.getJSON(ctx, reqURL, &page); err != nil {
			return withSecondary(massiveDataProv, "expirations", err, func(p Provider) ([]time.Time, error) {
				return p.GetExpirations(ctx, underlying)
			})
		}
		logger.Tracef("received %d contracts", len(page.Results))

		for _, c := range page.Results {
			t, err := ParseExpiration(c.ExpiryDate, massiveDataProv.Location)
			if err != nil {
				continue // skip malformed expiry dates
			}
			out = append(out, t)
		}
		reqURL = page.NextURL
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	out = dedupeDates(out)
	logger.Infof("resolved %d unique expirations for %s", len(out), underlying)
	return out, nil
}

// GetOptionChain returns every quoted contract of one kind expiring on
// expiration, following the snapshot endpoint's pagination.
func (massiveDataProv *massiveDataProvider) GetOptionChain(
	ctx context.Context,
	underlying string,
	expiration time.Time,
	kind pricing.Kind,
) ([]OptionQuote, error) {

	logger.Debugf("fetching %s chain: %s expiry=%s", kind, underlying, expiration.Format(DateLayout))

	u, err := url.Parse(fmt.Sprintf("%s/v3/snapshot/options/%s", massiveDataProv.BaseURL, url.PathEscape(underlying)))
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("contract_type", kind.String())
	query.Set("expiration_date", expiration.Format(DateLayout))
	query.Set("limit", "250")
	u.RawQuery = query.Encode()

	var out []OptionQuote
	reqURL := u.String()
	for reqURL != "" {
		var page massiveSnapshotResp
		if err := massiveDataProv.getJSON(ctx, reqURL, &page); err != nil {
			return withSecondary(massiveDataProv, "option chain", err, func(p Provider) ([]OptionQuote, error) {
				return p.GetOptionChain(ctx, underlying, expiration, kind)
			})
		}

		for _, s := range page.Results {
			if !strings.EqualFold(s.Details.ContractType, kind.String()) {
				continue
			}
			exp, err := ParseExpiration(s.Details.ExpiryDate, massiveDataProv.Location)
			if err != nil {
				exp = expiration
			}
			iv := math.NaN()
			if s.ImpliedVolatility != nil {
				iv = *s.ImpliedVolatility
			}
			out = append(out, OptionQuote{
				Symbol:     s.Details.Ticker,
				Kind:       kind,
				Expiration: exp,
				Strike:     s.Details.StrikePrice,
				Bid:        s.LastQuote.Bid,
				Ask:        s.LastQuote.Ask,
				ProviderIV: iv,
			})
		}
		reqURL = page.NextURL
	}

	logger.Tracef("chain %s %s: %d quotes", underlying, expiration.Format(DateLayout), len(out))
	return out, nil
}

// getJSON performs an authenticated GET and decodes a 200 body into out.
func (massiveDataProv *massiveDataProvider) getJSON(ctx context.Context, reqURL string, out any) error {
	logger.Tracef("massive request URL: %s", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+massiveDataProv.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "vol-surface/1.0")

	resp, err := massiveDataProv.processGetRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// processGetRequest executes an HTTP GET request with rate-limit handling.
//
// Behavior:
//   - Retries on HTTP 429 until ctx is done
//   - Sleeps until the next minute boundary between attempts
//   - Returns immediately on success (<400)
//   - Returns an error carrying the API message for other status codes
func (massiveDataProv *massiveDataProvider) processGetRequest(req *http.Request) (*http.Response, error) {
	wait := massiveDataProv.rateLimitWait
	if wait == nil {
		wait = untilNextMinute
	}

	for {
		resp, err := massiveDataProv.Client.Do(req)
		if err != nil {
			return nil, err
		}

		// Success
		if resp.StatusCode < 400 {
			return resp, nil
		}

		// Handle per-minute rate limit (commonly 429)
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()

			sleepDuration := wait()
			logger.Infof("rate limit hit, sleeping for %s", sleepDuration)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(sleepDuration):
			}
			continue
		}

		var dbg struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		_ = json.Unmarshal(body, &dbg)
		if dbg.Message == "" {
			dbg.Message = dbg.Error
		}

		logger.Errorf("massive API error status=%d message=%s", resp.StatusCode, dbg.Message)
		return nil, fmt.Errorf("massive returned status %d: %s", resp.StatusCode, dbg.Message)
	}
}

func untilNextMinute() time.Duration {
	now := time.Now()
	return time.Until(now.Truncate(time.Minute).Add(time.Minute))
}
