package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/contactkeval/vol-surface/internal/logger"
)

// RateSource supplies the annualised risk-free rate as a decimal.
type RateSource interface {
	RiskFreeRate(ctx context.Context) (float64, error)
}

// FixedRate is a constant rate, e.g. one set in the configuration.
type FixedRate float64

func (r FixedRate) RiskFreeRate(context.Context) (float64, error) { return float64(r), nil }

// TreasuryRates reads the latest average Treasury Bill rate from the US
// Treasury fiscal data API. The last good value is reused when a later
// fetch fails.
//
// The figure is the monthly average interest rate on outstanding bills,
// an approximation of the current 13-week bill yield: it lags the market
// by up to a month and blends maturities up to one year. Set the rate in
// the configuration when that matters.
type TreasuryRates struct {
	Client  *http.Client
	BaseURL string

	mu            sync.Mutex
	lastKnownRate float64
	lastFetchTime time.Time
}

type treasuryResponse struct {
	Data []struct {
		RecordDate            string `json:"record_date"`
		AvgInterestRateAmount string `json:"avg_interest_rate_amt"`
	} `json:"data"`
}

// NewTreasuryRates returns a client for the public fiscal data API.
func NewTreasuryRates() *TreasuryRates {
	return &TreasuryRates{
		Client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: "https://api.fiscaldata.treasury.gov/services/api/fiscal_service",
	}
}

// RiskFreeRate implements RateSource.
func (t *TreasuryRates) RiskFreeRate(ctx context.Context) (float64, error) {
	rate, err := t.fetch(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if t.lastFetchTime.IsZero() {
			return 0, err
		}
		logger.Errorf("treasury API failed (%v), using last known rate %.4f%% from %s ago",
			err, t.lastKnownRate*100, time.Since(t.lastFetchTime).Round(time.Minute))
		return t.lastKnownRate, nil
	}
	t.lastKnownRate, t.lastFetchTime = rate, time.Now()
	logger.Infof("fetched Treasury Bill rate: %.3f%%", rate*100)
	return rate, nil
}

func (t *TreasuryRates) fetch(ctx context.Context) (float64, error) {
	reqURL := fmt.Sprintf("%s/v2/accounting/od/avg_interest_rates?fields=avg_interest_rate_amt,record_date&filter=security_desc:eq:Treasury%%20Bills&sort=-record_date&page[size]=1", t.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch Treasury rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("treasury API returned status %d", resp.StatusCode)
	}

	var body treasuryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode Treasury response: %w", err)
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("no Treasury rate data returned")
	}

	// percentage string to decimal, "3.983" -> 0.03983
	rateStr := body.Data[0].AvgInterestRateAmount
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse rate %s: %w", rateStr, err)
	}
	return rate / 100.0, nil
}
