package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/pricing"
)

// localCSVProvider serves market data from CSV files in a directory:
//
//	spot.csv                      underlying,spot
//	chain_<UNDERLYING>_<kind>.csv expiration,strike,bid,ask[,implied_volatility]
//
// A header row is optional in both files. Files are read once and cached.
type localCSVProvider struct {
	dir       string
	loc       *time.Location
	secondary Provider

	mu     sync.Mutex
	spots  map[string]float64
	chains map[string][]OptionQuote // keyed by file name
}

// NewLocalCSVProvider convenience constructor.
func NewLocalCSVProvider(dir string, secondary Provider) *localCSVProvider {
	return &localCSVProvider{
		dir:       dir,
		loc:       time.Local,
		secondary: secondary,
		chains:    make(map[string][]OptionQuote),
	}
}

func (localCSVProv *localCSVProvider) Secondary() Provider {
	return localCSVProv.secondary
}

// GetSpotPrice looks underlying up in spot.csv.
func (localCSVProv *localCSVProvider) GetSpotPrice(ctx context.Context, underlying string) (float64, error) {
	spots, err := localCSVProv.loadSpots()
	if err == nil {
		if s, ok := spots[strings.ToUpper(underlying)]; ok {
			return s, nil
		}
		err = fmt.Errorf("no spot price for %s in %s", underlying, localCSVProv.dir)
	}
	return withSecondary(localCSVProv, "spot price", err, func(p Provider) (float64, error) {
		return p.GetSpotPrice(ctx, underlying)
	})
}

// GetExpirations returns the expirations present in either chain file.
func (localCSVProv *localCSVProvider) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	var out []time.Time
	found := false
	for _, kind := range []pricing.Kind{pricing.Call, pricing.Put} {
		quotes, err := localCSVProv.loadChain(underlying, kind)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return withSecondary(localCSVProv, "expirations", err, func(p Provider) ([]time.Time, error) {
				return p.GetExpirations(ctx, underlying)
			})
		}
		found = true
		for _, q := range quotes {
			out = append(out, q.Expiration)
		}
	}
	if !found {
		err := fmt.Errorf("no chain files for %s in %s", underlying, localCSVProv.dir)
		return withSecondary(localCSVProv, "expirations", err, func(p Provider) ([]time.Time, error) {
			return p.GetExpirations(ctx, underlying)
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return dedupeDates(out), nil
}

// GetOptionChain returns the rows of the kind's chain file expiring on
// expiration.
func (localCSVProv *localCSVProvider) GetOptionChain(ctx context.Context, underlying string, expiration time.Time, kind pricing.Kind) ([]OptionQuote, error) {
	quotes, err := localCSVProv.loadChain(underlying, kind)
	if err != nil {
		return withSecondary(localCSVProv, "option chain", err, func(p Provider) ([]OptionQuote, error) {
			return p.GetOptionChain(ctx, underlying, expiration, kind)
		})
	}

	day := expiration.Format(DateLayout)
	var out []OptionQuote
	for _, q := range quotes {
		if q.Expiration.Format(DateLayout) == day {
			out = append(out, q)
		}
	}
	return out, nil
}

func (localCSVProv *localCSVProvider) loadSpots() (map[string]float64, error) {
	localCSVProv.mu.Lock()
	defer localCSVProv.mu.Unlock()
	if localCSVProv.spots != nil {
		return localCSVProv.spots, nil
	}

	records, err := readCSV(filepath.Join(localCSVProv.dir, "spot.csv"))
	if err != nil {
		return nil, err
	}
	spots := make(map[string]float64)
	for _, row := range records {
		if len(row) < 2 {
			continue
		}
		spot, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			continue // header
		}
		spots[strings.ToUpper(strings.TrimSpace(row[0]))] = spot
	}
	localCSVProv.spots = spots
	return spots, nil
}

func chainFile(underlying string, kind pricing.Kind) string {
	return fmt.Sprintf("chain_%s_%s.csv", strings.ToUpper(underlying), kind)
}

func (localCSVProv *localCSVProvider) loadChain(underlying string, kind pricing.Kind) ([]OptionQuote, error) {
	name := chainFile(underlying, kind)

	localCSVProv.mu.Lock()
	defer localCSVProv.mu.Unlock()
	if quotes, ok := localCSVProv.chains[name]; ok {
		return quotes, nil
	}

	records, err := readCSV(filepath.Join(localCSVProv.dir, name))
	if err != nil {
		return nil, err
	}

	var quotes []OptionQuote
	for i, row := range records {
		q, err := localCSVProv.parseQuote(underlying, kind, row)
		if err != nil {
			if i == 0 {
				continue // header
			}
			logger.Debugf("%s line %d skipped: %v", name, i+1, err)
			continue
		}
		quotes = append(quotes, q)
	}
	logger.Debugf("loaded %d quotes from %s", len(quotes), name)
	localCSVProv.chains[name] = quotes
	return quotes, nil
}

func (localCSVProv *localCSVProvider) parseQuote(underlying string, kind pricing.Kind, row []string) (OptionQuote, error) {
	if len(row) < 4 {
		return OptionQuote{}, fmt.Errorf("expected at least 4 columns, got %d", len(row))
	}
	exp, err := ParseExpiration(row[0], localCSVProv.loc)
	if err != nil {
		return OptionQuote{}, err
	}
	var nums [3]decimal.Decimal
	for k, field := range row[1:4] {
		if nums[k], err = decimal.NewFromString(strings.TrimSpace(field)); err != nil {
			return OptionQuote{}, fmt.Errorf("column %d: %w", k+2, err)
		}
	}
	iv := math.NaN()
	if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
		if iv, err = strconv.ParseFloat(strings.TrimSpace(row[4]), 64); err != nil {
			return OptionQuote{}, fmt.Errorf("implied_volatility: %w", err)
		}
	}
	strike, _ := nums[0].Float64()
	return OptionQuote{
		Symbol:     OptionSymbolFromParts(underlying, exp, kind, strike),
		Kind:       kind,
		Expiration: exp,
		Strike:     nums[0],
		Bid:        nums[1],
		Ask:        nums[2],
		ProviderIV: iv,
	}, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var records [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		records = append(records, row)
	}
	return records, nil
}
