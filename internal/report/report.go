// Package report writes engine results to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/contactkeval/vol-surface/internal/data"
	"github.com/contactkeval/vol-surface/internal/engine"
)

// baseName is "<UNDERLYING>_<kind>_<run id prefix>".
func baseName(res *engine.Result) string {
	id := res.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s", res.Underlying, res.Kind, id)
}

// WriteAll creates outdir and writes the JSON result, the samples CSV and
// the grid CSV. It returns the paths written.
func WriteAll(res *engine.Result, outdir string) ([]string, error) {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}
	var paths []string
	for _, write := range []func(*engine.Result, string) (string, error){WriteJSON, WriteSamplesCSV, WriteGridCSV} {
		p, err := write(res, outdir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// WriteJSON writes the whole result, grid included, as indented JSON.
func WriteJSON(res *engine.Result, outdir string) (string, error) {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(outdir, baseName(res)+".json")
	return path, os.WriteFile(path, b, 0o644)
}

// WriteSamplesCSV writes one row per solved quote.
func WriteSamplesCSV(res *engine.Result, outdir string) (_ string, err error) {
	path := filepath.Join(outdir, baseName(res)+"_samples.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer closeFile(f, &err)

	w := csv.NewWriter(f)
	headers := []string{"symbol", "expiration", "strike", "time_to_expiry", "mid_price", "moneyness", "implied_vol_pct", "provider_iv_pct"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	for _, s := range res.Samples {
		providerIV := ""
		if s.ProviderIV != nil {
			providerIV = formatFloat(*s.ProviderIV)
		}
		row := []string{
			s.Symbol,
			s.Expiration.Format(data.DateLayout),
			formatFloat(s.Strike),
			formatFloat(s.TimeToExpiry),
			formatFloat(s.MidPrice),
			formatFloat(s.Moneyness),
			formatFloat(s.ImpliedVol),
			providerIV,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// WriteGridCSV writes the surface as a matrix: the header row holds the
// strikes, each following row a time to expiry and its volatilities.
// Points outside the sampled region are left empty.
func WriteGridCSV(res *engine.Result, outdir string) (_ string, err error) {
	if res.Grid == nil {
		return "", fmt.Errorf("result %s has no grid", res.RunID)
	}
	path := filepath.Join(outdir, baseName(res)+"_grid.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer closeFile(f, &err)

	w := csv.NewWriter(f)
	strikes := res.Grid.Strikes()
	header := make([]string, 0, len(strikes)+1)
	header = append(header, "time_to_expiry")
	for _, k := range strikes {
		header = append(header, formatFloat(k))
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	values := res.Grid.Values()
	for i, tte := range res.Grid.Maturities() {
		row := make([]string, 0, len(strikes)+1)
		row = append(row, formatFloat(tte))
		for _, v := range values[i] {
			if math.IsNaN(v) {
				row = append(row, "")
				continue
			}
			row = append(row, formatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// closeFile closes f and reports its error unless an earlier one is set.
func closeFile(f io.Closer, err *error) {
	if cerr := f.Close(); *err == nil && cerr != nil {
		*err = fmt.Errorf("closing report: %w", cerr)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
