package config

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/ssperling5/IBBot/internal/models"
)

// LoadInstruments reads the traded basket from a CSV file with columns
// ticker,targetBuy,targetSell,weightTarget. Rows are validated and duplicate
// tickers rejected; the basket is immutable once loaded.
func LoadInstruments(path string) ([]models.Instrument, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the operator's config
	if err != nil {
		return nil, fmt.Errorf("opening instruments file: %w", err)
	}
	defer f.Close()

	var rows []*models.Instrument
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing instruments csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("instruments file %s has no rows", path)
	}

	seen := make(map[string]struct{}, len(rows))
	instruments := make([]models.Instrument, 0, len(rows))
	for i, row := range rows {
		if row == nil {
			continue
		}
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("instruments row %d: %w", i+1, err)
		}
		if _, dup := seen[row.Ticker]; dup {
			return nil, fmt.Errorf("instruments row %d: duplicate ticker %s", i+1, row.Ticker)
		}
		seen[row.Ticker] = struct{}{}
		instruments = append(instruments, *row)
	}
	return instruments, nil
}
