// Package feed provides market data sources for the engine: an in-memory
// feed for backtests loaded from CSV, and a store-backed feed for paper
// trading where a fetcher keeps the store current.
package feed

import (
	"os"

	"github.com/gocarina/gocsv"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

// LoadBarsCSV reads option bars from a CSV file. Timestamps are RFC3339;
// columns follow the csv tags on models.Bar.
func LoadBarsCSV(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open bars csv")
	}
	defer f.Close()

	var bars []models.Bar
	if err := gocsv.UnmarshalFile(f, &bars); err != nil {
		return nil, errors.Wrap(err, "parse bars csv")
	}
	return bars, nil
}

// LoadSpotCSV reads the index spot series from a CSV file.
func LoadSpotCSV(path string) ([]models.SpotBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open spot csv")
	}
	defer f.Close()

	var bars []models.SpotBar
	if err := gocsv.UnmarshalFile(f, &bars); err != nil {
		return nil, errors.Wrap(err, "parse spot csv")
	}
	return bars, nil
}
