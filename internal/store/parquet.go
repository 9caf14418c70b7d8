package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"stockpit/internal/domain"
)

// Compile-time interface check.
var _ CandleStore = (*ParquetStore)(nil)

// ParquetStore implements CandleStore using Parquet files on disk. Daily
// candle history is bulky, append-mostly, and read in whole-symbol sweeps by
// the signal analyzer, which suits a columnar file per symbol and year.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// CandleRecord is the Parquet schema for daily candle data.
type CandleRecord struct {
	Code       string  `parquet:"code"`
	Date       int64   `parquet:"date,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// WriteCandles writes candle data to Parquet files organized by code and
// year. Each code+year combination produces a separate file at:
//
//	<DataDir>/daily/<CODE>/<YYYY>.parquet
//
// Existing records for the same (code, date) are replaced, so re-collection
// of an overlapping day window is idempotent.
func (s *ParquetStore) WriteCandles(_ context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		code string
		year int
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		k := key{code: c.Code, year: c.Date.Year()}
		groups[k] = append(groups[k], CandleRecord{
			Code:       c.Code,
			Date:       c.Date.UnixMilli(),
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
			TradeCount: c.TradeCount,
			VWAP:       c.VWAP,
		})
	}

	for k, records := range groups {
		path := s.candlePath(k.code, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s/%d: %w", k.code, k.year, err)
		}
	}
	return nil
}

// ReadCandles reads candle data from Parquet files for the given code and
// time range, sorted by date.
func (s *ParquetStore) ReadCandles(_ context.Context, code string, start, end time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.candlePath(code, year)

		records, err := readParquetFile[CandleRecord](path)
		if err != nil {
			// File doesn't exist for this year — skip.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Date).UTC()
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				candles = append(candles, domain.Candle{
					Code:       r.Code,
					Date:       ts,
					Open:       r.Open,
					High:       r.High,
					Low:        r.Low,
					Close:      r.Close,
					Volume:     r.Volume,
					TradeCount: r.TradeCount,
					VWAP:       r.VWAP,
				})
			}
		}
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Date.Before(candles[j].Date) })
	return candles, nil
}

// ListCodes lists all codes that have candle data.
func (s *ParquetStore) ListCodes(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			codes = append(codes, e.Name())
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/daily/<CODE>/<YYYY>.parquet
func (s *ParquetStore) candlePath(code string, year int) string {
	return filepath.Join(s.DataDir, "daily", strings.ToUpper(code), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeCandleRecords deduplicates candle records by (code, date), preferring
// new records over existing ones. Results are sorted by date.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	type key struct {
		code string
		date int64
	}
	seen := make(map[key]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Code, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Code, r.Date}] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
