package dataflows

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// OfflineStore reads market data from files under dir:
//
//	prices/<TICKER>.csv        date,open,high,low,close,volume
//	metrics/<TICKER>.json      [{"report_period": "2024-03-31", ...}]
//	news/<TICKER>.json         [models.NewsItem]
//	insider_trades/<TICKER>.json [models.InsiderTrade]
//
// Missing news, insider or metrics files yield empty results.
type OfflineStore struct {
	dir string
}

func NewOfflineStore(dir string) *OfflineStore {
	return &OfflineStore{dir: dir}
}

func (s *OfflineStore) file(kind, ticker, ext string) string {
	return filepath.Join(s.dir, kind, NormalizeSymbol(ticker)+ext)
}

func (s *OfflineStore) Prices(_ context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	f, err := os.Open(s.file("prices", ticker, ".csv"))
	if err != nil {
		return nil, fmt.Errorf("offline prices for %s: %w", ticker, err)
	}
	defer f.Close()

	bars, err := ReadPriceCSV(f, NormalizeSymbol(ticker))
	if err != nil {
		return nil, fmt.Errorf("offline prices for %s: %w", ticker, err)
	}
	start, end = models.Day(start), models.Day(end)
	out := bars[:0]
	for _, bar := range bars {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// Metrics picks the latest snapshot reported on or before asOf.
func (s *OfflineStore) Metrics(_ context.Context, ticker string, asOf time.Time) (*models.FinancialMetrics, error) {
	var snapshots []models.FinancialMetrics
	if err := readJSON(s.file("metrics", ticker, ".json"), &snapshots); err != nil {
		return nil, err
	}
	asOf = models.Day(asOf)

	var best *models.FinancialMetrics
	var bestDay time.Time
	for i := range snapshots {
		day, err := models.ParseDate(snapshots[i].ReportPeriod)
		if err != nil || day.After(asOf) {
			continue
		}
		if best == nil || day.After(bestDay) {
			best, bestDay = &snapshots[i], day
		}
	}
	if best != nil && best.Ticker == "" {
		best.Ticker = NormalizeSymbol(ticker)
	}
	return best, nil
}

func (s *OfflineStore) News(_ context.Context, ticker string, start, end time.Time) ([]models.NewsItem, error) {
	var items []models.NewsItem
	if err := readJSON(s.file("news", ticker, ".json"), &items); err != nil {
		return nil, err
	}
	out := items[:0]
	for _, n := range items {
		if within(n.Date, start, end) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *OfflineStore) InsiderTrades(_ context.Context, ticker string, start, end time.Time) ([]models.InsiderTrade, error) {
	var trades []models.InsiderTrade
	if err := readJSON(s.file("insider_trades", ticker, ".json"), &trades); err != nil {
		return nil, err
	}
	out := trades[:0]
	for _, t := range trades {
		if within(t.TransactionDate, start, end) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SavePrices writes bars in the layout Prices reads.
func (s *OfflineStore) SavePrices(ticker string, bars []models.PriceBar) error {
	path := s.file("prices", ticker, ".csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WritePriceCSV(f, bars)
}

func within(t, start, end time.Time) bool {
	day := models.Day(t)
	return !day.Before(models.Day(start)) && !day.After(models.Day(end))
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

var priceHeader = []string{"date", "open", "high", "low", "close", "volume"}

// ReadPriceCSV parses date,open,high,low,close,volume rows. A header row is
// skipped and the result is sorted by date.
func ReadPriceCSV(r io.Reader, ticker string) ([]models.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = len(priceHeader)

	var bars []models.PriceBar
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(record[0], priceHeader[0]) {
			continue
		}

		bar := models.PriceBar{Ticker: ticker}
		if bar.Date, err = models.ParseDate(record[0]); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close}
		for i, dst := range fields {
			if *dst, err = decimal.NewFromString(record[i+1]); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, priceHeader[i+1], err)
			}
		}
		if bar.Volume, err = strconv.ParseInt(record[5], 10, 64); err != nil {
			return nil, fmt.Errorf("line %d volume: %w", line, err)
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func WritePriceCSV(w io.Writer, bars []models.PriceBar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(priceHeader); err != nil {
		return err
	}
	for _, bar := range bars {
		row := []string{
			bar.Date.Format(models.DateLayout),
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			strconv.FormatInt(bar.Volume, 10),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
