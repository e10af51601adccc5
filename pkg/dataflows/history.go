package dataflows

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// HistoryBook keeps the daily bars of a fixed ticker set in memory so that a
// backtest fetches each ticker once, not once per simulated date.
type HistoryBook struct {
	mu   sync.RWMutex
	bars map[string][]models.PriceBar
}

func NewHistoryBook() *HistoryBook {
	return &HistoryBook{bars: make(map[string][]models.PriceBar)}
}

// Load fetches [start, end] for every ticker from src.
func (h *HistoryBook) Load(ctx context.Context, src PriceSource, tickers []string, start, end time.Time) error {
	for _, t := range tickers {
		bars, err := src.Prices(ctx, t, start, end)
		if err != nil {
			return fmt.Errorf("load prices for %s: %w", t, err)
		}
		h.Put(t, bars)
	}
	return nil
}

func (h *HistoryBook) Put(ticker string, bars []models.PriceBar) {
	sorted := make([]models.PriceBar, len(bars))
	copy(sorted, bars)
	for i := range sorted {
		sorted[i].Date = models.Day(sorted[i].Date)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	h.mu.Lock()
	defer h.mu.Unlock()
	h.bars[ticker] = sorted
}

// Window returns the bars of ticker in [date-lookbackDays, date].
func (h *HistoryBook) Window(ticker string, date time.Time, lookbackDays int) []models.PriceBar {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bars := h.bars[ticker]
	date = models.Day(date)
	from := date.AddDate(0, 0, -lookbackDays)

	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(from) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(date) })
	out := make([]models.PriceBar, hi-lo)
	copy(out, bars[lo:hi])
	return out
}

// Close returns the closing price of ticker on exactly date.
func (h *HistoryBook) Close(ticker string, date time.Time) (decimal.Decimal, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bars := h.bars[ticker]
	date = models.Day(date)
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(date) })
	if i < len(bars) && bars[i].Date.Equal(date) {
		return bars[i].Close, true
	}
	return decimal.Zero, false
}

// Closes returns the closing price of every ticker on date. Tickers without a
// bar that day are reported in missing.
func (h *HistoryBook) Closes(tickers []string, date time.Time) (prices map[string]decimal.Decimal, missing []string) {
	prices = make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		if p, ok := h.Close(t, date); ok {
			prices[t] = p
		} else {
			missing = append(missing, t)
		}
	}
	return prices, missing
}

// TradingDays returns the dates in [start, end] on which any loaded ticker
// has a bar. Without any bars it falls back to weekdays.
func (h *HistoryBook) TradingDays(start, end time.Time) []time.Time {
	start, end = models.Day(start), models.Day(end)

	h.mu.RLock()
	seen := make(map[time.Time]struct{})
	for _, bars := range h.bars {
		for _, bar := range bars {
			if !bar.Date.Before(start) && !bar.Date.After(end) {
				seen[bar.Date] = struct{}{}
			}
		}
	}
	h.mu.RUnlock()

	if len(seen) == 0 {
		return BusinessDays(start, end)
	}
	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// BusinessDays lists Monday to Friday dates in [start, end].
func BusinessDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := models.Day(start); !d.After(models.Day(end)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}
