package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"

	"github.com/dyike/CortexFund/models"
)

// YahooFinanceClient serves daily bars and headline valuation ratios from
// Yahoo Finance.
type YahooFinanceClient struct {
	cache *responseCache
	guard *Guard
}

func NewYahooFinanceClient(config *Config) *YahooFinanceClient {
	return &YahooFinanceClient{
		cache: newResponseCache(config.DataCacheDir, 24*time.Hour, config.CacheEnabled),
		guard: NewGuard("yahoo", 2, 4),
	}
}

func (yf *YahooFinanceClient) Prices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	ticker = NormalizeSymbol(ticker)
	start, end = models.Day(start), models.Day(end)

	key := cacheKey{Source: "yahoo", Kind: "prices", Ticker: ticker, From: start, To: end}
	var cached []models.PriceBar
	if yf.cache.load(key, &cached) {
		return cached, nil
	}

	// chart treats End as exclusive
	until := end.AddDate(0, 0, 1)
	var result []models.PriceBar
	err := yf.guard.Do(ctx, func() error {
		iter := chart.Get(&chart.Params{
			Symbol:   ticker,
			Start:    datetime.New(&start),
			End:      datetime.New(&until),
			Interval: datetime.OneDay,
		})

		result = result[:0]
		for iter.Next() {
			bar := iter.Bar()
			day := models.Day(time.Unix(int64(bar.Timestamp), 0).UTC())
			if day.Before(start) || day.After(end) {
				continue
			}
			result = append(result, models.PriceBar{
				Ticker: ticker,
				Date:   day,
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get historical data for %s: %w", ticker, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = yf.cache.store(key, result)
	return result, nil
}

// Metrics returns the current quote ratios. Yahoo has no point-in-time
// history, so asOf only scopes the cache entry.
func (yf *YahooFinanceClient) Metrics(ctx context.Context, ticker string, asOf time.Time) (*models.FinancialMetrics, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	ticker = NormalizeSymbol(ticker)
	key := cacheKey{Source: "yahoo", Kind: "metrics", Ticker: ticker, To: models.Day(asOf)}

	var cached models.FinancialMetrics
	if yf.cache.load(key, &cached) {
		return &cached, nil
	}

	var result *models.FinancialMetrics
	err := yf.guard.Do(ctx, func() error {
		q, err := equity.Get(ticker)
		if err != nil {
			return fmt.Errorf("failed to get quote for %s: %w", ticker, err)
		}
		if q == nil {
			return permanent(fmt.Errorf("no quote for %s", ticker))
		}
		result = &models.FinancialMetrics{
			Ticker:            ticker,
			ReportPeriod:      asOf.Format(models.DateLayout),
			MarketCap:         float64(q.MarketCap),
			PriceToEarnings:   q.TrailingPE,
			PriceToBook:       q.PriceToBook,
			EarningsPerShare:  q.EpsTrailingTwelveMonths,
			BookValuePerShare: q.BookValue,
		}
		if q.EpsTrailingTwelveMonths > 0 && q.EpsForward > 0 {
			result.EarningsGrowth = q.EpsForward/q.EpsTrailingTwelveMonths - 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = yf.cache.store(key, result)
	return result, nil
}
