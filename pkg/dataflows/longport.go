package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// maxCandlesticks is the largest count the quote API serves in one call.
const maxCandlesticks = 1000

type LongportClient struct {
	quoteCtx *quote.QuoteContext
	guard    *Guard
}

func NewLongportClient(cfg *Config) (*LongportClient, error) {
	if cfg.LongportAppKey == "" || cfg.LongportAppSecret == "" || cfg.LongportAccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	return &LongportClient{
		quoteCtx: quoteContext,
		guard:    NewGuard("longport", 10, 10),
	}, nil
}

// Prices fetches the most recent daily candlesticks and keeps those within
// [start, end]. Symbols use the Longport form, e.g. AAPL.US or 700.HK.
func (lpc *LongportClient) Prices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	if lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	start, end = models.Day(start), models.Day(end)

	count := int(time.Since(start).Hours()/24) + 1
	if count > maxCandlesticks {
		count = maxCandlesticks
	}

	var sticks []*quote.Candlestick
	err := lpc.guard.Do(ctx, func() error {
		var err error
		sticks, err = lpc.quoteCtx.Candlesticks(ctx, ticker, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
		if err != nil {
			return fmt.Errorf("candlesticks for %s: %w", ticker, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(sticks))
	for _, s := range sticks {
		if s == nil {
			continue
		}
		day := models.Day(time.Unix(s.Timestamp, 0).UTC())
		if day.Before(start) || day.After(end) {
			continue
		}
		bars = append(bars, models.PriceBar{
			Ticker: ticker,
			Date:   day,
			Open:   deref(s.Open),
			High:   deref(s.High),
			Low:    deref(s.Low),
			Close:  deref(s.Close),
			Volume: s.Volume,
		})
	}
	return bars, nil
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
