package dataflows

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/CortexFund/models"
)

const (
	NewsWindowDays    = 7
	InsiderWindowDays = 90
)

// BuildContext assembles what producers see for ticker on date. Prices come
// from book; optional data that cannot be fetched is left empty.
func BuildContext(ctx context.Context, data MarketData, book *HistoryBook, ticker string, date time.Time, lookbackDays int, logger zerolog.Logger) *models.MarketContext {
	date = models.Day(date)
	mc := &models.MarketContext{
		Ticker: ticker,
		Date:   date,
		Prices: book.Window(ticker, date, lookbackDays),
	}
	log := logger.With().Str("ticker", ticker).Str("date", date.Format(models.DateLayout)).Logger()

	var err error
	if mc.Metrics, err = data.Metrics(ctx, ticker, date); err != nil {
		log.Debug().Err(err).Msg("metrics unavailable")
	}
	if mc.News, err = data.News(ctx, ticker, date.AddDate(0, 0, -NewsWindowDays), date); err != nil {
		log.Debug().Err(err).Msg("news unavailable")
	}
	if mc.InsiderTrades, err = data.InsiderTrades(ctx, ticker, date.AddDate(0, 0, -InsiderWindowDays), date); err != nil {
		log.Debug().Err(err).Msg("insider trades unavailable")
	}
	return mc
}
