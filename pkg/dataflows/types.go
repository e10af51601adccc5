package dataflows

import (
	"context"
	"time"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/models"
)

// Config is an alias for the main application config
type Config = config.Config

// PriceSource serves daily bars in ascending date order, inclusive of both ends.
type PriceSource interface {
	Prices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error)
}

// MetricsSource serves the latest financial metrics known on asOf.
type MetricsSource interface {
	Metrics(ctx context.Context, ticker string, asOf time.Time) (*models.FinancialMetrics, error)
}

type NewsSource interface {
	News(ctx context.Context, ticker string, start, end time.Time) ([]models.NewsItem, error)
}

type InsiderSource interface {
	InsiderTrades(ctx context.Context, ticker string, start, end time.Time) ([]models.InsiderTrade, error)
}

// MarketData is everything a decision cycle reads about one ticker.
type MarketData interface {
	PriceSource
	MetricsSource
	NewsSource
	InsiderSource
}
