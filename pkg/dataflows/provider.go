package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/CortexFund/models"
)

const (
	PriceSourceYahoo    = "yahoo"
	PriceSourceLongport = "longport"
	PriceSourceOffline  = "offline"
)

// Provider combines one price source with optional metrics, news and insider
// sources. Failures of the optional sources are logged and degrade to empty
// data; price failures are returned.
type Provider struct {
	prices   PriceSource
	metrics  []MetricsSource
	news     []NewsSource
	insiders []InsiderSource
	logger   zerolog.Logger
}

var _ MarketData = (*Provider)(nil)

// NewProvider builds the sources named by cfg. The offline store is always
// consulted first for metrics, news and insider trades.
func NewProvider(cfg *Config, logger zerolog.Logger) (*Provider, error) {
	offline := NewOfflineStore(cfg.DataDir)
	p := &Provider{
		metrics:  []MetricsSource{offline},
		news:     []NewsSource{offline},
		insiders: []InsiderSource{offline},
		logger:   logger,
	}

	switch cfg.PriceSource {
	case PriceSourceOffline:
		p.prices = offline
	case PriceSourceLongport:
		lp, err := NewLongportClient(cfg)
		if err != nil {
			return nil, err
		}
		p.prices = lp
	case PriceSourceYahoo, "":
		p.prices = NewYahooFinanceClient(cfg)
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.PriceSource)
	}

	if cfg.OnlineTools {
		if cfg.FinnhubAPIKey != "" {
			fh := NewFinnhubClient(cfg)
			p.metrics = append(p.metrics, fh)
			p.news = append(p.news, fh)
			p.insiders = append(p.insiders, fh)
		}
		p.metrics = append(p.metrics, NewYahooFinanceClient(cfg))
		p.news = append(p.news, NewNewsScraperClient(cfg))
	}
	return p, nil
}

// NewProviderFrom assembles a provider from explicit sources.
func NewProviderFrom(prices PriceSource, logger zerolog.Logger) *Provider {
	return &Provider{prices: prices, logger: logger}
}

func (p *Provider) WithMetrics(src ...MetricsSource) *Provider {
	p.metrics = append(p.metrics, src...)
	return p
}

func (p *Provider) WithNews(src ...NewsSource) *Provider {
	p.news = append(p.news, src...)
	return p
}

func (p *Provider) WithInsiders(src ...InsiderSource) *Provider {
	p.insiders = append(p.insiders, src...)
	return p
}

func (p *Provider) Prices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	if p.prices == nil {
		return nil, errors.New("no price source configured")
	}
	return p.prices.Prices(ctx, ticker, start, end)
}

// Metrics returns the first non-empty answer of the configured sources.
func (p *Provider) Metrics(ctx context.Context, ticker string, asOf time.Time) (*models.FinancialMetrics, error) {
	for _, src := range p.metrics {
		m, err := src.Metrics(ctx, ticker, asOf)
		if err != nil {
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("metrics source failed")
			continue
		}
		if m != nil {
			return m, nil
		}
	}
	return nil, nil
}

func (p *Provider) News(ctx context.Context, ticker string, start, end time.Time) ([]models.NewsItem, error) {
	for _, src := range p.news {
		items, err := src.News(ctx, ticker, start, end)
		if err != nil {
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("news source failed")
			continue
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	return nil, nil
}

func (p *Provider) InsiderTrades(ctx context.Context, ticker string, start, end time.Time) ([]models.InsiderTrade, error) {
	for _, src := range p.insiders {
		trades, err := src.InsiderTrades(ctx, ticker, start, end)
		if err != nil {
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("insider source failed")
			continue
		}
		if len(trades) > 0 {
			return trades, nil
		}
	}
	return nil, nil
}
