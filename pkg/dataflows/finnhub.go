package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/CortexFund/models"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubClient serves metrics, company news and insider transactions.
type FinnhubClient struct {
	client *resty.Client
	cache  *responseCache
	guard  *Guard
	apiKey string
}

func NewFinnhubClient(config *Config) *FinnhubClient {
	client := resty.New()
	client.SetBaseURL(finnhubBaseURL)
	client.SetTimeout(30 * time.Second)

	return &FinnhubClient{
		client: client,
		cache:  newResponseCache(config.DataCacheDir, 6*time.Hour, config.CacheEnabled),
		guard:  NewGuard("finnhub", 1, 5),
		apiKey: config.FinnhubAPIKey,
	}
}

// SetBaseURL points the client at another host.
func (fc *FinnhubClient) SetBaseURL(url string) *FinnhubClient {
	fc.client.SetBaseURL(url)
	return fc
}

func (fc *FinnhubClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if fc.apiKey == "" {
		return errors.New("Finnhub API key not configured")
	}
	return fc.guard.Do(ctx, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetQueryParam("token", fc.apiKey).
			Get(path)
		if err != nil {
			return fmt.Errorf("finnhub %s: %w", path, err)
		}
		switch {
		case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
			return fmt.Errorf("finnhub %s: API error %d", path, resp.StatusCode())
		case resp.StatusCode() != http.StatusOK:
			return permanent(fmt.Errorf("finnhub %s: API error %d: %s", path, resp.StatusCode(), resp.String()))
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return permanent(fmt.Errorf("finnhub %s: parse response: %w", path, err))
		}
		return nil
	})
}

// finnhubMetrics holds the subset of /stock/metric used here. Margins,
// returns and growth are reported in percent; market cap in millions.
type finnhubMetrics struct {
	Metric struct {
		MarketCap       float64 `json:"marketCapitalization"`
		PE              float64 `json:"peTTM"`
		PB              float64 `json:"pbQuarterly"`
		PS              float64 `json:"psTTM"`
		GrossMargin     float64 `json:"grossMarginTTM"`
		OperatingMargin float64 `json:"operatingMarginTTM"`
		NetMargin       float64 `json:"netProfitMarginTTM"`
		ROE             float64 `json:"roeTTM"`
		ROA             float64 `json:"roaTTM"`
		RevenueGrowth   float64 `json:"revenueGrowthTTMYoy"`
		EPSGrowth       float64 `json:"epsGrowthTTMYoy"`
		DebtToEquity    float64 `json:"totalDebt/totalEquityQuarterly"`
		CurrentRatio    float64 `json:"currentRatioQuarterly"`
		EPS             float64 `json:"epsTTM"`
		BookValue       float64 `json:"bookValuePerShareQuarterly"`
		FCFPerShare     float64 `json:"cashFlowPerShareTTM"`
	} `json:"metric"`
}

// Metrics returns the current TTM ratios. Finnhub's free tier has no
// point-in-time history; asOf only scopes the cache entry.
func (fc *FinnhubClient) Metrics(ctx context.Context, ticker string, asOf time.Time) (*models.FinancialMetrics, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	ticker = NormalizeSymbol(ticker)
	key := cacheKey{Source: "finnhub", Kind: "metrics", Ticker: ticker, To: models.Day(asOf)}

	var cached models.FinancialMetrics
	if fc.cache.load(key, &cached) {
		return &cached, nil
	}

	var raw finnhubMetrics
	if err := fc.get(ctx, "/stock/metric", map[string]string{"symbol": ticker, "metric": "all"}, &raw); err != nil {
		return nil, err
	}
	m := raw.Metric
	result := &models.FinancialMetrics{
		Ticker:            ticker,
		ReportPeriod:      asOf.Format(models.DateLayout),
		MarketCap:         m.MarketCap * 1e6,
		PriceToEarnings:   m.PE,
		PriceToBook:       m.PB,
		PriceToSales:      m.PS,
		GrossMargin:       m.GrossMargin / 100,
		OperatingMargin:   m.OperatingMargin / 100,
		NetMargin:         m.NetMargin / 100,
		ReturnOnEquity:    m.ROE / 100,
		ReturnOnAssets:    m.ROA / 100,
		RevenueGrowth:     m.RevenueGrowth / 100,
		EarningsGrowth:    m.EPSGrowth / 100,
		DebtToEquity:      m.DebtToEquity,
		CurrentRatio:      m.CurrentRatio,
		EarningsPerShare:  m.EPS,
		BookValuePerShare: m.BookValue,
	}
	if m.PE > 0 && m.EPSGrowth > 0 {
		result.PEG = m.PE / m.EPSGrowth
	}
	if m.PE > 0 && m.EPS > 0 && m.FCFPerShare != 0 {
		result.FreeCashFlowYield = m.FCFPerShare / (m.PE * m.EPS)
	}

	_ = fc.cache.store(key, result)
	return result, nil
}

// FinnhubNews represents news from Finnhub API
type FinnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

func (fc *FinnhubClient) News(ctx context.Context, ticker string, start, end time.Time) ([]models.NewsItem, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	ticker = NormalizeSymbol(ticker)
	params := map[string]string{
		"symbol": ticker,
		"from":   start.Format(models.DateLayout),
		"to":     end.Format(models.DateLayout),
	}

	var cached []models.NewsItem
	key := cacheKey{Source: "finnhub", Kind: "news", Ticker: ticker, From: start, To: end}
	if fc.cache.load(key, &cached) {
		return cached, nil
	}

	var raw []FinnhubNews
	if err := fc.get(ctx, "/company-news", params, &raw); err != nil {
		return nil, err
	}
	result := make([]models.NewsItem, 0, len(raw))
	for _, n := range raw {
		result = append(result, models.NewsItem{
			Ticker: ticker,
			Title:  n.Headline,
			Source: n.Source,
			URL:    n.URL,
			Date:   time.Unix(n.DateTime, 0).UTC(),
		})
	}

	_ = fc.cache.store(key, result)
	return result, nil
}

// FinnhubInsiderTransaction represents insider transaction data
type FinnhubInsiderTransaction struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Share            int64   `json:"share"`
	Change           int64   `json:"change"`
	FilingDate       string  `json:"filingDate"`
	TransactionDate  string  `json:"transactionDate"`
	TransactionCode  string  `json:"transactionCode"`
	TransactionPrice float64 `json:"transactionPrice"`
}

func (fc *FinnhubClient) InsiderTrades(ctx context.Context, ticker string, start, end time.Time) ([]models.InsiderTrade, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	ticker = NormalizeSymbol(ticker)
	params := map[string]string{
		"symbol": ticker,
		"from":   start.Format(models.DateLayout),
		"to":     end.Format(models.DateLayout),
	}

	var cached []models.InsiderTrade
	key := cacheKey{Source: "finnhub", Kind: "insiders", Ticker: ticker, From: start, To: end}
	if fc.cache.load(key, &cached) {
		return cached, nil
	}

	var raw struct {
		Data []FinnhubInsiderTransaction `json:"data"`
	}
	if err := fc.get(ctx, "/stock/insider-transactions", params, &raw); err != nil {
		return nil, err
	}
	result := make([]models.InsiderTrade, 0, len(raw.Data))
	for _, tx := range raw.Data {
		day, err := models.ParseDate(tx.TransactionDate)
		if err != nil {
			continue
		}
		result = append(result, models.InsiderTrade{
			Ticker:          ticker,
			Name:            tx.Name,
			TransactionDate: day,
			Shares:          tx.Change,
			Price:           tx.TransactionPrice,
		})
	}

	_ = fc.cache.store(key, result)
	return result, nil
}
