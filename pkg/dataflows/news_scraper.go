package dataflows

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/dyike/CortexFund/models"
)

const googleNewsRSSURL = "https://news.google.com/rss/search"

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
	Source      string `xml:"source"`
}

// NewsScraperClient reads company headlines from the Google News RSS feed.
type NewsScraperClient struct {
	client     *resty.Client
	cache      *responseCache
	guard      *Guard
	baseURL    string
	maxResults int
}

func NewNewsScraperClient(config *Config) *NewsScraperClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; CortexFund/1.0)")

	return &NewsScraperClient{
		client:     client,
		cache:      newResponseCache(config.DataCacheDir, 2*time.Hour, config.CacheEnabled),
		guard:      NewGuard("google_news", 1, 2),
		baseURL:    googleNewsRSSURL,
		maxResults: 20,
	}
}

// SetBaseURL points the scraper at another feed endpoint.
func (ns *NewsScraperClient) SetBaseURL(u string) *NewsScraperClient {
	ns.baseURL = u
	return ns
}

func (ns *NewsScraperClient) buildURL(ticker string, start, end time.Time) string {
	query := fmt.Sprintf("%s stock after:%s before:%s",
		ticker, start.Format(models.DateLayout), end.AddDate(0, 0, 1).Format(models.DateLayout))
	return fmt.Sprintf("%s?q=%s&hl=en-US&gl=US&ceid=US:en", ns.baseURL, url.QueryEscape(query))
}

func (ns *NewsScraperClient) News(ctx context.Context, ticker string, start, end time.Time) ([]models.NewsItem, error) {
	if err := ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	ticker = NormalizeSymbol(ticker)
	start, end = models.Day(start), models.Day(end)
	key := cacheKey{Source: "google_news", Kind: "news", Ticker: ticker, From: start, To: end}

	var cached []models.NewsItem
	if ns.cache.load(key, &cached) {
		return cached, nil
	}

	var feed rssFeed
	err := ns.guard.Do(ctx, func() error {
		resp, err := ns.client.R().SetContext(ctx).Get(ns.buildURL(ticker, start, end))
		if err != nil {
			return fmt.Errorf("failed to fetch RSS feed: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("HTTP error %d when fetching RSS feed", resp.StatusCode())
		}
		if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
			return permanent(fmt.Errorf("failed to parse RSS XML: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.NewsItem, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		published, err := time.Parse(time.RFC1123, item.PubDate)
		if err != nil {
			continue
		}
		day := models.Day(published.UTC())
		if day.Before(start) || day.After(end) {
			continue
		}
		result = append(result, models.NewsItem{
			Ticker: ticker,
			Title:  cleanTitle(item.Title, item.Source, item.Description),
			Source: item.Source,
			URL:    item.Link,
			Date:   day,
		})
		if len(result) >= ns.maxResults {
			break
		}
	}

	_ = ns.cache.store(key, result)
	return result, nil
}

// cleanTitle drops the " - Source" suffix Google appends to titles and falls
// back to the text of the HTML description.
func cleanTitle(title, source, description string) string {
	title = strings.TrimSpace(title)
	if source != "" {
		title = strings.TrimSpace(strings.TrimSuffix(title, " - "+source))
	}
	if title != "" || description == "" {
		return title
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(description))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("a").First().Text())
}
