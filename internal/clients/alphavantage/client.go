// Package alphavantage implements an Alpha Vantage market-data client used
// as one member of the Provider Chain (spec.md §4.B). It fetches daily OHLCV
// series and company profile fields (sector/industry/country), which the
// orchestrator stores in company_profiles.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const baseURL = "https://www.alphavantage.co/query"

// CacheTTL configures how long different response kinds are cached.
type CacheTTL struct {
	Fundamentals        time.Duration
	TechnicalIndicators time.Duration
	Default             time.Duration
}

// DefaultCacheTTL returns the client's default cache lifetimes.
func DefaultCacheTTL() CacheTTL {
	return CacheTTL{
		Fundamentals:        24 * time.Hour,
		TechnicalIndicators: 1 * time.Hour,
		Default:             15 * time.Minute,
	}
}

// ErrRateLimitExceeded is returned when the daily request budget is spent.
type ErrRateLimitExceeded struct {
	Limit int
}

func (e ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("alphavantage: daily rate limit of %d requests exceeded", e.Limit)
}

// ErrAPIError wraps an error message returned in an Alpha Vantage response body.
type ErrAPIError struct {
	Message string
}

func (e ErrAPIError) Error() string {
	return fmt.Sprintf("alphavantage: %s", e.Message)
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// Client is an Alpha Vantage API client with a daily request budget and an
// in-memory response cache.
type Client struct {
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	mu              sync.Mutex
	remaining       int
	dailyLimit      int
	counterResetsAt time.Time

	cacheMu  sync.Mutex
	cache    map[string]cacheEntry
	cacheTTL CacheTTL
}

// NewClient creates a new Alpha Vantage client. The free tier's default
// daily budget is 25 requests.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		log:             log.With().Str("component", "alphavantage").Logger(),
		remaining:       25,
		dailyLimit:      25,
		counterResetsAt: nextMidnightUTC(time.Now()),
		cache:           make(map[string]cacheEntry),
		cacheTTL:        DefaultCacheTTL(),
	}
}

// SetCacheTTL overrides the default cache lifetimes.
func (c *Client) SetCacheTTL(ttl CacheTTL) {
	c.cacheTTL = ttl
}

// GetRemainingRequests returns the number of requests left in today's budget.
func (c *Client) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeResetLocked()
	return c.remaining
}

// ResetDailyCounter resets the daily request budget immediately.
func (c *Client) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = c.dailyLimit
	c.counterResetsAt = nextMidnightUTC(time.Now())
}

func (c *Client) maybeResetLocked() {
	if time.Now().After(c.counterResetsAt) {
		c.remaining = c.dailyLimit
		c.counterResetsAt = nextMidnightUTC(time.Now())
	}
}

func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeResetLocked()
	if c.remaining <= 0 {
		return ErrRateLimitExceeded{Limit: c.dailyLimit}
	}
	c.remaining--
	return nil
}

func (c *Client) setCache(key string, value interface{}, ttl time.Duration) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *Client) getFromCache(key string) (interface{}, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// ClearCache empties the response cache.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

func buildCacheKey(function string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "apikey" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(function)
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}
	return sb.String()
}

func (c *Client) checkAPIError(body []byte) error {
	var probe struct {
		ErrorMessage string `json:"Error Message"`
		Note         string `json:"Note"`
		Information  string `json:"Information"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	if probe.ErrorMessage != "" {
		return ErrAPIError{Message: probe.ErrorMessage}
	}
	if probe.Note != "" {
		return ErrAPIError{Message: probe.Note}
	}
	if probe.Information != "" {
		return ErrAPIError{Message: probe.Information}
	}
	return nil
}

func (c *Client) get(ctx context.Context, function string, params map[string]string) ([]byte, error) {
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("function", function)
	q.Set("apikey", c.apiKey)
	for k, v := range params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if err := c.checkAPIError(body); err != nil {
		return nil, err
	}

	return body, nil
}

// DailyPrice is one OHLCV observation, newest-first when parsed from a series.
type DailyPrice struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// CompanyOverview is the subset of Alpha Vantage's OVERVIEW endpoint the
// orchestrator stores as a company_profiles row.
type CompanyOverview struct {
	Symbol   string
	Name     string
	Exchange string
	Currency string
	Country  string
	Sector   string
	Industry string
}

// FetchDailySeries fetches the full daily OHLCV history for symbol, newest
// first, using the client's cache and rate limiter.
func (c *Client) FetchDailySeries(ctx context.Context, symbol string) ([]DailyPrice, error) {
	params := map[string]string{"symbol": symbol, "outputsize": "full"}
	key := buildCacheKey("TIME_SERIES_DAILY", params)
	if cached, ok := c.getFromCache(key); ok {
		return cached.([]DailyPrice), nil
	}

	body, err := c.get(ctx, "TIME_SERIES_DAILY", params)
	if err != nil {
		return nil, err
	}

	prices, err := parseDailyTimeSeries(body)
	if err != nil {
		return nil, err
	}

	c.setCache(key, prices, c.cacheTTL.Default)
	return prices, nil
}

// FetchCompanyOverview fetches sector/industry/country metadata for symbol.
func (c *Client) FetchCompanyOverview(ctx context.Context, symbol string) (*CompanyOverview, error) {
	params := map[string]string{"symbol": symbol}
	key := buildCacheKey("OVERVIEW", params)
	if cached, ok := c.getFromCache(key); ok {
		ov := cached.(CompanyOverview)
		return &ov, nil
	}

	body, err := c.get(ctx, "OVERVIEW", params)
	if err != nil {
		return nil, err
	}

	overview, err := parseCompanyOverview(body)
	if err != nil {
		return nil, err
	}

	c.setCache(key, *overview, c.cacheTTL.Fundamentals)
	return overview, nil
}

func parseFloat64(s string) float64 {
	v := parseFloat64Ptr(s)
	if v == nil {
		return 0
	}
	return *v
}

func parseFloat64Ptr(s string) *float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "null", "-":
		return nil
	}
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "null":
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDateTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

func parseDailyTimeSeries(body []byte) ([]DailyPrice, error) {
	var raw struct {
		Series map[string]struct {
			Open   string `json:"1. open"`
			High   string `json:"2. high"`
			Low    string `json:"3. low"`
			Close  string `json:"4. close"`
			Volume string `json:"5. volume"`
		} `json:"Time Series (Daily)"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse daily time series: %w", err)
	}

	prices := make([]DailyPrice, 0, len(raw.Series))
	for dateStr, row := range raw.Series {
		prices = append(prices, DailyPrice{
			Date:   parseDate(dateStr),
			Open:   parseFloat64(row.Open),
			High:   parseFloat64(row.High),
			Low:    parseFloat64(row.Low),
			Close:  parseFloat64(row.Close),
			Volume: parseInt64(row.Volume),
		})
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].Date.After(prices[j].Date) })
	return prices, nil
}

func parseCompanyOverview(body []byte) (*CompanyOverview, error) {
	var raw struct {
		Symbol   string `json:"Symbol"`
		Name     string `json:"Name"`
		Exchange string `json:"Exchange"`
		Currency string `json:"Currency"`
		Country  string `json:"Country"`
		Sector   string `json:"Sector"`
		Industry string `json:"Industry"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse company overview: %w", err)
	}

	return &CompanyOverview{
		Symbol:   raw.Symbol,
		Name:     raw.Name,
		Exchange: raw.Exchange,
		Currency: raw.Currency,
		Country:  raw.Country,
		Sector:   raw.Sector,
		Industry: raw.Industry,
	}, nil
}

func nextMidnightUTC(from time.Time) time.Time {
	u := from.UTC()
	y, m, d := u.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
