package alphavantage

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	assert.NotNil(t, client)
	assert.Equal(t, "test-key", client.apiKey)
	assert.Equal(t, 25, client.GetRemainingRequests())
}

func TestRateLimiting(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	for i := 0; i < 25; i++ {
		remaining := client.GetRemainingRequests()
		assert.Equal(t, 25-i, remaining)
		err := client.checkRateLimit()
		require.NoError(t, err)
	}

	err := client.checkRateLimit()
	assert.Error(t, err)
	assert.IsType(t, ErrRateLimitExceeded{}, err)
}

func TestResetDailyCounter(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	for i := 0; i < 10; i++ {
		_ = client.checkRateLimit()
	}
	assert.Equal(t, 15, client.GetRemainingRequests())

	client.ResetDailyCounter()
	assert.Equal(t, 25, client.GetRemainingRequests())
}

func TestCaching(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	client.setCache("test-key", "test data", time.Hour)

	cached, ok := client.getFromCache("test-key")
	assert.True(t, ok)
	assert.Equal(t, "test data", cached)

	_, ok = client.getFromCache("non-existent")
	assert.False(t, ok)
}

func TestCacheExpiration(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	client.setCache("test-key", "test data", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := client.getFromCache("test-key")
	assert.False(t, ok)
}

func TestClearCache(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	client.setCache("key1", "data1", time.Hour)
	client.setCache("key2", "data2", time.Hour)

	client.ClearCache()

	_, ok1 := client.getFromCache("key1")
	_, ok2 := client.getFromCache("key2")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestBuildCacheKey(t *testing.T) {
	tests := []struct {
		name     string
		function string
		params   map[string]string
	}{
		{
			name:     "Simple function",
			function: "OVERVIEW",
			params:   map[string]string{"symbol": "IBM"},
		},
		{
			name:     "Multiple params",
			function: "TIME_SERIES_DAILY",
			params: map[string]string{
				"symbol":     "AAPL",
				"outputsize": "full",
			},
		},
		{
			name:     "With apikey excluded",
			function: "OVERVIEW",
			params: map[string]string{
				"symbol": "MSFT",
				"apikey": "secret",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := buildCacheKey(tt.function, tt.params)
			assert.Contains(t, key, tt.function)
			assert.NotContains(t, key, "apikey=")
		})
	}
}

func TestParseFloat64(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"123.45", 123.45},
		{"0", 0},
		{"None", 0},
		{"", 0},
		{"null", 0},
		{"-", 0},
		{"50.5%", 50.5},
		{"invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseFloat64(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseFloat64Ptr(t *testing.T) {
	tests := []struct {
		input    string
		isNil    bool
		expected float64
	}{
		{"123.45", false, 123.45},
		{"None", true, 0},
		{"", true, 0},
		{"null", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseFloat64Ptr(tt.input)
			if tt.isNil {
				assert.Nil(t, result)
			} else {
				require.NotNil(t, result)
				assert.Equal(t, tt.expected, *result)
			}
		})
	}
}

func TestParseInt64(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"12345", 12345},
		{"0", 0},
		{"None", 0},
		{"", 0},
		{"1.5E10", 15000000000},
		{"123.45", 123},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseInt64(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		year  int
		month time.Month
		day   int
	}{
		{"2024-01-15", 2024, time.January, 15},
		{"2023-12-31", 2023, time.December, 31},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseDate(tt.input)
			assert.Equal(t, tt.year, result.Year())
			assert.Equal(t, tt.month, result.Month())
			assert.Equal(t, tt.day, result.Day())
		})
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"2024-01-15 14:30:00", true},
		{"2024-01-15", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseDateTime(tt.input)
			if tt.expected {
				assert.False(t, result.IsZero())
			} else {
				assert.True(t, result.IsZero())
			}
		})
	}
}

func TestParseDailyTimeSeries(t *testing.T) {
	jsonData := `{
		"Meta Data": {
			"1. Information": "Daily Prices",
			"2. Symbol": "IBM"
		},
		"Time Series (Daily)": {
			"2024-01-15": {
				"1. open": "185.00",
				"2. high": "186.50",
				"3. low": "184.50",
				"4. close": "186.20",
				"5. volume": "3456789"
			},
			"2024-01-14": {
				"1. open": "184.50",
				"2. high": "185.50",
				"3. low": "184.00",
				"4. close": "185.00",
				"5. volume": "3214567"
			}
		}
	}`

	prices, err := parseDailyTimeSeries([]byte(jsonData))
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, 2024, prices[0].Date.Year())
	assert.Equal(t, time.January, prices[0].Date.Month())
	assert.Equal(t, 15, prices[0].Date.Day())
	assert.Equal(t, 185.0, prices[0].Open)
	assert.Equal(t, 186.5, prices[0].High)
	assert.Equal(t, 184.5, prices[0].Low)
	assert.Equal(t, 186.2, prices[0].Close)
	assert.Equal(t, int64(3456789), prices[0].Volume)
}

func TestParseCompanyOverview(t *testing.T) {
	jsonData := `{
		"Symbol": "IBM",
		"Name": "International Business Machines",
		"Exchange": "NYSE",
		"Currency": "USD",
		"Country": "USA",
		"Sector": "Technology",
		"Industry": "Information Technology Services"
	}`

	overview, err := parseCompanyOverview([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, "IBM", overview.Symbol)
	assert.Equal(t, "Technology", overview.Sector)
	assert.Equal(t, "Information Technology Services", overview.Industry)
	assert.Equal(t, "USA", overview.Country)
}

func TestAPIErrorDetection(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"clean response", `{"Symbol": "IBM"}`, false},
		{"error message", `{"Error Message": "Invalid API call"}`, true},
		{"rate limit note", `{"Note": "Thank you for using Alpha Vantage"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.checkAPIError([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetCacheTTL(t *testing.T) {
	client := NewClient("test-key", zerolog.Nop())
	customTTL := CacheTTL{Fundamentals: 48 * time.Hour, TechnicalIndicators: 2 * time.Hour}
	client.SetCacheTTL(customTTL)

	assert.Equal(t, 48*time.Hour, client.cacheTTL.Fundamentals)
	assert.Equal(t, 2*time.Hour, client.cacheTTL.TechnicalIndicators)
}

func TestDefaultCacheTTL(t *testing.T) {
	ttl := DefaultCacheTTL()
	assert.Equal(t, 24*time.Hour, ttl.Fundamentals)
	assert.Equal(t, 1*time.Hour, ttl.TechnicalIndicators)
}

func TestNextMidnightUTC(t *testing.T) {
	from := time.Date(2024, time.January, 15, 14, 30, 0, 0, time.UTC)
	next := nextMidnightUTC(from)
	assert.Equal(t, 2024, next.Year())
	assert.Equal(t, time.January, next.Month())
	assert.Equal(t, 16, next.Day())
	assert.Equal(t, 0, next.Hour())
}
