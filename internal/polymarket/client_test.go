package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock advances instantly on Sleep and records every requested delay.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	return nil
}

func (f *fakeClock) totalSlept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, d := range f.slept {
		total += d
	}
	return total
}

func newTestClient(url string, clock Clock, minInterval time.Duration) *Client {
	return NewClient(url, url, 5*time.Second, ClientConfig{
		MinRequestInterval: minInterval,
		MaxRetries:         3,
		RetryDelayBase:     time.Second,
		Clock:              clock,
	})
}

func TestGetJSON_EnforcesMinimumInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	clock := newFakeClock()
	client := newTestClient(server.URL, clock, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		var out []any
		if err := client.GetJSON(context.Background(), server.URL, "/markets", nil, &out); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
	}

	// First request is free, the next two each wait one interval
	if got := clock.totalSlept(); got != 200*time.Millisecond {
		t.Errorf("Expected 200ms of limiter delay, got %v", got)
	}
}

func TestGetJSON_RetriesServerErrorsThenGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	clock := newFakeClock()
	client := newTestClient(server.URL, clock, 0)

	var out []any
	err := client.GetJSON(context.Background(), server.URL, "/trades", nil, &out)
	if !IsTransient(err) {
		t.Fatalf("Expected TransientError, got %v", err)
	}

	var te *TransientError
	if errors.As(err, &te) && te.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", te.StatusCode)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	// Linear backoff: 1s after the first failure, 2s after the second
	if got := clock.totalSlept(); got != 3*time.Second {
		t.Errorf("Expected 3s of retry delay, got %v", got)
	}
}

func TestGetJSON_HonoursRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer server.Close()

	clock := newFakeClock()
	client := newTestClient(server.URL, clock, 0)

	var out []map[string]string
	if err := client.GetJSON(context.Background(), server.URL, "/markets", nil, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if len(out) != 1 || out[0]["id"] != "1" {
		t.Errorf("Unexpected body: %v", out)
	}
	if got := clock.totalSlept(); got != 5*time.Second {
		t.Errorf("Expected Retry-After delay of 5s, got %v", got)
	}
}

func TestGetJSON_FatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"not": "an array"`))
			},
		},
		{
			name: "schema mismatch",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error": "object instead of list"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.handler(w, r)
			}))
			defer server.Close()

			client := newTestClient(server.URL, newFakeClock(), 0)
			var out []any
			err := client.GetJSON(context.Background(), server.URL, "/markets", nil, &out)
			if !IsFatal(err) {
				t.Fatalf("Expected FatalError, got %v", err)
			}
			if IsTransient(err) {
				t.Error("Fatal error must not be classified as transient")
			}
			if calls != 1 {
				t.Errorf("Expected a single attempt for fatal error, got %d", calls)
			}
		})
	}
}

func TestGetJSON_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock(), 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out []any
	err := client.GetJSON(ctx, server.URL, "/markets", nil, &out)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"garbage", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.value, now); got != tt.expected {
			t.Errorf("parseRetryAfter(%q) = %v, expected %v", tt.value, got, tt.expected)
		}
	}
}

func TestFetchMarketsPage_QueryParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("Expected path /markets, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		expected := map[string]string{
			"closed":       "true",
			"limit":        "100",
			"offset":       "200",
			"order":        "volume",
			"ascending":    "false",
			"tag":          "crypto",
			"end_date_min": "2025-01-01",
			"end_date_max": "2025-01-08",
		}
		for k, v := range expected {
			if q.Get(k) != v {
				t.Errorf("Expected %s=%s, got %s", k, v, q.Get(k))
			}
		}
		if q.Has("before") {
			t.Error("before filter must not be sent")
		}

		markets := []GammaMarket{{
			ID:            "1",
			ConditionID:   "0xabc",
			Question:      "Will BTC close above 100k?",
			Closed:        true,
			Outcomes:      `["Yes", "No"]`,
			OutcomePrices: `["0", "1"]`,
			VolumeNum:     1500000,
			ClosedTime:    "2025-01-05 12:00:00+00",
		}}
		_ = json.NewEncoder(w).Encode(markets)
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock(), 0)
	page, err := client.FetchMarketsPage(context.Background(), MarketQuery{
		Limit:      100,
		Offset:     200,
		Tag:        "crypto",
		EndDateMin: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDateMax: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchMarketsPage failed: %v", err)
	}
	if len(page) != 1 || page[0].ConditionID != "0xabc" {
		t.Fatalf("Unexpected page: %+v", page)
	}
}

func TestGammaMarket_ToMarket(t *testing.T) {
	tests := []struct {
		name       string
		market     GammaMarket
		wantOK     bool
		wantWinner string
		wantCat    string
		wantErr    bool
	}{
		{
			name: "resolved yes",
			market: GammaMarket{
				ConditionID: "0x1", Closed: true, Category: "Politics",
				Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`,
				ClosedTime: "2025-02-01T00:00:00Z",
			},
			wantOK: true, wantWinner: "Yes", wantCat: "Politics",
		},
		{
			name: "resolved no with near-one price",
			market: GammaMarket{
				ConditionID: "0x2", Closed: true,
				Outcomes: `["Yes","No"]`, OutcomePrices: `["0.0005","0.9995"]`,
				EndDate: "2025-02-01T00:00:00Z",
				Events:  []GammaRef{{Category: "Sports"}},
			},
			wantOK: true, wantWinner: "No", wantCat: "Sports",
		},
		{
			name: "not closed",
			market: GammaMarket{
				ConditionID: "0x3", Closed: false,
				Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`,
			},
			wantOK: false,
		},
		{
			name: "closed but unresolved",
			market: GammaMarket{
				ConditionID: "0x4", Closed: true,
				Outcomes: `["Yes","No"]`, OutcomePrices: `["0.5","0.5"]`,
				ClosedTime: "2025-02-01T00:00:00Z",
			},
			wantOK: false,
		},
		{
			name: "tag fallback",
			market: GammaMarket{
				ConditionID: "0x5", Closed: true,
				Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`,
				ClosedTime: "2025-02-01T00:00:00Z",
				Tags:       []GammaTag{{Label: "Crypto"}},
			},
			wantOK: true, wantWinner: "Yes", wantCat: "Crypto",
		},
		{
			name: "malformed outcomes",
			market: GammaMarket{
				ConditionID: "0x6", Closed: true,
				Outcomes: `not json`, OutcomePrices: `["1","0"]`,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok, err := tt.market.ToMarket()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToMarket() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if m.WinningOutcome != tt.wantWinner {
				t.Errorf("Expected winner %s, got %s", tt.wantWinner, m.WinningOutcome)
			}
			if m.Category != tt.wantCat {
				t.Errorf("Expected category %s, got %s", tt.wantCat, m.Category)
			}
			if m.ResolvedAt.IsZero() {
				t.Error("Expected resolution time to be set")
			}
			if err := m.Validate(); err != nil {
				t.Errorf("Expected resolved market to validate, got %v", err)
			}
		})
	}
}

func TestParseTime_GammaLayouts(t *testing.T) {
	want := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2025-01-05T12:00:00Z",
		"2025-01-05 12:00:00+00",
		"2025-01-05T12:00:00.000Z",
	} {
		if got := parseTime(s); !got.Equal(want) {
			t.Errorf("parseTime(%q) = %v, expected %v", s, got, want)
		}
	}
	if !parseTime("soon").IsZero() {
		t.Error("Expected zero time for unparseable input")
	}
}

func TestFetchTradesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" {
			t.Errorf("Expected path /trades, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("market") != "0xabc" || q.Get("limit") != "500" || q.Get("offset") != "1000" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"side":"buy","outcome":"Yes","outcomeIndex":0,"price":0.62,"size":15.5,"timestamp":1736078400,"transactionHash":"0xtx"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock(), 0)
	trades, err := client.FetchTradesPage(context.Background(), "0xabc", 0, 1000)
	if err != nil {
		t.Fatalf("FetchTradesPage failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}

	tr := trades[0].ToTrade("0xabc")
	if tr.ConditionID != "0xabc" {
		t.Errorf("Expected condition ID fallback, got %s", tr.ConditionID)
	}
	if tr.Side != "BUY" {
		t.Errorf("Expected side BUY, got %s", tr.Side)
	}
	if !tr.Timestamp.Equal(time.Unix(1736078400, 0)) {
		t.Errorf("Unexpected timestamp %v", tr.Timestamp)
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("Expected trade to validate, got %v", err)
	}
}
