package nominatim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithRateLimit(100), WithRetryDelay(time.Millisecond)}, opts...)
	return NewClient(url, "test@example.com", opts...)
}

func TestClient_SearchPostalCode(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "carbyr/1.0")
		assert.Contains(t, r.Header.Get("User-Agent"), "test@example.com")

		query := r.URL.Query()
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "94110", query.Get("postalcode"))
		assert.Empty(t, query.Get("q"), "structured and free-form search are exclusive")
		assert.Equal(t, "us", query.Get("countrycodes"))
		assert.Equal(t, "jsonv2", query.Get("format"))
		assert.Equal(t, "1", query.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"place_id": 1,
			"lat": "37.7486",
			"lon": "-122.4184",
			"display_name": "San Francisco, California, 94110, United States",
			"type": "postcode",
			"address": {"city": "San Francisco", "state": "California", "ISO3166-2-lvl4": "US-CA", "postcode": "94110", "country_code": "us"}
		}]`))
	}))
	defer mockServer.Close()

	results, err := newTestClient(mockServer.URL).SearchPostalCode(context.Background(), "94110", "us")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Address)
	assert.Equal(t, "37.7486", results[0].Lat)
	assert.Equal(t, "San Francisco", results[0].Address.Locality())
	assert.Equal(t, "CA", results[0].Address.Subdivision())
}

func TestClient_Search_FreeForm(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Oakland, CA", r.URL.Query().Get("q"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]SearchResult{{Lat: "37.8", Lon: "-122.27"}})
	}))
	defer mockServer.Close()

	results, err := newTestClient(mockServer.URL).Search(context.Background(), "Oakland, CA", SearchOptions{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestClient_Search_EmptyQuery(t *testing.T) {
	client := NewClient(DefaultBaseURL, "test@example.com")

	_, err := client.Search(context.Background(), "", SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")

	_, err = client.SearchPostalCode(context.Background(), "", "us")
	require.Error(t, err)
}

func TestAddress_Locality(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want string
	}{
		{"city", Address{City: "Fresno", Town: "x"}, "Fresno"},
		{"town", Address{Town: "Truckee"}, "Truckee"},
		{"village", Address{Village: "Bolinas"}, "Bolinas"},
		{"county only", Address{County: "Marin County"}, "Marin County"},
		{"nothing", Address{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.addr.Locality())
		})
	}
}

func TestClient_RateLimit(t *testing.T) {
	var requestCount atomic.Int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		_ = json.NewEncoder(w).Encode([]SearchResult{})
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, "test@example.com", WithRateLimit(10))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Search(context.Background(), "test", SearchOptions{Limit: 1})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), requestCount.Load())
	// With 10 req/s, 3 requests take at least 200ms.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestClient_Retry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		failStatus   int
		wantErr      string
		wantAttempts int32
	}{
		{"server error then success", 1, http.StatusInternalServerError, "", 2},
		{"rate limited then success", 1, http.StatusTooManyRequests, "", 2},
		{"always failing", 100, http.StatusBadGateway, "max retries exceeded", MaxRetries + 1},
		{"client error is not retried", 100, http.StatusBadRequest, "unexpected status code 400", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if int(attempts.Add(1)) <= tt.failures {
					w.WriteHeader(tt.failStatus)
					return
				}
				_ = json.NewEncoder(w).Encode([]SearchResult{})
			}))
			defer mockServer.Close()

			_, err := newTestClient(mockServer.URL).Search(context.Background(), "test", SearchOptions{})
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
			}
			assert.Equal(t, tt.wantAttempts, attempts.Load())
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_ = json.NewEncoder(w).Encode([]SearchResult{})
	}))
	defer mockServer.Close()

	client := newTestClient(mockServer.URL, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	_, err := client.Search(context.Background(), "test", SearchOptions{Limit: 1})
	assert.Error(t, err)
}
