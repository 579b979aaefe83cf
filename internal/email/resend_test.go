package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gellingson/carbyr/internal/config"
	"github.com/gellingson/carbyr/internal/domain/listings"
)

func testConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled:      true,
		From:         "imports@carbyr.com",
		To:           []string{"ops@carbyr.com", "desk@carbyr.com"},
		ResendAPIKey: "test-api-key",
	}
}

// newTestService points a Resend client at handler.
func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := NewService(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	baseURL, err := url.Parse(server.URL)
	require.NoError(t, err)
	svc.resendClient.BaseURL = baseURL
	svc.retryDelay = time.Millisecond
	return svc
}

func sampleReport() *listings.ImportReport {
	started := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	report := listings.NewImportReport("run-1", "craigslist", started)
	report.FinishedAt = started.Add(95 * time.Second)
	report.Fetched = 1200
	report.Accepted = 900
	report.Rejected = 300
	report.Inserted = 850
	report.Updated = 50
	report.Counters.Add(listings.CounterBadPrice, 120)
	report.Counters.Add(listings.CounterNonUSD, 4)
	return report
}

func TestNotifyImport_SendsReport(t *testing.T) {
	var got resend.SendEmailRequest
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "mock-email-id"})
	})

	require.NoError(t, svc.NotifyImport(context.Background(), sampleReport()))

	assert.Equal(t, "imports@carbyr.com", got.From)
	assert.Equal(t, []string{"ops@carbyr.com", "desk@carbyr.com"}, got.To)
	assert.Equal(t, "carbyr import craigslist: 900 accepted, 300 rejected", got.Subject)
	assert.Contains(t, got.Html, "run-1")
	assert.Contains(t, got.Html, "1m35s")
	assert.Contains(t, got.Html, "<td>badprice</td><td>120</td>")
	assert.Contains(t, got.Html, "<td>nonusd</td><td>4</td>")
}

func TestNotifyImport_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	svc, err := NewService(cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.NoError(t, svc.NotifyImport(context.Background(), sampleReport()))
	assert.Nil(t, svc.resendClient)
}

func TestSendViaResend_RateLimitError(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Rate limit exceeded"})
	})

	err := svc.sendViaResend(context.Background(), []string{"ops@carbyr.com"}, "subject", "<p>body</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), calls.Load(), "rate limits are not retried")
}

func TestSendViaResend_GenericAPIError(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message": "Invalid request",
			"name":    "validation_error",
		})
	})

	err := svc.sendViaResend(context.Background(), []string{"ops@carbyr.com"}, "subject", "<p>body</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resend API error")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendViaResend_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "internal error"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "mock-email-id"})
	})

	require.NoError(t, svc.sendViaResend(context.Background(), []string{"ops@carbyr.com"}, "subject", "<p>body</p>"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendViaResend_ContextCancellation(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with a cancelled context")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.sendViaResend(ctx, []string{"ops@carbyr.com"}, "subject", "<p>body</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestSendViaResend_NilClient(t *testing.T) {
	svc := &Service{config: testConfig(), logger: zerolog.Nop()}

	err := svc.sendViaResend(context.Background(), []string{"ops@carbyr.com"}, "subject", "<p>body</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}
