package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		https   bool
		wantErr string
	}{
		{"empty allowed", "", false, ""},
		{"craigslist image", "https://images.craigslist.org/00a0a_abc_600x450.jpg", false, ""},
		{"plain http", "http://dealer.example.com/inventory/123", false, ""},
		{"https required and present", "https://example.com", true, ""},
		{"no scheme", "images.craigslist.org/abc.jpg", false, "scheme"},
		{"no host", "https:///abc.jpg", false, "host"},
		{"https required", "http://example.com", true, "HTTPS"},
		{"data scheme", "data://image/png;base64,AAAA", false, "http or https"},
		{"javascript", "javascript://alert(1)", false, "http or https"},
		{"embedded whitespace", "https://example.com/a b.jpg", false, "whitespace"},
		{"unparseable", "https://exa mple.com:port/", false, "invalid URL format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url, "pic_href", tt.https)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"host only", "http://polling.3taps.com", ""},
		{"with path", "https://nominatim.example.com/api", ""},
		{"query", "https://nominatim.openstreetmap.org?format=json", "query parameters"},
		{"fragment", "https://nominatim.openstreetmap.org#top", "fragment"},
		{"no scheme", "polling.3taps.com", "scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.url, "base_url", false)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestURLValidationError_Error(t *testing.T) {
	err := URLValidationError{Field: "pic_href", Message: "URL must include a host", URL: "https://"}
	assert.Equal(t, "pic_href: URL must include a host (url: https://)", err.Error())
}
