package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLValidationError reports why a URL was refused.
type URLValidationError struct {
	Field   string
	Message string
	URL     string
}

func (e URLValidationError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// ValidateURL accepts absolute http(s) URLs. An empty string passes; callers
// decide whether the field is required.
func ValidateURL(urlString, fieldName string, requireHTTPS bool) error {
	if urlString == "" {
		return nil
	}

	fail := func(msg string) error {
		return URLValidationError{Field: fieldName, Message: msg, URL: urlString}
	}

	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return fail("invalid URL format")
	}
	if parsedURL.Scheme == "" {
		return fail("URL must include a scheme (http:// or https://)")
	}
	if parsedURL.Host == "" {
		return fail("URL must include a host")
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if requireHTTPS && scheme != "https" {
		return fail("URL must use HTTPS")
	}
	if scheme != "http" && scheme != "https" {
		return fail("URL scheme must be http or https")
	}
	if strings.ContainsAny(urlString, " \t\r\n") {
		return fail("URL must not contain whitespace")
	}
	return nil
}

// ValidateBaseURL is ValidateURL for API endpoints: no query string or
// fragment. A path is allowed since some deployments mount the API under one.
func ValidateBaseURL(urlString, fieldName string, requireHTTPS bool) error {
	if err := ValidateURL(urlString, fieldName, requireHTTPS); err != nil {
		return err
	}
	if urlString == "" {
		return nil
	}

	parsedURL, _ := url.Parse(urlString)
	if parsedURL.RawQuery != "" {
		return URLValidationError{Field: fieldName, Message: "base URL must not contain query parameters", URL: urlString}
	}
	if parsedURL.Fragment != "" {
		return URLValidationError{Field: fieldName, Message: "base URL must not contain a fragment", URL: urlString}
	}
	return nil
}
