// Package profilegate provides a client for the browser-automation service
// that renders Facebook profile pages and returns their extracted fields.
package profilegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/finscope/profiler-cli/internal/model"
)

// Client defines the profile fetch operations.
type Client interface {
	// Fetch renders the profile at targetURL using the given account
	// credentials and returns the extracted fields.
	Fetch(ctx context.Context, targetURL string, creds Credentials) (*ProfileData, error)
}

// Credentials identifies the source account the gate should drive.
type Credentials struct {
	AccountID     string `json:"account_id"`
	CredentialRef string `json:"credential_ref"`
}

// ProfileData holds the fields extracted from a rendered profile page.
type ProfileData struct {
	FacebookID  string   `json:"facebook_id"`
	Name        string   `json:"name"`
	Bio         string   `json:"bio"`
	Location    string   `json:"location"`
	Work        string   `json:"work"`
	Education   string   `json:"education"`
	PostsSample []string `json:"posts_sample"`
}

// fetchRequest is the wire request sent to the gate service.
type fetchRequest struct {
	URL         string      `json:"url"`
	Credentials Credentials `json:"credentials"`
}

// fetchResponse is the wire response from the gate service.
type fetchResponse struct {
	Profile *ProfileData `json:"profile"`
	Error   string       `json:"error,omitempty"`
}

// Option configures the profilegate client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new profilegate client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// validateProfileURL rejects URLs the gate cannot render before any network
// round trip happens.
func validateProfileURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return model.NewFetchError(model.FetchInvalidURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.NewFetchError(model.FetchInvalidURL, raw, eris.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return model.NewFetchError(model.FetchInvalidURL, raw, eris.New("missing host"))
	}
	return nil
}

func (c *httpClient) Fetch(ctx context.Context, targetURL string, creds Credentials) (*ProfileData, error) {
	if err := validateProfileURL(targetURL); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(fetchRequest{URL: targetURL, Credentials: creds})
	if err != nil {
		return nil, eris.Wrap(err, "profilegate: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/fetch", c.baseURL), strings.NewReader(string(payload)))
	if err != nil {
		return nil, eris.Wrap(err, "profilegate: create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, model.NewFetchError(model.FetchTimeout, targetURL, err)
		}
		return nil, eris.Wrap(err, "profilegate: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "profilegate: read response body")
	}

	if err := classifyStatus(resp.StatusCode, targetURL, body); err != nil {
		return nil, err
	}

	var result fetchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "profilegate: unmarshal response")
	}
	if result.Profile == nil {
		return nil, eris.Errorf("profilegate: empty profile in response: %s", string(body))
	}

	return result.Profile, nil
}

// classifyStatus maps gate HTTP statuses onto typed fetch errors.
func classifyStatus(code int, targetURL string, body []byte) error {
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return model.NewFetchError(model.FetchNotFound, targetURL,
			eris.Errorf("status %d: %s", code, string(body)))
	case http.StatusForbidden, http.StatusUnauthorized:
		return model.NewFetchError(model.FetchAccountBlocked, targetURL,
			eris.Errorf("status %d: %s", code, string(body)))
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.NewFetchError(model.FetchInvalidURL, targetURL,
			eris.Errorf("status %d: %s", code, string(body)))
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return model.NewFetchError(model.FetchTimeout, targetURL,
			eris.Errorf("status %d: %s", code, string(body)))
	default:
		return eris.Errorf("profilegate: unexpected status %d: %s", code, string(body))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
