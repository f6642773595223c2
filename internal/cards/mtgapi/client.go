// Package mtgapi talks to the remote card database: paged card search, the
// set list and MTGJSON bulk dumps.
package mtgapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ramonehamilton/cardvault/internal/cards/colors"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/version"
)

const (
	// DefaultBaseURL is the public magicthegathering.io API.
	DefaultBaseURL = "https://api.magicthegathering.io/v1"

	// DefaultBulkURL is the MTGJSON all-sets dump with extras.
	DefaultBulkURL = "https://mtgjson.com/json/AllSets-x.json"

	defaultRequestsPerSecond = 5
	defaultTimeout           = 30 * time.Second
	defaultPageSize          = 100

	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 16 * time.Second
)

// ClientConfig configures a Client. Zero values select the defaults.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client is a rate limited card API client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	userAgent   string
	backoff     time.Duration
}

// NewClient creates a new card API client.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = version.UserAgent()
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaultRequestsPerSecond
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		httpClient:  config.HTTPClient,
		rateLimiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		userAgent:   config.UserAgent,
		backoff:     initialBackoff,
	}
}

// SearchFilters narrows a remote card search. Empty fields are omitted.
type SearchFilters struct {
	Colors   []string
	Types    string
	SetCode  string
	Rarity   string
	PageSize int
}

// SearchCards returns the first page of cards whose name contains term.
// Cards are converted to storage models with the image URL filled in.
func (c *Client) SearchCards(ctx context.Context, term string, filters SearchFilters) ([]*models.Card, error) {
	params := url.Values{}
	params.Set("name", term)
	if letters := colors.Canonical(filters.Colors); len(letters) > 0 {
		params.Set("colorIdentity", strings.Join(letters, ","))
	}
	if filters.Types != "" {
		params.Set("types", filters.Types)
	}
	if filters.SetCode != "" {
		params.Set("set", filters.SetCode)
	}
	if filters.Rarity != "" {
		params.Set("rarity", filters.Rarity)
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("page", "1")

	var result cardsResponse
	if err := c.doRequest(ctx, c.baseURL+"/cards?"+params.Encode(), &result); err != nil {
		return nil, fmt.Errorf("failed to search cards with term '%s': %w", term, err)
	}

	cards := make([]*models.Card, 0, len(result.Cards))
	for i := range result.Cards {
		cards = append(cards, NormalizeCard(&result.Cards[i], nil))
	}
	return cards, nil
}

// GetSets retrieves a list of all sets.
func (c *Client) GetSets(ctx context.Context) ([]*models.Set, error) {
	var result setsResponse
	if err := c.doRequest(ctx, c.baseURL+"/sets", &result); err != nil {
		return nil, fmt.Errorf("failed to get sets: %w", err)
	}

	sets := make([]*models.Set, 0, len(result.Sets))
	for i := range result.Sets {
		sets = append(sets, &result.Sets[i])
	}
	return sets, nil
}

// FetchBulk opens a streaming download of a bulk dump. The caller must
// close the returned body.
func (c *Client) FetchBulk(ctx context.Context, bulkURL string) (io.ReadCloser, error) {
	if bulkURL == "" {
		bulkURL = DefaultBulkURL
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bulkURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	// Bulk dumps can take minutes; rely on ctx instead of the client timeout.
	client := *c.httpClient
	client.Timeout = 0

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download bulk data: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, &NotFoundError{URL: bulkURL}
	default:
		_ = resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
}

// doRequest performs an HTTP request with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, url string, result interface{}) error {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)

			// Retry on network errors
			if attempt < maxRetries && ctx.Err() == nil {
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			return lastErr
		}

		retry, err := c.handleResponse(resp, url, result)
		if !retry {
			return err
		}

		lastErr = err
		if attempt < maxRetries {
			wait := backoff
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					wait = time.Duration(seconds) * time.Second
				}
			}
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// handleResponse decodes resp into result and reports whether the request
// should be retried.
func (c *Client) handleResponse(resp *http.Response, url string, result interface{}) (bool, error) {
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return false, fmt.Errorf("failed to parse JSON response: %w", err)
		}
		return false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("rate limited (HTTP 429)")

	case resp.StatusCode >= 500:
		return true, &APIError{Status: resp.StatusCode, Message: resp.Status}

	case resp.StatusCode == http.StatusNotFound:
		return false, &NotFoundError{URL: url}

	default:
		body, _ := io.ReadAll(resp.Body)

		apiErr := APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return false, &apiErr
		}
		return false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
