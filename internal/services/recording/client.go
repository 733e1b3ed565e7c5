// Package recording provides a read-only client for the external call
// recording store.
package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5
)

// Client is a recording store API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new recording store client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error from the recording store API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recording store API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// recordingRecord is the wire shape of a recording-store search result
type recordingRecord struct {
	RecordID     string `json:"record_id"`
	Transcript   string `json:"transcript"`
	Duration     int    `json:"duration"`
	Direction    string `json:"direction"`
	CallerNumber string `json:"caller_number"`
	CalledNumber string `json:"called_number"`
	Extension    string `json:"extension"`
	RecordedAt   string `json:"recorded_at"`
}

type searchResponse struct {
	Records []recordingRecord `json:"records"`
	Total   int               `json:"total"`
}

// get performs a GET request to the API.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	reqURL := fmt.Sprintf("%s%s", c.baseURL, path)
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("url", c.baseURL+path).
			Msg("Recording store API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Search returns recordings for the extension inside [start, end].
func (c *Client) Search(ctx context.Context, extension string, start, end time.Time) ([]*models.Recording, error) {
	params := url.Values{}
	params.Set("extension", extension)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	var resp searchResponse
	if err := c.get(ctx, "/v2/recordings/search", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to search recordings: %w", err)
	}

	return c.toModels(resp.Records), nil
}

// SearchSince returns recordings across all extensions recorded after since.
func (c *Client) SearchSince(ctx context.Context, since time.Time, limit int) ([]*models.Recording, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp searchResponse
	if err := c.get(ctx, "/v2/recordings/search", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to search recent recordings: %w", err)
	}

	return c.toModels(resp.Records), nil
}

// toModels converts wire records, skipping rows with unparseable timestamps
func (c *Client) toModels(records []recordingRecord) []*models.Recording {
	result := make([]*models.Recording, 0, len(records))
	for _, r := range records {
		recordedAt, err := time.Parse(time.RFC3339, r.RecordedAt)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn().
					Str("record_id", r.RecordID).
					Str("recorded_at", r.RecordedAt).
					Msg("Skipping recording with invalid timestamp")
			}
			continue
		}

		direction := models.DirectionInbound
		if r.Direction == "outbound" {
			direction = models.DirectionOutbound
		}

		result = append(result, &models.Recording{
			RecordID:     r.RecordID,
			Transcript:   r.Transcript,
			DurationSecs: r.Duration,
			Direction:    direction,
			CallerNumber: r.CallerNumber,
			CalledNumber: r.CalledNumber,
			Extension:    r.Extension,
			RecordedAt:   recordedAt,
		})
	}
	return result
}
