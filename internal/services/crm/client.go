// Package crm provides a client for the external ticketing/CRM system.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5
)

// Client is a CRM API client implementing interfaces.CRMService.
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

// NewClient creates a new CRM API client.
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

// APIError represents an error from the CRM API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CRM API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// do performs a request with rate limiting and JSON encoding/decoding.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	reqURL := fmt.Sprintf("%s%s", c.baseURL, path)
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("url", c.baseURL+path).
			Msg("CRM API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(data),
			Endpoint:   path,
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

type createTicketRequest struct {
	HouseholdID string `json:"household_id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	PipelineID  int64  `json:"pipeline_id"`
	StageID     int64  `json:"stage_id"`
	CategoryID  int64  `json:"category_id,omitempty"`
	PriorityID  int64  `json:"priority_id,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
}

type createTicketResponse struct {
	TicketID string `json:"ticket_id"`
}

// CreateTicket creates a service ticket in the CRM and returns its id.
func (c *Client) CreateTicket(ctx context.Context, params interfaces.CreateTicketParams) (string, error) {
	req := createTicketRequest{
		HouseholdID: params.HouseholdID,
		Subject:     params.Subject,
		Description: params.Description,
		PipelineID:  params.PipelineID,
		StageID:     params.StageID,
		CategoryID:  params.CategoryID,
		PriorityID:  params.PriorityID,
		AgentID:     params.AgentID,
	}

	var resp createTicketResponse
	if err := c.do(ctx, http.MethodPost, "/v4/tickets", nil, req, &resp); err != nil {
		return "", fmt.Errorf("failed to create ticket: %w", err)
	}
	if resp.TicketID == "" {
		return "", fmt.Errorf("CRM returned empty ticket id")
	}

	return resp.TicketID, nil
}

type addNoteRequest struct {
	CustomerID string `json:"customer_id"`
	Text       string `json:"text"`
}

type addNoteResponse struct {
	NoteID string `json:"note_id"`
}

// AddNote attaches a note to a CRM customer record.
func (c *Client) AddNote(ctx context.Context, customerID, text string) (string, error) {
	req := addNoteRequest{CustomerID: customerID, Text: text}

	var resp addNoteResponse
	if err := c.do(ctx, http.MethodPost, "/v4/notes", nil, req, &resp); err != nil {
		return "", fmt.Errorf("failed to add note: %w", err)
	}

	return resp.NoteID, nil
}

type customerRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type customerSearchResponse struct {
	Customers []customerRecord `json:"customers"`
}

// SearchCustomerByPhone returns the CRM household matching the phone, or nil
// when none matches. Matching compares the 7-digit suffix on both sides
// because stored formats vary.
func (c *Client) SearchCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	suffix := common.PhoneSuffix(phone, 7)
	if suffix == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("phone", suffix)

	var resp customerSearchResponse
	if err := c.do(ctx, http.MethodGet, "/v4/customers/search", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to search customers: %w", err)
	}

	for _, rec := range resp.Customers {
		if common.PhonesMatch(phone, rec.Phone, 7) {
			return &models.Customer{
				ExternalID:  rec.ID,
				Name:        rec.Name,
				Phone:       rec.Phone,
				PhoneSuffix: common.PhoneSuffix(rec.Phone, 7),
			}, nil
		}
	}

	return nil, nil
}
