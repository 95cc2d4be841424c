package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the prediction service base URL.
	DefaultBaseURL = "https://nfl-predictor-api.onrender.com"

	// Rate limits for the upstream API
	defaultRateLimit = 5.0 // requests per second
	defaultBurst     = 2
)

// FetchError reports a failed schedule fetch, carrying the HTTP status
// when the server responded at all.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("schedule fetch failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("schedule fetch failed: %s", e.Message)
}

// Client is a schedule API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new schedule API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// scheduleEnvelope is the wire shape of the /schedule endpoint.
type scheduleEnvelope struct {
	Success  bool            `json:"success"`
	Schedule json.RawMessage `json:"schedule"`
	Error    string          `json:"error,omitempty"`
}

// FetchSchedule fetches the upcoming games, drops entries missing a team
// name and returns the remainder sorted ascending by kickoff.
// The call has no side effects and is safe to retry freely.
func (c *Client) FetchSchedule(ctx context.Context) ([]Game, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/schedule", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &FetchError{Status: resp.StatusCode, Message: string(body)}
	}

	var envelope scheduleEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}

	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "server reported success=false"
		}
		return nil, &FetchError{Status: resp.StatusCode, Message: msg}
	}

	var games []Game
	if err := json.Unmarshal(envelope.Schedule, &games); err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Message: "schedule is not a list: " + err.Error()}
	}

	games = FilterValid(games)
	SortGames(games)
	return games, nil
}
