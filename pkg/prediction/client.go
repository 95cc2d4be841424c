package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the prediction service base URL.
	DefaultBaseURL = "https://nfl-predictor-api.onrender.com"

	defaultRateLimit = 2.0 // requests per second
	defaultBurst     = 1
)

// UnavailableError reports that no prediction could be retrieved for an
// event. Message carries the server-provided reason when there is one.
type UnavailableError struct {
	EventID int64
	Message string
}

func (e *UnavailableError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("prediction unavailable for event %d: %s", e.EventID, e.Message)
	}
	return fmt.Sprintf("prediction unavailable for event %d", e.EventID)
}

// Client is a prediction API client.
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

// NewClient creates a new prediction API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			// Predictions can take a while to generate upstream.
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// predictionEnvelope is the wire shape of the /predict/{id} endpoint.
type predictionEnvelope struct {
	Success    bool        `json:"success"`
	Prediction *Prediction `json:"prediction"`
	Error      string      `json:"error,omitempty"`
}

// Get fetches the prediction for an event. Any non-success response,
// explicit error field or structurally missing prediction yields an
// *UnavailableError.
func (c *Client) Get(ctx context.Context, eventID int64) (*Prediction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := c.baseURL + "/predict/" + strconv.FormatInt(eventID, 10)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{EventID: eventID, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{EventID: eventID, Message: "read response: " + err.Error()}
	}

	// Error responses still carry a JSON envelope with a message; prefer
	// that over the bare status code when present.
	var envelope predictionEnvelope
	decodeErr := json.Unmarshal(body, &envelope)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if decodeErr == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return nil, &UnavailableError{EventID: eventID, Message: msg}
	}

	if decodeErr != nil {
		return nil, &UnavailableError{EventID: eventID, Message: "decode response: " + decodeErr.Error()}
	}

	if !envelope.Success || envelope.Error != "" {
		return nil, &UnavailableError{EventID: eventID, Message: envelope.Error}
	}

	if envelope.Prediction == nil {
		return nil, &UnavailableError{EventID: eventID, Message: "response missing prediction"}
	}

	return envelope.Prediction, nil
}
