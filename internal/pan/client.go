package pan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "pan115-go/0.1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// Go convention "accept interfaces, return structs"; auth.go provides the
// real implementation.
type TokenSource interface {
	Token() (string, error)
}

// envelope is the uniform response wrapper every API endpoint returns.
// state is 0/false when the request was rejected; code then carries the
// service error code.
type envelope struct {
	State   flexibleBool    `json:"state"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Count   int             `json:"count"`
}

// flexibleBool accepts both boolean and numeric truth values — the API
// mixes `true` and `1` across endpoints.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	*b = flexibleBool(s != "false" && s != "0" && s != `""` && s != "null")

	return nil
}

// Client is an HTTP client for the 115 open API. It handles request
// construction, authentication, retry with exponential backoff, envelope
// decoding, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. baseURL is typically
// "https://proapi.115.com".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// call executes a request against the API and returns the decoded envelope.
// GET requests encode params as the query string; other methods send them
// form-encoded. Transport-level failures (network errors, 5xx, 429) are
// retried with exponential backoff; an envelope with state=0 is classified
// by its service code and never retried here. Failures obtaining a bearer
// token are returned immediately — they need a re-login, not a retry.
func (c *Client) call(ctx context.Context, method, path string, params url.Values) (*envelope, error) {
	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, path, params)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("pan: request canceled: %w", ctx.Err())
			}

			// Token acquisition failures are terminal: a revoked or
			// missing refresh token will not come back, and each retry
			// would fire another refresh against the token endpoint.
			if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotLoggedIn) {
				return nil, err
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("pan: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("pan: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			return nil, fmt.Errorf("pan: reading response body: %w", readErr)
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("pan: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
			return nil, &APIError{
				Code:    resp.StatusCode,
				Message: string(body),
				Err:     sentinel,
			}
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("pan: decoding response envelope: %w", err)
		}

		if !env.State {
			return nil, &APIError{
				Code:    env.Code,
				Message: env.Message,
				Err:     classifyCode(env.Code),
			}
		}

		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
		)

		return &env, nil
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	fullURL := c.baseURL + path

	var body io.Reader

	if len(params) > 0 {
		if method == http.MethodGet {
			fullURL += "?" + params.Encode()
		} else {
			body = strings.NewReader(params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
