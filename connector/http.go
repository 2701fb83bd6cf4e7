package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// HTTPClient is a JSON REST transport with bearer auth. Rate limits and
// 5xx responses are retried with exponential backoff, honoring Retry-After.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a transport. BaseURL and Token are required.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("vendor base url is required")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger,
	}, nil
}

// Get issues a GET and decodes the JSON response into out.
func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *HTTPClient) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do performs a request with retries. path may be absolute, for APIs
// that return full next-page URLs.
func (c *HTTPClient) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return err
		}
	}
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.Debug("vendor request failed, will retry", "url", target, "attempt", attempt+1, "err", err)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		}

		if retryable(resp.StatusCode) && attempt < c.maxRetries {
			delay := c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))
			c.logger.Debug("vendor request throttled, will retry", "url", target, "status", resp.StatusCode, "retry_in", delay)
			if waitErr := sleepContext(ctx, delay); waitErr != nil {
				return waitErr
			}
			continue
		}
		return parseAPIError(resp.StatusCode, respBody)
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			apiErr.Code = code
		}
		for _, key := range []string{"message", "detail"} {
			if message, ok := parsed[key].(string); ok && strings.TrimSpace(message) != "" {
				apiErr.Message = message
				break
			}
		}
	}
	return apiErr
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
