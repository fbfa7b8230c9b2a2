package truedata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"chainflow/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnauthorized is returned when the vendor rejects credentials or a token.
	ErrUnauthorized = errors.New("truedata: unauthorized")
	// ErrEmptyResponse is returned when a successful response carries no data.
	ErrEmptyResponse = errors.New("truedata: empty response")
)

const (
	DefaultAuthURL      = "https://auth.truedata.in/token"
	DefaultAnalyticsURL = "https://analytics.truedata.in/api"
)

// APIError describes a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("truedata: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the TrueData auth and analytics REST endpoints.
type Client struct {
	authURL      string
	analyticsURL string
	httpClient   *http.Client
	limiter      *rate.Limiter
	userAgent    string
	log          *logger.Log

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for the given endpoints. Empty URLs fall back
// to the public TrueData hosts.
func NewClient(authURL, analyticsURL string, opts ...ClientOption) *Client {
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if analyticsURL == "" {
		analyticsURL = DefaultAnalyticsURL
	}
	c := &Client{
		authURL:      authURL,
		analyticsURL: strings.TrimRight(analyticsURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(5), 5),
		userAgent:    "chainflow",
		log:          logger.GetLogger(),
		maxRetries:   2,
		retryBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.userAgent != "" {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc := *c.httpClient
		hc.Transport = userAgentTransport{agent: c.userAgent, base: base}
		c.httpClient = &hc
	}
	return c
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// WithRateLimit limits outgoing requests. A non-positive rps disables the limiter.
func WithRateLimit(rps, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries sets how often retryable failures are repeated.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(agent string) ClientOption {
	return func(c *Client) {
		c.userAgent = agent
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Log) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login exchanges credentials for an access token using the password grant.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		return Session{}, fmt.Errorf("%w: missing credentials", ErrUnauthorized)
	}
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"grant_type": {"password"},
	}
	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Session{}, fmt.Errorf("login: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return Session{}, fmt.Errorf("login: %w: no access token", ErrUnauthorized)
	}
	return newSession(tr.AccessToken, tr.ExpiresIn, time.Now()), nil
}

// FetchOptionChain returns the raw option chain envelope for symbol and
// expiry (DD-MM-YYYY).
func (c *Client) FetchOptionChain(ctx context.Context, token, symbol, expiry string) ([]byte, error) {
	q := url.Values{
		"symbol":   {symbol},
		"expiry":   {expiry},
		"response": {"json"},
	}
	body, err := c.get(ctx, token, "/getoptionchain", q)
	if err != nil {
		return nil, fmt.Errorf("fetch option chain %s %s: %w", symbol, expiry, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("fetch option chain %s %s: %w", symbol, expiry, ErrEmptyResponse)
	}
	return body, nil
}

// FetchLTPSpot returns the last traded spot price. The endpoint answers
// with a two line CSV: a header and the value.
func (c *Client) FetchLTPSpot(ctx context.Context, token, symbol, series string) (float64, error) {
	q := url.Values{
		"symbol":   {symbol},
		"series":   {series},
		"response": {"csv"},
	}
	body, err := c.get(ctx, token, "/getLTPSpot", q)
	if err != nil {
		return 0, fmt.Errorf("fetch ltp %s: %w", symbol, err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("fetch ltp %s: %w", symbol, ErrEmptyResponse)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(lines[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("fetch ltp %s: parse %q: %w", symbol, lines[1], err)
	}
	return v, nil
}

// SeriesFor returns the spot series code: XX for indices, EQ for equities.
func SeriesFor(symbol string) string {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "NIFTY", "BANKNIFTY":
		return "XX"
	}
	return "EQ"
}

func (c *Client) get(ctx context.Context, token, path string, q url.Values) ([]byte, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	full := c.analyticsURL + path + "?" + q.Encode()
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
}

// do runs the request built by newReq, retrying throttled and server
// failures with exponential backoff.
func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		body, err := c.roundTrip(req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return nil, err
		}
		c.log.WithComponent("truedata_client").WithError(err).WithFields(logger.Fields{
			"attempt": attempt + 1,
			"url":     req.URL.Path,
		}).Debug("request failed, retrying")
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 300:
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
