// Package trello is a paced, retrying client for the Trello REST API.
package trello

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/config"
	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/ratelimit"
	"github.com/pulsegate/pulsegate/internal/metrics"
)

const (
	defaultBaseURL      = "https://api.trello.com/1"
	defaultSoftLimit    = 90
	defaultWindow       = 10 * time.Second
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 1500 * time.Millisecond
	defaultTimeout      = 15 * time.Second
	maxBodyBytes        = 8 << 20
)

// ErrRetriesExhausted is returned when every attempt of a call was throttled.
var ErrRetriesExhausted = errors.New("trello retries exhausted")

// APIError is a non-2xx response that is not a throttle.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return fmt.Sprintf("trello %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("trello %s: status %d: %s", e.Path, e.StatusCode, msg)
}

// Client calls Trello through a shared soft-limit window.
type Client struct {
	BaseURL      string
	APIKey       string
	APIToken     string
	HTTPClient   *http.Client
	Window       *ratelimit.Window
	MaxAttempts  int
	RetryBackoff time.Duration
	Sleep        ratelimit.SleepFunc
	Logger       *logging.Logger
	Clock        func() time.Time

	mu         sync.Mutex
	lastSignal *core.RateLimitSignal
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.TrelloConfig, logger *logging.Logger) *Client {
	limit := cfg.SoftLimit
	if limit <= 0 {
		limit = defaultSoftLimit
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		APIToken:     cfg.APIToken,
		HTTPClient:   &http.Client{Timeout: timeout},
		Window:       ratelimit.NewWindow(limit, window),
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	}
}

// GetBoards lists the boards of a member ("me" for the token owner).
func (c *Client) GetBoards(ctx context.Context, memberID string) ([]core.Board, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, errors.New("member id is required")
	}
	var boards []core.Board
	if err := c.get(ctx, "get_boards", "/members/"+url.PathEscape(memberID)+"/boards", &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// GetLists lists the lists of a board.
func (c *Client) GetLists(ctx context.Context, boardID string) ([]core.List, error) {
	boardID = strings.TrimSpace(boardID)
	if boardID == "" {
		return nil, errors.New("board id is required")
	}
	var lists []core.List
	if err := c.get(ctx, "get_lists", "/boards/"+url.PathEscape(boardID)+"/lists", &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// GetCards lists the cards of a list.
func (c *Client) GetCards(ctx context.Context, listID string) ([]core.Card, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, errors.New("list id is required")
	}
	var cards []core.Card
	if err := c.get(ctx, "get_cards", "/lists/"+url.PathEscape(listID)+"/cards", &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// LastSignal returns the most recent throttle seen by the client.
func (c *Client) LastSignal() (core.RateLimitSignal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSignal == nil {
		return core.RateLimitSignal{}, false
	}
	return *c.lastSignal, true
}

func (c *Client) get(ctx context.Context, call, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := c.maxAttempts()
	var lastSignal *core.RateLimitSignal

	for attempt := 1; attempt <= attempts; attempt++ {
		if wait := c.window().Reserve(); wait > 0 {
			metrics.RecordWindowWait(core.UpstreamTrello, wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		started := time.Now()
		status, header, body, err := c.do(ctx, path)
		if err != nil {
			metrics.RecordUpstreamCall(core.UpstreamTrello, call, ratelimit.OutcomeServerError.String(), time.Since(started))
			return fmt.Errorf("trello %s: %w", path, err)
		}

		outcome := ratelimit.Classify(status, header, body)
		metrics.RecordUpstreamCall(core.UpstreamTrello, call, outcome.String(), time.Since(started))
		if wait := c.observe(header); wait > 0 {
			metrics.RecordWindowWait(core.UpstreamTrello, wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		switch outcome {
		case ratelimit.OutcomeOK:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode trello %s: %w", path, err)
			}
			return nil
		case ratelimit.OutcomeThrottled:
			lastSignal = c.signal(status, header)
			metrics.RecordThrottle(core.UpstreamTrello)
			if attempt == attempts {
				continue
			}
			backoff := c.retryBackoff() * time.Duration(attempt)
			metrics.RecordRetry(core.UpstreamTrello)
			if c.Logger != nil {
				c.Logger.Warn("Trello throttled, retrying",
					zap.String("path", path),
					zap.Int("attempt", attempt),
					zap.Duration("backoff", backoff))
			}
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
		default:
			return &APIError{StatusCode: status, Path: path, Body: string(body)}
		}
	}

	if c.Logger != nil {
		c.Logger.Error("Trello retries exhausted",
			zap.String("path", path),
			zap.Int("attempts", attempts))
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, path, attempts, lastSignal)
}

func (c *Client) do(ctx context.Context, path string) (int, http.Header, []byte, error) {
	endpoint, err := url.Parse(strings.TrimRight(c.baseURL(), "/") + path)
	if err != nil {
		return 0, nil, nil, err
	}
	query := endpoint.Query()
	query.Set("key", c.APIKey)
	query.Set("token", c.APIToken)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

// observe feeds quota headers into the window and returns how long the
// current caller must block. The window keeps the block for concurrent callers.
func (c *Client) observe(header http.Header) time.Duration {
	quota, ok := ratelimit.ParseQuota(header)
	if !ok {
		return 0
	}
	metrics.SetQuotaRemaining(core.UpstreamTrello, quota.Remaining)
	wait := c.window().ObserveHardLimit(quota.Remaining, quota.ResetEpoch)
	if wait > 0 && c.Logger != nil {
		c.Logger.Warn("Trello quota exhausted, blocking until reset",
			zap.Duration("wait", wait),
			zap.Time("reset_at", quota.ResetAt()))
	}
	return wait
}

func (c *Client) signal(status int, header http.Header) *core.RateLimitSignal {
	signal := &core.RateLimitSignal{
		Upstream:   core.UpstreamTrello,
		StatusCode: status,
	}
	if quota, ok := ratelimit.ParseQuota(header); ok {
		signal.Remaining = quota.Remaining
		signal.ResetEpoch = quota.ResetEpoch
	}
	if signal.ResetEpoch == 0 {
		if wait := ratelimit.RetryAfter(header); wait > 0 {
			signal.ResetEpoch = c.now().Add(wait).Unix()
		}
	}

	c.mu.Lock()
	c.lastSignal = signal
	c.mu.Unlock()
	return signal
}

func (c *Client) window() *ratelimit.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Window == nil {
		c.Window = ratelimit.NewWindow(defaultSoftLimit, defaultWindow)
	}
	return c.Window
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return ratelimit.Sleep(ctx, d)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) baseURL() string {
	if strings.TrimSpace(c.BaseURL) == "" {
		return defaultBaseURL
	}
	return c.BaseURL
}

func (c *Client) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

func (c *Client) retryBackoff() time.Duration {
	if c.RetryBackoff > 0 {
		return c.RetryBackoff
	}
	return defaultRetryBackoff
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
