package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/quii/vue-fast-sub001/models"
)

const (
	DefaultHTTPRetries    = 3
	DefaultHTTPRetryDelay = 500 * time.Millisecond
)

type HTTPOptions struct {
	// Retries is the number of extra attempts after the first failure.
	Retries    int
	RetryDelay time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

type queuedCall struct {
	method string
	path   string
	body   []byte
}

// HTTPClient runs the shoot operations over plain HTTP. Network failures and
// 5xx/429 answers are retried; 4xx answers are final. When the server cannot
// be reached, mutating calls are queued and later flushed in order.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	opts    HTTPOptions
	logger  *slog.Logger

	flushMu sync.Mutex
	mu      sync.Mutex
	offline bool
	queue   []queuedCall
}

func NewHTTPClient(baseURL string, opts HTTPOptions) *HTTPClient {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultHTTPRetryDelay
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.Client,
		opts:    opts,
		logger:  opts.Logger,
	}
}

func (c *HTTPClient) CreateShoot(ctx context.Context, creatorName string) (*models.Shoot, error) {
	body, err := json.Marshal(map[string]string{"creatorName": creatorName})
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, "/shoots", body)
	if err != nil {
		return nil, err
	}
	return decodeShootBody(data)
}

func (c *HTTPClient) GetShoot(ctx context.Context, code string) (*models.Shoot, error) {
	data, err := c.do(ctx, http.MethodGet, shootPath(code), nil)
	if err != nil {
		return nil, err
	}
	return decodeShootBody(data)
}

func (c *HTTPClient) JoinShoot(ctx context.Context, code, archerName, roundName string) (*models.Shoot, error) {
	return c.mutate(ctx, http.MethodPost, shootPath(code)+"/join", models.JoinRequest{ArcherName: archerName, RoundName: roundName})
}

func (c *HTTPClient) UpdateScore(ctx context.Context, code string, score Score) (*models.Shoot, error) {
	return c.mutate(ctx, http.MethodPut, shootPath(code)+"/score", score)
}

func (c *HTTPClient) FinishShoot(ctx context.Context, code string, score Score) (*models.Shoot, error) {
	return c.mutate(ctx, http.MethodPut, shootPath(code)+"/finish", score)
}

// LeaveShoot returns a nil shoot on success; the HTTP surface only confirms the removal.
func (c *HTTPClient) LeaveShoot(ctx context.Context, code, archerName string) (*models.Shoot, error) {
	_, err := c.mutate(ctx, http.MethodDelete, shootPath(code)+"/archer/"+url.PathEscape(archerName), nil)
	return nil, err
}

func (c *HTTPClient) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.offline
}

// Pending returns the number of queued calls.
func (c *HTTPClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *HTTPClient) mutate(ctx context.Context, method, path string, payload any) (*models.Shoot, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if c.offline {
		c.queue = append(c.queue, queuedCall{method: method, path: path, body: body})
		c.mu.Unlock()
		return nil, ErrQueuedOffline
	}
	c.mu.Unlock()

	data, err := c.do(ctx, method, path, body)
	if err != nil {
		if isUnreachable(ctx, err) {
			c.mu.Lock()
			c.offline = true
			c.queue = append(c.queue, queuedCall{method: method, path: path, body: body})
			c.mu.Unlock()
			c.logger.Warn("server unreachable, queued request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Any("error", err),
			)
			return nil, ErrQueuedOffline
		}
		return nil, err
	}
	if method == http.MethodDelete {
		return nil, nil
	}
	return decodeShootBody(data)
}

// Flush sends queued calls in their original order. It stops at the first
// call that still cannot reach the server; calls the server rejects are
// dropped and logged.
func (c *HTTPClient) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.offline = false
			c.mu.Unlock()
			return nil
		}
		call := c.queue[0]
		c.mu.Unlock()

		_, err := c.do(ctx, call.method, call.path, call.body)
		if err != nil && isUnreachable(ctx, err) {
			return fmt.Errorf("flush stopped with %d calls queued: %w", c.Pending(), err)
		}
		if err != nil {
			c.logger.Warn("queued request rejected by server",
				slog.String("method", call.method),
				slog.String("path", call.path),
				slog.Any("error", err),
			)
		}

		c.mu.Lock()
		c.queue = c.queue[1:]
		c.mu.Unlock()
	}
}

// WatchConnectivity probes the server while offline and flushes the queue
// once it answers. It returns when ctx is done.
func (c *HTTPClient) WatchConnectivity(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Online() {
				continue
			}
			if err := c.Ping(ctx); err != nil {
				continue
			}
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("failed to flush offline queue", slog.Any("error", err))
			} else {
				c.logger.Info("back online, offline queue flushed")
			}
		}
	}
}

// Ping checks GET /healthz once, without retries.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	operation := func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		remote := &RemoteError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, remote
		}
		return nil, backoff.Permanent(remote)
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.RetryDelay)),
		backoff.WithMaxTries(uint(c.opts.Retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Duration("after", next),
				slog.Any("error", err),
			)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return data, err
}

// isUnreachable reports whether err means the server could not be reached
// at all, as opposed to the server answering with an error.
func isUnreachable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var remote *RemoteError
	return !errors.As(err, &remote)
}

func errorMessage(data []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return fallback
}

func shootPath(code string) string {
	return "/shoots/" + url.PathEscape(code)
}

func decodeShootBody(data []byte) (*models.Shoot, error) {
	var resp models.ShootResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed shoot response: %w", err)
	}
	if resp.Shoot == nil {
		return nil, errors.New("response carried no shoot")
	}
	return resp.Shoot, nil
}
