package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
)

// HeaderProvider allows injecting per-request headers.
type HeaderProvider func() map[string]string

// HTTPClient talks to a remote settings API and satisfies Store.
type HTTPClient struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type ClientOption func(*HTTPClient)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) ClientOption {
	return func(c *HTTPClient) { c.headers = h }
}

func WithRetry(max int) ClientOption {
	return func(c *HTTPClient) { c.retryMax = max }
}

// WithDial replaces the transport dialer, mostly for in-memory tests.
func WithDial(dial fasthttp.DialFunc) ClientOption {
	return func(c *HTTPClient) { c.http.Dial = dial }
}

var errNotFound = errors.New("not found")

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("settings api error: status=%d body=%s", e.status, e.body)
}

func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Get(ctx context.Context, sessionID string) (*domain.SettingsRecord, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	payload := arenadto.Settings{Preferences: DefaultDTO()}
	err := c.doJSON(ctx, fasthttp.MethodGet, "/api/settings/"+url.PathEscape(sessionID), nil, &payload, true)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.SettingsRecord{SessionID: sessionID, Preferences: FromDTO(payload.Preferences)}, nil
}

// Save posts once; a failed save is reported, not retried.
func (c *HTTPClient) Save(ctx context.Context, rec domain.SettingsRecord) error {
	if err := checkSession(rec.SessionID); err != nil {
		return err
	}
	in := arenadto.Settings{SessionID: rec.SessionID, Preferences: ToDTO(rec.Preferences)}
	return c.doJSON(ctx, fasthttp.MethodPost, "/api/settings", in, nil, false)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			switch {
			case status == fasthttp.StatusNotFound:
				return errNotFound
			case status < 200 || status >= 300:
				lastErr = &statusError{status: status, body: truncate(string(resp.Body()), 512)}
				if !shouldRetryStatus(status) {
					return lastErr
				}
			default:
				if out != nil {
					if err := json.Unmarshal(resp.Body(), out); err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
				}
				return nil
			}
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *HTTPClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
