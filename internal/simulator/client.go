package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
)

// Retry bounds for 503 responses.
const (
	unavailableTries   = 4
	unavailableInitial = 50 * time.Millisecond
	unavailableMax     = time.Second
)

// ErrUnavailable marks a 503 response that outlived the client retries.
var ErrUnavailable = errors.New("service unavailable")

// APIError is a non-2xx response decoded from the service error body.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnavailable) match a 503.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusServiceUnavailable {
		return ErrUnavailable
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// MatchRequest describes a match to create.
type MatchRequest struct {
	Sport    model.Sport `json:"sport,omitempty"`
	Category string      `json:"category,omitempty"`
	Home     model.Team  `json:"home"`
	Away     model.Team  `json:"away"`
}

// Client talks to the scoring HTTP API. A 503 is retried with exponential
// backoff; every other failure is returned as is.
type Client struct {
	baseURL string
	http    *http.Client
	wait    time.Duration
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout + DefaultWait},
		wait:    DefaultWait,
	}
}

// Health checks that the service answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// CreateMatch creates a match and returns its first snapshot.
func (c *Client) CreateMatch(ctx context.Context, req MatchRequest) (types.Snapshot, error) {
	var snap types.Snapshot
	err := c.do(ctx, http.MethodPost, "/matches", req, &snap)
	return snap, err
}

// Point adds (delta 1) or removes (delta -1) a point for side.
func (c *Client) Point(ctx context.Context, matchID string, side model.Side, delta int) (types.Snapshot, error) {
	var snap types.Snapshot
	body := map[string]any{"side": side, "delta": delta}
	err := c.do(ctx, http.MethodPost, matchPath(matchID, "points"), body, &snap)
	return snap, err
}

// Timeout calls a timeout for side.
func (c *Client) Timeout(ctx context.Context, matchID string, side model.Side) (types.Snapshot, error) {
	var snap types.Snapshot
	err := c.do(ctx, http.MethodPost, matchPath(matchID, "timeouts"), map[string]any{"side": side}, &snap)
	return snap, err
}

// Substitution records a substitution for side.
func (c *Client) Substitution(ctx context.Context, matchID string, side model.Side, player string) (types.Snapshot, error) {
	var snap types.Snapshot
	body := map[string]any{"side": side, "player": player}
	err := c.do(ctx, http.MethodPost, matchPath(matchID, "substitutions"), body, &snap)
	return snap, err
}

// Snapshot returns the current state of a match.
func (c *Client) Snapshot(ctx context.Context, matchID string) (types.Snapshot, error) {
	var snap types.Snapshot
	err := c.do(ctx, http.MethodGet, matchPath(matchID, ""), nil, &snap)
	return snap, err
}

// Fetch long-polls for a version newer than since. It satisfies
// viewer.Fetcher.
func (c *Client) Fetch(ctx context.Context, matchID string, since int64) (types.Snapshot, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("wait", c.wait.String())
	var snap types.Snapshot
	err := c.do(ctx, http.MethodGet, matchPath(matchID, "")+"?"+q.Encode(), nil, &snap)
	return snap, err
}

// Rules resolves the rule set of sport on the server.
func (c *Client) Rules(ctx context.Context, sport model.Sport) (model.RuleSet, error) {
	var rs model.RuleSet
	err := c.do(ctx, http.MethodGet, "/rulesets/"+url.PathEscape(string(sport)), nil, &rs)
	return rs, err
}

func matchPath(matchID, action string) string {
	p := "/matches/" + url.PathEscape(matchID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = unavailableInitial
	bo.MaxInterval = unavailableMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.once(ctx, method, path, payload, out)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(unavailableTries))
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
