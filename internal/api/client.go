package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/proxy"
	"github.com/Iron-Ham/nebula/internal/registry"
)

// APIError is a non-2xx response from the hub API. It matches the sentinel
// for its status code under errors.Is.
type APIError struct {
	Status int
	Body   ErrorBody
}

// Error returns the server's message with the status.
func (e *APIError) Error() string {
	return fmt.Sprintf("hub api: %d %s: %s", e.Status, http.StatusText(e.Status), e.Body.Error)
}

// Unwrap returns the sentinel the status code maps to.
func (e *APIError) Unwrap() error {
	return sentinelFor(e.Status)
}

// Client talks to a hub API as one user.
type Client struct {
	baseURL string
	user    string
	admin   bool
	http    *http.Client
}

// NewClient creates a client for the API at baseURL acting as user.
// A nil httpClient uses a client without an overall timeout, since spawns
// can take as long as the startup budget.
func NewClient(baseURL, user string, admin bool, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		admin:   admin,
		http:    httpClient,
	}
}

func serverPath(user, name string) string {
	return "/hub/api/users/" + url.PathEscape(user) + "/servers/" + url.PathEscape(name)
}

// Spawn asks the hub to start user's session name with profileSlug.
func (c *Client) Spawn(ctx context.Context, user, name, profileSlug string) (registry.Handle, error) {
	var h registry.Handle
	err := c.do(ctx, http.MethodPost, serverPath(user, name), spawnRequest{Profile: profileSlug}, &h)
	return h, err
}

// Stop stops user's session name.
func (c *Client) Stop(ctx context.Context, user, name string) error {
	return c.do(ctx, http.MethodDelete, serverPath(user, name), nil, nil)
}

// Status returns a snapshot of user's session name.
func (c *Client) Status(ctx context.Context, user, name string) (lifecycle.Snapshot, error) {
	var snap lifecycle.Snapshot
	err := c.do(ctx, http.MethodGet, serverPath(user, name), nil, &snap)
	return snap, err
}

// Activity reports activity on user's session name.
func (c *Client) Activity(ctx context.Context, user, name string, at time.Time) error {
	path := "/hub/api/users/" + url.PathEscape(user) + "/activity"
	return c.do(ctx, http.MethodPost, path, activityRequest{Name: name, LastActivity: at}, nil)
}

// Sessions lists sessions, optionally filtered by a user glob.
func (c *Client) Sessions(ctx context.Context, userPattern string) ([]lifecycle.Snapshot, error) {
	path := "/hub/api/sessions"
	if userPattern != "" {
		path += "?user=" + url.QueryEscape(userPattern)
	}
	var out []lifecycle.Snapshot
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Profiles lists the profile catalog.
func (c *Client) Profiles(ctx context.Context) ([]profile.Profile, error) {
	var out []profile.Profile
	err := c.do(ctx, http.MethodGet, "/hub/api/profiles", nil, &out)
	return out, err
}

// Routes lists the route table.
func (c *Client) Routes(ctx context.Context) ([]*proxy.Route, error) {
	var out []*proxy.Route
	err := c.do(ctx, http.MethodGet, "/hub/api/routes", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUser, c.user)
	if c.admin {
		req.Header.Set(HeaderAdmin, strconv.FormatBool(true))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s %s: %w", errors.ErrCanceled, method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %w", errors.ErrBackendUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Body); err != nil {
			apiErr.Body.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
