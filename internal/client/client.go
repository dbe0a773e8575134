// Package client is a small HTTP client for the bug tracker API, used by the
// smoke runner and end-to-end tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bugtracker.org/internal/tracker"
)

var (
	ErrUnauthorized = errors.New("client: authentication required")
	ErrForbidden    = errors.New("client: forbidden")
)

// APIError is a non-2xx response that does not map to a sentinel.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// Client talks to one API base URL. It carries the session token after Register or Login.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New parses baseURL. A nil httpClient uses a client with a 10s timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: httpClient}, nil
}

// Token is the current session token, empty before Register or Login.
func (c *Client) Token() string { return c.token }

// Envelope is the success body of mutating endpoints.
type Envelope struct {
	Message   string `json:"message"`
	UserID    string `json:"userId,omitempty"`
	BugID     string `json:"bugId,omitempty"`
	CommentID string `json:"commentId,omitempty"`
	TestID    string `json:"testId,omitempty"`
	Token     string `json:"token,omitempty"`
}

// Registration is the register request body.
type Registration struct {
	EmailAddress string `json:"emailAddress"`
	Password     string `json:"password"`
	GivenName    string `json:"givenName"`
	FamilyName   string `json:"familyName"`
}

func (c *Client) Register(ctx context.Context, reg Registration) (Envelope, error) {
	var env Envelope
	err := c.do(ctx, http.MethodPost, "/api/user/register", nil, reg, &env)
	if err == nil {
		c.token = env.Token
	}
	return env, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Envelope, error) {
	var env Envelope
	err := c.do(ctx, http.MethodPost, "/api/user/login", nil,
		map[string]string{"emailAddress": email, "password": password}, &env)
	if err == nil {
		c.token = env.Token
	}
	return env, err
}

func (c *Client) Me(ctx context.Context) (tracker.User, error) {
	var u tracker.User
	err := c.do(ctx, http.MethodGet, "/api/user/me", nil, nil, &u)
	return u, err
}

func (c *Client) NewBug(ctx context.Context, title, description, steps string) (Envelope, error) {
	var env Envelope
	err := c.do(ctx, http.MethodPut, "/api/bug/new", nil, map[string]string{
		"title":            title,
		"description":      description,
		"stepsToReproduce": steps,
	}, &env)
	return env, err
}

func (c *Client) GetBug(ctx context.Context, bugID string) (tracker.Bug, error) {
	var b tracker.Bug
	err := c.do(ctx, http.MethodGet, "/api/bug/"+url.PathEscape(bugID), nil, nil, &b)
	return b, err
}

// ListBugs passes query through unchanged, e.g. url.Values{"keywords": {"crash"}}.
func (c *Client) ListBugs(ctx context.Context, query url.Values) ([]tracker.BugSummary, error) {
	var out []tracker.BugSummary
	err := c.do(ctx, http.MethodGet, "/api/bug/list", query, nil, &out)
	return out, err
}

func (c *Client) AddComment(ctx context.Context, bugID, text string) (Envelope, error) {
	var env Envelope
	err := c.do(ctx, http.MethodPut, "/api/bug/"+url.PathEscape(bugID)+"/comment/new", nil,
		map[string]string{"text": text}, &env)
	return env, err
}

func (c *Client) ListComments(ctx context.Context, bugID string) ([]tracker.Comment, error) {
	var out []tracker.Comment
	err := c.do(ctx, http.MethodGet, "/api/bug/"+url.PathEscape(bugID)+"/comment/list", nil, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		return mapError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// mapError turns an error response into a sentinel where one exists.
func mapError(status int, body []byte) error {
	var payload struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(body, &payload)
	apiErr := &APIError{Status: status, Message: payload.Error, RequestID: payload.RequestID}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", tracker.ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", tracker.ErrAlreadyExists, apiErr.Message)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	}
	return apiErr
}
