package remote

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
	"sync"
	"time"
)

// PostgRESTConfig configures a PostgREST client.
type PostgRESTConfig struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string

	// AnonKey is sent as the apikey header on every request.
	AnonKey string

	// AccessToken is the user's JWT. Empty means unauthenticated.
	AccessToken string

	// UserID pins the session identity. When empty and AccessToken is set,
	// the id is resolved once through /auth/v1/user.
	UserID string

	// Timeout bounds every request (default: 15s).
	Timeout time.Duration

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// PostgREST talks to a Supabase-style REST API.
type PostgREST struct {
	httpClient  *http.Client
	baseURL     string
	anonKey     string
	accessToken string

	mu     sync.Mutex
	userID string
}

// postgrestError is the JSON body PostgREST returns on failure.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// NewPostgREST creates a client for the given project.
func NewPostgREST(cfg PostgRESTConfig) (*PostgREST, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("remote url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &PostgREST{
		httpClient:  client,
		baseURL:     base,
		anonKey:     strings.TrimSpace(cfg.AnonKey),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		userID:      strings.TrimSpace(cfg.UserID),
	}, nil
}

// Session implements Store.
func (c *PostgREST) Session(ctx context.Context) (*Session, error) {
	if c.accessToken == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userID != "" {
		return &Session{UserID: c.userID}, nil
	}

	var user struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, "session", "", http.MethodGet, "/auth/v1/user", nil, nil, &user)
	if err != nil {
		if KindOf(err) == KindAuth {
			return nil, nil
		}
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}

	c.userID = user.ID
	return &Session{UserID: user.ID}, nil
}

// Insert implements Store. Conflicting ids are merged.
func (c *PostgREST) Insert(ctx context.Context, table string, row Row) error {
	params := url.Values{"on_conflict": {"id"}}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	return c.do(ctx, "insert", table, http.MethodPost, restPath(table, params), headers, row, nil)
}

// Update implements Store.
func (c *PostgREST) Update(ctx context.Context, table, id string, row Row) error {
	params := url.Values{"id": {"eq." + id}}
	headers := map[string]string{"Prefer": "return=minimal"}
	return c.do(ctx, "update", table, http.MethodPatch, restPath(table, params), headers, row, nil)
}

// Delete implements Store.
func (c *PostgREST) Delete(ctx context.Context, table, id string) error {
	params := url.Values{"id": {"eq." + id}}
	return c.do(ctx, "delete", table, http.MethodDelete, restPath(table, params), nil, nil, nil)
}

// Select implements Store.
func (c *PostgREST) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	params := url.Values{
		"select":      {"*"},
		q.ChangeField: {"gt." + FormatTimestamp(q.After)},
		"order":       {q.ChangeField + ".asc,id.asc"},
		"offset":      {strconv.Itoa(q.Offset)},
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []Row
	if err := c.do(ctx, "select", table, http.MethodGet, restPath(table, params), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping implements Pinger. Any HTTP answer counts as reachable.
func (c *PostgREST) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return &Error{Kind: KindRequest, Op: "ping", Err: err}
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "ping", Err: err}
	}
	resp.Body.Close()
	return nil
}

func restPath(table string, params url.Values) string {
	return "/rest/v1/" + url.PathEscape(table) + "?" + params.Encode()
}

func (c *PostgREST) setAuth(req *http.Request) {
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	token := c.accessToken
	if token == "" {
		token = c.anonKey
	}
	if token != "" {
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}
}

func (c *PostgREST) do(ctx context.Context, op, table, method, path string, headers map[string]string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindRequest, Op: op, Table: table, Err: fmt.Errorf("failed to marshal body: %w", err)}
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return &Error{Kind: KindRequest, Op: op, Table: table, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindServer, Op: op, Table: table, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	}

	var eb postgrestError
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	msg := strings.TrimSpace(eb.Message)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		Kind:    classifyStatus(resp.StatusCode, eb.Code),
		Op:      op,
		Table:   table,
		Status:  resp.StatusCode,
		Code:    eb.Code,
		Message: msg,
	}
}
