package alertlinesdk

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
)

// Client is a minimal alertline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id when no bearer token is set. Servers only
	// honour it with allow_user_header enabled.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// ReplyError is the in-band error of a failed turn.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply is the outcome of one conversation turn.
type Reply struct {
	Message string      `json:"message"`
	RuleID  string      `json:"rule_id,omitempty"`
	State   string      `json:"state"`
	Error   *ReplyError `json:"error,omitempty"`
}

// Rule represents the API rule model.
type Rule struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RuleType  string         `json:"rule_type"`
	Severity  string         `json:"severity"`
	Enabled   bool           `json:"enabled"`
	Version   int            `json:"version"`
	DSL       map[string]any `json:"dsl"`
	Schedule  map[string]any `json:"schedule"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

type Target struct {
	DomainID   string `json:"domain_id"`
	DomainName string `json:"domain_name,omitempty"`
}

type Job struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	NextRunAt *string `json:"next_run_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// RuleDetail is a rule with its targets and schedule job.
type RuleDetail struct {
	Rule
	Targets []Target `json:"targets"`
	Job     *Job     `json:"job,omitempty"`
}

type Domain struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
}

// RuleFilter narrows ListRules. Zero values are not sent.
type RuleFilter struct {
	RuleType string
	Enabled  *bool
	Limit    int
	Offset   int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// SendTurn posts one message of a conversation. Conversational failures are
// reported in Reply.Error, not as a Go error.
func (c *Client) SendTurn(ctx context.Context, sessionID, message string) (Reply, error) {
	body := map[string]any{
		"session_id": sessionID,
		"message":    message,
	}
	var resp Reply
	err := c.do(ctx, http.MethodPost, "turns", body, &resp)
	return resp, err
}

// ListRules lists the caller's rules, newest first.
func (c *Client) ListRules(ctx context.Context, f RuleFilter) ([]Rule, error) {
	q := url.Values{}
	if f.RuleType != "" {
		q.Set("rule_type", f.RuleType)
	}
	if f.Enabled != nil {
		q.Set("enabled", strconv.FormatBool(*f.Enabled))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	endpoint := "rules"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Rule `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetRule fetches a rule by id.
func (c *Client) GetRule(ctx context.Context, id string) (RuleDetail, error) {
	var resp RuleDetail
	err := c.do(ctx, http.MethodGet, "rules/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListDomains lists the caller's domains whose name contains filter.
func (c *Client) ListDomains(ctx context.Context, filter string) ([]Domain, error) {
	endpoint := "domains"
	if filter != "" {
		endpoint += "?q=" + url.QueryEscape(filter)
	}
	var resp struct {
		Items []Domain `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// AddDomain registers a domain.
func (c *Client) AddDomain(ctx context.Context, name string, tags []string) (Domain, error) {
	body := map[string]any{"name": name}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	var resp Domain
	err := c.do(ctx, http.MethodPost, "domains", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
