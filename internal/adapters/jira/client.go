/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SearchFields is the fixed projection requested from the search endpoint.
const SearchFields = "summary,description,status,priority,assignee,reporter,created,updated,resolutiondate,issuetype,project,labels,components,customfield_10000,customfield_10001,customfield_10002"

const searchPath = "/rest/api/3/search"

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// RemoteError is a non-2xx answer from the remote.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("jira api status=%d body=%s", e.StatusCode, e.Body)
}

// TransportError is any other fault talking to the remote: connect, timeout,
// reading or decoding the body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "jira " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the fault was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

type Client struct {
	baseURL string
	user    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: cfg.HTTPTimeout}, log)
}

// NewClientWithHTTP lets callers supply the transport, mostly for tests.
func NewClientWithHTTP(cfg config.Config, hc *http.Client, log zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.JiraRateLimit > 0 {
		limit = rate.Limit(cfg.JiraRateLimit)
	}
	burst := cfg.JiraRateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.JiraBaseURL, "/"),
		user:    cfg.JiraUsername,
		token:   cfg.JiraAPIToken,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Search runs one page of a JQL search. It issues exactly one request.
func (c *Client) Search(ctx context.Context, jql string, startAt, maxResults int) (*domain.SearchPage, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("fields", SearchFields)
	q.Set("expand", "names,schema")
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))

	c.log.Debug().Str("jql", jql).Int("start_at", startAt).Int("max_results", maxResults).Msg("jira search")
	var page domain.SearchPage
	if err := c.get(ctx, "search", searchPath, q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// get sends one authenticated GET and decodes a 2xx body into out.
func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	if c.baseURL == "" {
		return &TransportError{Op: op, Err: errors.New("empty base url")}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: "rate limit", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(path, q), nil)
	if err != nil {
		return &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if rerr != nil {
			c.log.Warn().Err(rerr).Int("status", resp.StatusCode).Msg("jira: reading error body failed")
		}
		return &RemoteError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: "decode", Err: err}
	}
	return nil
}
