// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package client is the HTTP client for the configuration store: plain
// request/response calls plus the long-lived Watcher primitive.
package client

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

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
	"github.com/line/centraldogma-sub008/pkg/version"
)

// Options configures a Client.
type Options struct {
	Endpoint string
	Token    string
	// Transport overrides the default transport, e.g. for mTLS.
	Transport http.RoundTripper
}

type Client struct {
	endpoint *url.URL
	token    string
	hc       *http.Client
}

func New(opts *Options) (*Client, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: parse endpoint: %w", err)
	}
	token := opts.Token
	if len(token) == 0 {
		token = "anonymous"
	}
	hc := &http.Client{}
	if opts.Transport != nil {
		hc.Transport = opts.Transport
	}
	return &Client{endpoint: u, token: token, hc: hc}, nil
}

// ErrorBody mirrors the server's failure payload.
type ErrorBody struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

// Entry is the wire form of one file.
type Entry struct {
	Path    string             `json:"path"`
	Type    plumbing.EntryType `json:"type"`
	Content json.RawMessage    `json:"content,omitempty"`
}

// Text returns the content of a TEXT entry.
func (e *Entry) Text() (string, error) {
	var s string
	if err := json.Unmarshal(e.Content, &s); err != nil {
		return "", fmt.Errorf("client: entry %s is not text: %w", e.Path, err)
	}
	return s, nil
}

type entryResponse struct {
	Revision plumbing.Revision `json:"revision"`
	Entry    *Entry            `json:"entry,omitempty"`
	Entries  []*Entry          `json:"entries,omitempty"`
}

// PushResult reports one accepted push.
type PushResult struct {
	Revision plumbing.Revision `json:"revision"`
	PushedAt int64             `json:"pushedAt"`
	Changes  []repo.Change     `json:"changes,omitempty"`
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, header http.Header) (int, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", version.GetUserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var eb ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || len(eb.Exception) == 0 {
			return resp.StatusCode, fmt.Errorf("client: %s %s: status %d", method, path, resp.StatusCode)
		}
		return resp.StatusCode, plumbing.NewError(plumbing.Kind(eb.Exception), "%s", eb.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) CreateProject(ctx context.Context, name string) error {
	_, err := c.do(ctx, "POST", "/projects", nil, map[string]string{"name": name}, nil, nil)
	return err
}

func (c *Client) RemoveProject(ctx context.Context, name string) error {
	_, err := c.do(ctx, "DELETE", "/projects/"+name, nil, nil, nil, nil)
	return err
}

func (c *Client) CreateRepository(ctx context.Context, project, name string) error {
	_, err := c.do(ctx, "POST", "/projects/"+project+"/repos", nil, map[string]string{"name": name}, nil, nil)
	return err
}

func (c *Client) RemoveRepository(ctx context.Context, project, name string) error {
	_, err := c.do(ctx, "DELETE", "/projects/"+project+"/repos/"+name, nil, nil, nil, nil)
	return err
}

func (c *Client) NormalizeRevision(ctx context.Context, project, name string, rev plumbing.Revision) (plumbing.Revision, error) {
	var out struct {
		Revision plumbing.Revision `json:"revision"`
	}
	_, err := c.do(ctx, "GET", fmt.Sprintf("/projects/%s/repos/%s/revision/%d", project, name, rev), nil, nil, &out, nil)
	return out.Revision, err
}

func revisionQuery(rev plumbing.Revision) url.Values {
	q := url.Values{}
	q.Set("revision", strconv.FormatInt(int64(rev), 10))
	return q
}

// GetFile reads one entry, optionally projected through JSON-path
// expressions.
func (c *Client) GetFile(ctx context.Context, project, name string, rev plumbing.Revision, q *repo.Query) (*Entry, plumbing.Revision, error) {
	query := revisionQuery(rev)
	for _, expr := range q.Expressions {
		query.Add("jsonpath", expr)
	}
	var out entryResponse
	_, err := c.do(ctx, "GET", "/projects/"+project+"/repos/"+name+"/contents"+q.Path, query, nil, &out, nil)
	if err != nil {
		return nil, 0, err
	}
	return out.Entry, out.Revision, nil
}

// GetFiles reads every entry matching a path pattern.
func (c *Client) GetFiles(ctx context.Context, project, name string, rev plumbing.Revision, pattern string) ([]*Entry, plumbing.Revision, error) {
	var out entryResponse
	_, err := c.do(ctx, "GET", "/projects/"+project+"/repos/"+name+"/contents"+patternPath(pattern), revisionQuery(rev), nil, &out, nil)
	if err != nil {
		return nil, 0, err
	}
	return out.Entries, out.Revision, nil
}

func patternPath(pattern string) string {
	if strings.HasPrefix(pattern, "/") {
		return pattern
	}
	return "/" + pattern
}

func (c *Client) Push(ctx context.Context, project, name string, base plumbing.Revision, msg *repo.CommitMessage, changes []repo.Change) (*PushResult, error) {
	body := map[string]any{"commitMessage": msg, "changes": changes}
	var out PushResult
	_, err := c.do(ctx, "POST", "/projects/"+project+"/repos/"+name+"/contents", revisionQuery(base), body, &out, nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, project, name string, from, to plumbing.Revision, pathPattern string, maxCommits int) ([]*repo.Commit, error) {
	q := url.Values{}
	q.Set("to", strconv.FormatInt(int64(to), 10))
	if len(pathPattern) != 0 {
		q.Set("path", pathPattern)
	}
	if maxCommits > 0 {
		q.Set("maxCommits", strconv.Itoa(maxCommits))
	}
	var out []*repo.Commit
	_, err := c.do(ctx, "GET", fmt.Sprintf("/projects/%s/repos/%s/commits/%d", project, name, from), q, nil, &out, nil)
	return out, err
}

// watchSlack pads the transport deadline past the server-side wait.
const watchSlack = 5 * time.Second

func watchHeader(lastKnown plumbing.Revision, wait time.Duration, notifyEntryNotFound bool) http.Header {
	h := http.Header{}
	h.Set("If-None-Match", strconv.FormatInt(int64(lastKnown), 10))
	prefer := fmt.Sprintf("wait=%d", int(wait/time.Second))
	if notifyEntryNotFound {
		prefer += ", notify-entry-not-found=true"
	}
	h.Set("Prefer", prefer)
	return h
}

// WatchRepository long-polls for a commit after lastKnown matching the
// pattern. ok is false when the wait elapsed without a change.
func (c *Client) WatchRepository(ctx context.Context, project, name string, lastKnown plumbing.Revision, pattern string, wait time.Duration) (plumbing.Revision, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, wait+watchSlack)
	defer cancel()
	var out struct {
		Revision plumbing.Revision `json:"revision"`
	}
	status, err := c.do(ctx, "GET", "/projects/"+project+"/repos/"+name+"/contents"+patternPath(pattern),
		nil, nil, &out, watchHeader(lastKnown, wait, false))
	if err != nil {
		return 0, false, err
	}
	if status == http.StatusNotModified {
		return 0, false, nil
	}
	return out.Revision, true, nil
}

// WatchFile long-polls for a change of one queried entry.
func (c *Client) WatchFile(ctx context.Context, project, name string, lastKnown plumbing.Revision, q *repo.Query, wait time.Duration, notifyEntryNotFound bool) (plumbing.Revision, *Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, wait+watchSlack)
	defer cancel()
	query := url.Values{}
	for _, expr := range q.Expressions {
		query.Add("jsonpath", expr)
	}
	var out struct {
		Revision plumbing.Revision `json:"revision"`
		Entry    *Entry            `json:"entry,omitempty"`
	}
	status, err := c.do(ctx, "GET", "/projects/"+project+"/repos/"+name+"/contents"+q.Path,
		query, nil, &out, watchHeader(lastKnown, wait, notifyEntryNotFound))
	if err != nil {
		return 0, nil, false, err
	}
	if status == http.StatusNotModified {
		return 0, nil, false, nil
	}
	return out.Revision, out.Entry, true, nil
}
