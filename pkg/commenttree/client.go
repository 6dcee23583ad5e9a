package commenttree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds each API call. A request that never resolves would
// otherwise leave a comment in its processing state forever; the deadline
// forces the failure path (and therefore rollback) to run.
const DefaultTimeout = 10 * time.Second

// TokenSource supplies bearer tokens for mutating calls. Token may return the
// empty string when the session is unauthenticated. Refresh is invoked at most
// once per request after a 401 response; the refreshed token is used for one
// retry.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource with a fixed token and no refresh capability.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

func (t StaticToken) Refresh(ctx context.Context) (string, error) {
	return "", ErrUnauthenticated
}

// Client calls the comment API over HTTP. Read methods return an explicit
// error on failure; an empty slice always means the post genuinely has no
// comments.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenSource sets the bearer token source for authenticated calls.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a Client for the API rooted at baseURL (e.g.
// "https://api.example.com/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTopLevelComments returns all top-level comments for a post, newest
// first, authors populated.
func (c *Client) FetchTopLevelComments(ctx context.Context, postID ID) ([]Comment, error) {
	var out []Comment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/posts/%s/comments", postID), nil, &out, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchReplies returns all replies under one top-level comment, oldest first.
func (c *Client) FetchReplies(ctx context.Context, postID, parentID ID) ([]Comment, error) {
	var out []Comment
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/posts/%s/comments/%s/replies", postID, parentID), nil, &out, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment creates a top-level comment and returns the server's object.
func (c *Client) AddComment(ctx context.Context, postID ID, content string) (*Comment, error) {
	var out Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/posts/%s/comments", postID),
		map[string]string{"content": content}, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddReply creates a reply under a top-level comment and returns the server's object.
func (c *Client) AddReply(ctx context.Context, postID, parentID ID, content string) (*Comment, error) {
	var out Comment
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/posts/%s/comments/%s/replies", postID, parentID),
		map[string]string{"content": content}, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateComment replaces a comment's content (author only).
func (c *Client) UpdateComment(ctx context.Context, postID, commentID ID, content string) (*Comment, error) {
	var out Comment
	err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/posts/%s/comments/%s", postID, commentID),
		map[string]string{"content": content}, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteComment deletes a comment (author only). Deleting a top-level comment
// deletes its replies server-side as well.
func (c *Client) DeleteComment(ctx context.Context, postID, commentID ID) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/posts/%s/comments/%s", postID, commentID), nil, nil, true)
}

// LikeComment records the current user's like. Liking an already-liked
// comment succeeds without effect.
func (c *Client) LikeComment(ctx context.Context, commentID ID) (*Comment, error) {
	var out Comment
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/comments/%s/like", commentID), nil, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnlikeComment removes the current user's like. Unliking a never-liked
// comment succeeds without effect.
func (c *Client) UnlikeComment(ctx context.Context, commentID ID) (*Comment, error) {
	var out Comment
	err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/comments/%s/like", commentID), nil, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, authRequired bool) error {
	var token string
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if authRequired && token == "" {
		// Never hit the write API without a token; the caller routes this
		// to its login prompt.
		if c.tokens == nil {
			return ErrUnauthenticated
		}
		refreshed, err := c.tokens.Refresh(ctx)
		if err != nil || refreshed == "" {
			return ErrUnauthenticated
		}
		token = refreshed
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("commenttree: encode request: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}

	// One refresh-and-retry on 401, then the failure is final.
	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		drain(resp)
		refreshed, refreshErr := c.tokens.Refresh(ctx)
		if refreshErr != nil || refreshed == "" {
			return &APIError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "session expired"}
		}
		resp, err = c.send(ctx, method, path, payload, refreshed)
		if err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return decodeBody(resp.Body, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("commenttree: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commenttree: request failed: %w", err)
	}
	return resp, nil
}

// decodeBody decodes a list or object response. List endpoints are served
// either as a bare JSON array or wrapped as {"comments": [...]} /
// {"replies": [...]} depending on the backend version; both shapes decode.
func decodeBody(r io.Reader, out interface{}) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("commenttree: read response: %w", err)
	}

	target, isList := out.(*[]Comment)
	if !isList {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("commenttree: decode response: %w", err)
		}
		return nil
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("commenttree: decode response: %w", err)
		}
		return nil
	}

	var wrapped struct {
		Comments []Comment `json:"comments"`
		Replies  []Comment `json:"replies"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return fmt.Errorf("commenttree: decode response: %w", err)
	}
	if wrapped.Comments != nil {
		*target = wrapped.Comments
	} else {
		*target = wrapped.Replies
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return apiErr
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
