// Package client is the HTTP implementation of privatedata.Store used by
// wallet instances to reach the shared backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wwwallet/internal/privatedata"
	dErrors "wwwallet/pkg/domain-errors"
	"wwwallet/pkg/platform/sentinel"
)

// TokenSource returns the bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Client talks to the private data endpoints of the backend.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func New(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(walletID string) string {
	return c.baseURL + "/wallets/" + url.PathEscape(walletID) + "/private-data"
}

func (c *Client) Get(ctx context.Context, walletID string) (*privatedata.Blob, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(walletID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get private data: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read private data: %w: %v", sentinel.ErrUnavailable, err)
	}
	version, err := parseETag(resp.Header.Get("ETag"))
	if err != nil {
		return nil, err
	}
	blob := &privatedata.Blob{WalletID: walletID, Data: data, Version: version}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			blob.UpdatedAt = t
		}
	}
	return blob, nil
}

func (c *Client) Put(ctx context.Context, walletID string, data []byte, expectedVersion int64) (*privatedata.Blob, error) {
	req, err := c.newRequest(ctx, http.MethodPut, c.endpoint(walletID), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if expectedVersion == 0 {
		req.Header.Set("If-None-Match", "*")
	} else {
		req.Header.Set("If-Match", privatedata.ETag(expectedVersion))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put private data: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	version, err := parseETag(resp.Header.Get("ETag"))
	if err != nil {
		return nil, err
	}
	return &privatedata.Blob{WalletID: walletID, Data: data, Version: version, UpdatedAt: time.Now()}, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "obtain access token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// statusError maps a non-success response to the Store error contract.
func statusError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	detail := body.ErrorDescription
	if detail == "" {
		detail = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return sentinel.ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", detail, sentinel.ErrConflict)
	case http.StatusUnauthorized:
		return dErrors.New(dErrors.CodeUnauthorized, detail)
	case http.StatusForbidden:
		return dErrors.New(dErrors.CodeForbidden, detail)
	case http.StatusBadRequest:
		return dErrors.New(dErrors.CodeBadRequest, detail)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend returned %d: %s: %w", resp.StatusCode, detail, sentinel.ErrUnavailable)
	}
	return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, detail))
}

func parseETag(v string) (int64, error) {
	version, err := privatedata.ParseETag(v)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "backend sent an invalid ETag")
	}
	return version, nil
}
