package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wwwallet/internal/privatedata/client"
	"wwwallet/pkg/platform/sentinel"
)

// HTTPLegacyBackend reads the legacy endpoints of the wallet backend.
type HTTPLegacyBackend struct {
	baseURL string
	http    *http.Client
	token   client.TokenSource
}

func NewHTTPLegacyBackend(baseURL string, token client.TokenSource) *HTTPLegacyBackend {
	return &HTTPLegacyBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
}

func (b *HTTPLegacyBackend) ListCredentials(ctx context.Context) ([]LegacyCredential, error) {
	var body struct {
		VCList []LegacyCredential `json:"vc_list"`
	}
	if err := b.do(ctx, http.MethodGet, "/storage/vc", &body); err != nil {
		return nil, err
	}
	return body.VCList, nil
}

func (b *HTTPLegacyBackend) DeleteCredential(ctx context.Context, credentialIdentifier string) error {
	return b.do(ctx, http.MethodDelete, "/storage/vc/"+url.PathEscape(credentialIdentifier), nil)
}

// AccountSettings returns the legacy settings object. Non-string values are
// kept in their JSON form.
func (b *HTTPLegacyBackend) AccountSettings(ctx context.Context) (map[string]string, error) {
	var body struct {
		Settings map[string]json.RawMessage `json:"settings"`
	}
	if err := b.do(ctx, http.MethodGet, "/user/session/account-info", &body); err != nil {
		return nil, err
	}
	settings := make(map[string]string, len(body.Settings))
	for k, raw := range body.Settings {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			settings[k] = s
			continue
		}
		if string(raw) == "null" {
			continue
		}
		settings[k] = string(raw)
	}
	return settings, nil
}

func (b *HTTPLegacyBackend) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if b.token != nil {
		token, err := b.token(ctx)
		if err != nil {
			return fmt.Errorf("obtain access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s returned %d: %w", method, path, resp.StatusCode, sentinel.ErrUnavailable)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
