package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuongbtq/fanout-publisher/internal/credential"
)

type tokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenResponse struct {
	tokenData
	Data             *tokenData      `json:"data"`
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// TokenExchanger refreshes TikTok access tokens. It implements credential.Refresher.
type TokenExchanger struct {
	clientKey    string
	clientSecret string
	tokenURL     string
	client       *http.Client
}

// NewTokenExchanger creates an exchanger posting to tokenURL
func NewTokenExchanger(clientKey, clientSecret, tokenURL string, client *http.Client) *TokenExchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenExchanger{
		clientKey:    clientKey,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		client:       client,
	}
}

// Refresh implements credential.Refresher
func (t *TokenExchanger) Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error) {
	form := url.Values{}
	form.Set("client_key", t.clientKey)
	form.Set("client_secret", t.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var body tokenResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("malformed token response (status %d): %w", resp.StatusCode, err)
	}

	if code := errorCode(body.Error); code != "" {
		return nil, fmt.Errorf("token refresh rejected: %s: %s", code, body.ErrorDescription)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
	}

	data := body.tokenData
	if body.Data != nil {
		data = *body.Data
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("no access token in refresh response")
	}

	return &credential.Credential{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
	}, nil
}

// errorCode extracts the error code from either a string or an {"code": ...} object
func errorCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj apiError
	if json.Unmarshal(raw, &obj) == nil && !isOKCode(obj.Code) {
		return obj.Code
	}
	return ""
}
