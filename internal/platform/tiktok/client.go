package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

var tokenErrorCodes = map[string]bool{
	"access_token_invalid": true,
	"access_token_expired": true,
	"invalid_token":        true,
	"token_expired":        true,
	"unauthorized":         true,
}

// isTokenError reports whether an API error code means the access token was rejected
func isTokenError(code string) bool {
	return tokenErrorCodes[code] || strings.Contains(strings.ToLower(code), "token")
}

// isOKCode reports whether an error envelope code means success.
// TikTok returns {"error":{"code":"ok"}} on successful calls.
func isOKCode(code string) bool {
	switch strings.ToLower(code) {
	case "ok", "success", "0", "200", "":
		return true
	}
	return false
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

// requestFunc builds a request carrying the given access token
type requestFunc func(ctx context.Context, accessToken string) (*http.Request, error)

// do sends the request and decodes the envelope. On a token error it refreshes
// the credential and replays once with retryOnTokenError disabled.
func (a *Adapter) do(ctx context.Context, op string, build requestFunc, retryOnTokenError bool) (*envelope, error) {
	token := a.session.AccessToken()

	req, err := build(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, platform.Transient(domain.PlatformTikTok, op, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, platform.Transient(domain.PlatformTikTok, op, "failed to read response", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && decodeErr != nil {
		return nil, platform.Rejected(domain.PlatformTikTok, op, "malformed response", decodeErr)
	}
	if ok && (env.Error == nil || isOKCode(env.Error.Code)) {
		return &env, nil
	}

	if decodeErr != nil || env.Error == nil {
		return nil, platform.FromHTTPStatus(domain.PlatformTikTok, op, resp.StatusCode, truncateBody(raw))
	}

	apiErr := env.Error
	tokenErr := isTokenError(apiErr.Code)

	a.logger.Error("TikTok API error response",
		slog.String("op", op),
		slog.Int("status_code", resp.StatusCode),
		slog.String("error_code", apiErr.Code),
		slog.String("error_message", apiErr.Message),
		slog.String("log_id", apiErr.LogID),
		slog.Bool("is_token_error", tokenErr),
	)

	if tokenErr {
		authErr := platform.Auth(domain.PlatformTikTok, op,
			fmt.Sprintf("access token rejected: %s - %s", apiErr.Code, apiErr.Message), nil)
		authErr.StatusCode = resp.StatusCode
		authErr.Code = apiErr.Code

		if !retryOnTokenError || !a.session.HasRefreshToken() {
			return nil, authErr
		}
		if err := a.session.Refresh(ctx, token); err != nil {
			a.logger.Error("Token refresh failed, giving up", slog.String("error", err.Error()))
			return nil, authErr
		}

		a.logger.Info("Token refreshed, replaying request", slog.String("op", op))
		return a.do(ctx, op, build, false)
	}

	return nil, classifyAPIError(op, resp.StatusCode, apiErr)
}

func classifyAPIError(op string, status int, apiErr *apiError) *platform.Error {
	msg := fmt.Sprintf("TikTok API error: %s - %s", apiErr.Code, apiErr.Message)

	var e *platform.Error
	switch {
	case status == http.StatusTooManyRequests || status >= 500 ||
		apiErr.Code == "rate_limit_exceeded" || apiErr.Code == "internal_error":
		e = platform.Transient(domain.PlatformTikTok, op, msg, nil)
	case status == http.StatusUnauthorized:
		e = platform.Auth(domain.PlatformTikTok, op, msg, nil)
	default:
		e = platform.Rejected(domain.PlatformTikTok, op, msg, nil)
	}
	if status < 200 || status >= 300 {
		e.StatusCode = status
	}
	e.Code = apiErr.Code
	return e
}

func truncateBody(raw []byte) string {
	return platform.Truncate(strings.TrimSpace(string(raw)), 500)
}
