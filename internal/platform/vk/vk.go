// Package vk publishes videos and clips through the VK API.
package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

const (
	DefaultAPIURL     = "https://api.vk.com/method"
	DefaultAPIVersion = "5.131"

	// VK allows three API calls per second per user token
	DefaultRatePerSecond = 3.0

	maxNameLen        = 128
	maxDescriptionLen = 5000
)

// VK API error codes with special handling
const (
	codeAuthFailed      = 5
	codeTooManyRequests = 6
	codeFloodControl    = 9
	codeInternalError   = 10
)

// Config holds VK credentials and publish defaults
type Config struct {
	AccessToken    string
	GroupID        int64
	DefaultPrivacy string
	AsClip         bool
	Wallpost       bool
	APIURL         string
	APIVersion     string
	RatePerSecond  float64
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.DefaultPrivacy == "" {
		c.DefaultPrivacy = "private"
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
}

// Option customizes an Adapter
type Option func(*Adapter)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// Adapter implements platform.Adapter for VK
type Adapter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a VK adapter
func New(cfg Config, logger *slog.Logger, opts ...Option) *Adapter {
	cfg.applyDefaults()

	a := &Adapter{
		cfg:     cfg,
		client:  http.DefaultClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  logger.With(slog.String("platform", string(domain.PlatformVK))),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements platform.Adapter
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformVK
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *apiError       `json:"error"`
}

// call invokes an API method and decodes the response field into out
func (a *Adapter) call(ctx context.Context, method string, params url.Values, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("access_token", a.cfg.AccessToken)
	params.Set("v", a.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL+"/"+method,
		strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return transportError(method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return platform.FromHTTPStatus(domain.PlatformVK, method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return platform.Transient(domain.PlatformVK, method, "malformed response", err)
	}
	if env.Error != nil {
		a.logger.Error("VK API error",
			slog.String("method", method),
			slog.Int("error_code", env.Error.Code),
			slog.String("error_msg", env.Error.Message),
		)
		return classifyAPIError(method, env.Error)
	}

	if out == nil || len(env.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return platform.Rejected(domain.PlatformVK, method, "unexpected response shape", err)
	}
	return nil
}

func classifyAPIError(method string, apiErr *apiError) error {
	msg := fmt.Sprintf("VK API error %d: %s", apiErr.Code, apiErr.Message)

	var e *platform.Error
	switch apiErr.Code {
	case codeAuthFailed:
		e = platform.Auth(domain.PlatformVK, method, msg, nil)
	case codeTooManyRequests, codeFloodControl, codeInternalError:
		e = platform.Transient(domain.PlatformVK, method, msg, nil)
	default:
		e = platform.Rejected(domain.PlatformVK, method, msg, nil)
	}
	e.Code = strconv.Itoa(apiErr.Code)
	return e
}

func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return platform.Transient(domain.PlatformVK, op, "request failed", err)
}

type videoInfo struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	Title     string `json:"title"`
	Duration  int64  `json:"duration"`
	Views     int64  `json:"views"`
	Player    string `json:"player"`
	IsPrivate int    `json:"is_private"`
}

type videoGetResponse struct {
	Count int         `json:"count"`
	Items []videoInfo `json:"items"`
}

// GetStatus reports whether VK finished processing the video. The id is "{owner_id}_{video_id}".
func (a *Adapter) GetStatus(ctx context.Context, platformJobID string) (*platform.Status, error) {
	params := url.Values{}
	params.Set("videos", platformJobID)

	var resp videoGetResponse
	if err := a.call(ctx, "video.get", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, platform.NotFound(domain.PlatformVK, "video.get", fmt.Sprintf("video %s not found", platformJobID))
	}

	v := resp.Items[0]
	state := platform.StatusProcessing
	if v.Player != "" {
		state = "ready"
	}
	privacy := "public"
	if v.IsPrivate != 0 {
		privacy = "private"
	}

	return &platform.Status{
		PlatformJobID: platformJobID,
		State:         state,
		Detail: map[string]any{
			"title":    v.Title,
			"duration": v.Duration,
			"views":    v.Views,
			"privacy":  privacy,
		},
	}, nil
}
