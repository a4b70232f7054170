// Package tiktok publishes videos through the TikTok Content Posting API.
//
// Access tokens are short lived. The adapter re-reads the persisted credential
// before every call and refreshes it once when the API rejects the token.
package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cuongbtq/fanout-publisher/internal/credential"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

const (
	DefaultAPIURL  = "https://open.tiktokapis.com"
	DefaultAccount = "tiktok:default"

	// MaxFileSize is the Content Posting API limit for a single upload
	MaxFileSize int64 = 4 * 1024 * 1024 * 1024

	maxCaptionLen  = 2200
	defaultCaption = "Video"
)

// Config holds the TikTok app settings and publish defaults
type Config struct {
	ClientKey      string
	ClientSecret   string
	APIURL         string
	DefaultPrivacy string
	DisableDuet    bool
	DisableComment bool
	DisableStitch  bool
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.DefaultPrivacy == "" {
		c.DefaultPrivacy = "SELF_ONLY"
	}
}

// TokenURL returns the OAuth token endpoint for the configured API
func (c Config) TokenURL() string {
	base := c.APIURL
	if base == "" {
		base = DefaultAPIURL
	}
	return strings.TrimRight(base, "/") + "/v2/oauth/token/"
}

// Option customizes an Adapter
type Option func(*Adapter)

// WithHTTPClient sets the HTTP client for API calls and uploads
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// Adapter implements platform.Adapter for TikTok
type Adapter struct {
	cfg     Config
	session *credential.Session
	client  *http.Client
	logger  *slog.Logger
}

// New creates a TikTok adapter bound to a credential session
func New(cfg Config, session *credential.Session, logger *slog.Logger, opts ...Option) *Adapter {
	cfg.applyDefaults()

	a := &Adapter{
		cfg:     cfg,
		session: session,
		client:  http.DefaultClient,
		logger:  logger.With(slog.String("platform", string(domain.PlatformTikTok))),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements platform.Adapter
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformTikTok
}

type postInfo struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableDuet    bool   `json:"disable_duet"`
	DisableComment bool   `json:"disable_comment"`
	DisableStitch  bool   `json:"disable_stitch"`
}

type sourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int    `json:"total_chunk_count"`
}

type initData struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

// Publish initializes a FILE_UPLOAD post and sends the whole file in one PUT.
// TikTok processes the post asynchronously so the returned URL is provisional.
func (a *Adapter) Publish(ctx context.Context, req platform.PublishRequest) (*platform.Result, error) {
	size, err := platform.CheckFile(domain.PlatformTikTok, req.VideoPath, MaxFileSize)
	if err != nil {
		return nil, err
	}

	if err := a.reload(ctx); err != nil {
		return nil, err
	}

	privacy := req.Options.Privacy
	if privacy == "" {
		privacy = a.cfg.DefaultPrivacy
	}

	post := postInfo{
		Title:          Caption(req.Title, req.Description),
		PrivacyLevel:   privacy,
		DisableDuet:    platform.BoolOr(req.Options.DisableDuet, a.cfg.DisableDuet),
		DisableComment: platform.BoolOr(req.Options.DisableComment, a.cfg.DisableComment),
		DisableStitch:  platform.BoolOr(req.Options.DisableStitch, a.cfg.DisableStitch),
	}
	source := sourceInfo{
		Source:          "FILE_UPLOAD",
		VideoSize:       size,
		ChunkSize:       size,
		TotalChunkCount: 1,
	}

	a.logger.Info("Starting upload",
		slog.String("file", req.VideoPath),
		slog.Int64("size", size),
		slog.String("privacy_level", privacy),
		slog.Int("caption_length", len([]rune(post.Title))),
	)

	slot, err := a.initUpload(ctx, post, source)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Got upload URL", slog.String("publish_id", slot.PublishID))

	if err := a.uploadFile(ctx, slot.UploadURL, req.VideoPath, size); err != nil {
		return nil, err
	}

	a.logger.Info("Upload completed",
		slog.String("publish_id", slot.PublishID),
		slog.String("status", platform.StatusProcessing),
	)

	return &platform.Result{
		PlatformJobID: slot.PublishID,
		PublicURL:     "https://www.tiktok.com/@me/video/" + slot.PublishID,
		Status:        platform.StatusProcessing,
		Provisional:   true,
	}, nil
}

func (a *Adapter) initUpload(ctx context.Context, post postInfo, source sourceInfo) (*initData, error) {
	postJSON, err := json.Marshal(post)
	if err != nil {
		return nil, platform.Validation(domain.PlatformTikTok, "init", "failed to encode post_info", err)
	}
	sourceJSON, err := json.Marshal(source)
	if err != nil {
		return nil, platform.Validation(domain.PlatformTikTok, "init", "failed to encode source_info", err)
	}

	form := url.Values{}
	form.Set("post_info", string(postJSON))
	form.Set("source_info", string(sourceJSON))
	body := form.Encode()

	env, err := a.do(ctx, "init", func(ctx context.Context, token string) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.cfg.APIURL+"/v2/post/publish/video/init/", strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r, nil
	}, true)
	if err != nil {
		return nil, err
	}

	var data initData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, platform.Rejected(domain.PlatformTikTok, "init", "unexpected response shape", err)
		}
	}
	if data.UploadURL == "" || data.PublishID == "" {
		return nil, platform.Rejected(domain.PlatformTikTok, "init", "no upload URL in response", nil)
	}
	return &data, nil
}

func (a *Adapter) uploadFile(ctx context.Context, uploadURL, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return platform.Validation(domain.PlatformTikTok, "upload", "failed to open video file", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return platform.Transient(domain.PlatformTikTok, "upload", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return platform.FromHTTPStatus(domain.PlatformTikTok, "upload", resp.StatusCode, truncateBody(raw))
	}
	return nil
}

type statusData struct {
	Status                   string   `json:"status"`
	FailReason               string   `json:"fail_reason"`
	PubliclyAvailablePostIDs []string `json:"publicaly_available_post_id"`
}

// GetStatus fetches the post processing state
func (a *Adapter) GetStatus(ctx context.Context, publishID string) (*platform.Status, error) {
	if err := a.reload(ctx); err != nil {
		return nil, err
	}

	endpoint := a.cfg.APIURL + "/v2/post/publish/status/" + url.PathEscape(publishID) + "/"
	env, err := a.do(ctx, "get_status", func(ctx context.Context, token string) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+token)
		return r, nil
	}, true)
	if err != nil {
		return nil, err
	}

	var data statusData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, platform.Rejected(domain.PlatformTikTok, "get_status", "unexpected response shape", err)
		}
	}

	state := platform.StatusProcessing
	switch data.Status {
	case "PUBLISH_COMPLETE":
		state = "ready"
	case "FAILED":
		state = "failed"
	case "":
		state = "unknown"
	}

	return &platform.Status{
		PlatformJobID: publishID,
		State:         state,
		Detail: map[string]any{
			"status":                      data.Status,
			"fail_reason":                 data.FailReason,
			"publicaly_available_post_id": data.PubliclyAvailablePostIDs,
		},
	}, nil
}

// reload picks up credentials refreshed by other workers
func (a *Adapter) reload(ctx context.Context) error {
	if err := a.session.Reload(ctx); err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return platform.Auth(domain.PlatformTikTok, "load_credential",
				fmt.Sprintf("no credential stored for %s", a.session.Account()), err)
		}
		return err
	}
	return nil
}

// Caption joins title and description the way the post_info title field expects
func Caption(title, description string) string {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)

	caption := title
	if description != "" {
		if caption != "" {
			caption += "\n\n"
		}
		caption += description
	}
	if caption == "" {
		caption = defaultCaption
	}
	return platform.TruncateWithEllipsis(caption, maxCaptionLen)
}
