// Package youtube publishes videos through the YouTube Data API resumable upload protocol.
package youtube

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
	"time"

	"golang.org/x/oauth2"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

const (
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"
	DefaultAPIURL    = "https://www.googleapis.com/youtube/v3"

	DefaultChunkSize  int64 = 10 * 1024 * 1024
	DefaultMaxRetries       = 5

	uploadScope = "https://www.googleapis.com/auth/youtube.upload"
	watchURL    = "https://www.youtube.com/watch?v="
	categoryID  = "22"

	maxTitleLen       = 100
	maxDescriptionLen = 5000
)

// Config holds the OAuth client and endpoint settings
type Config struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	TokenURL       string
	UploadURL      string
	APIURL         string
	DefaultPrivacy string
	ChunkSize      int64
	MaxRetries     int
}

func (c *Config) applyDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.UploadURL == "" {
		c.UploadURL = DefaultUploadURL
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.DefaultPrivacy == "" {
		c.DefaultPrivacy = "private"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes an Adapter
type Option func(*Adapter)

// WithHTTPClient sets the base client used for token and API requests
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.base = c }
}

// WithSleep replaces the backoff sleep
func WithSleep(fn SleepFunc) Option {
	return func(a *Adapter) { a.sleep = fn }
}

// Adapter implements platform.Adapter for YouTube
type Adapter struct {
	cfg    Config
	base   *http.Client
	client *http.Client
	sleep  SleepFunc
	logger *slog.Logger
}

// New creates a YouTube adapter. Access tokens are minted from the refresh token on demand.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Adapter {
	cfg.applyDefaults()

	a := &Adapter{
		cfg:    cfg,
		base:   http.DefaultClient,
		sleep:  sleepContext,
		logger: logger.With(slog.String("platform", string(domain.PlatformYouTube))),
	}
	for _, opt := range opts {
		opt(a)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       []string{uploadScope},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, a.base)
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	a.client = oauth2.NewClient(ctx, ts)

	return a
}

// Platform implements platform.Adapter
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformYouTube
}

type snippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId"`
}

type videoStatus struct {
	PrivacyStatus           string `json:"privacyStatus"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
}

type videoResource struct {
	Snippet snippet     `json:"snippet"`
	Status  videoStatus `json:"status"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

// Publish uploads the file in chunks and returns the watch URL
func (a *Adapter) Publish(ctx context.Context, req platform.PublishRequest) (*platform.Result, error) {
	size, err := platform.CheckFile(domain.PlatformYouTube, req.VideoPath, platform.NoSizeLimit)
	if err != nil {
		return nil, err
	}

	privacy := req.Options.Privacy
	if privacy == "" {
		privacy = a.cfg.DefaultPrivacy
	}

	meta := videoResource{
		Snippet: snippet{
			Title:       platform.Truncate(req.Title, maxTitleLen),
			Description: platform.Truncate(req.Description, maxDescriptionLen),
			Tags:        platform.CleanTags(req.Tags),
			CategoryID:  categoryID,
		},
		Status: videoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	a.logger.Info("Starting upload",
		slog.String("file", req.VideoPath),
		slog.Int64("size", size),
		slog.String("privacy", privacy),
	)

	u := &upload{adapter: a, path: req.VideoPath, size: size}

	sessionURI, err := u.initiate(ctx, meta)
	if err != nil {
		return nil, err
	}

	videoID, err := u.send(ctx, sessionURI)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Upload completed", slog.String("video_id", videoID))

	return &platform.Result{
		PlatformJobID: videoID,
		PublicURL:     watchURL + videoID,
		Status:        platform.StatusUploaded,
	}, nil
}

type statusResponse struct {
	Items []struct {
		ID     string `json:"id"`
		Status struct {
			UploadStatus  string `json:"uploadStatus"`
			PrivacyStatus string `json:"privacyStatus"`
			FailureReason string `json:"failureReason"`
		} `json:"status"`
		ProcessingDetails struct {
			ProcessingStatus string `json:"processingStatus"`
		} `json:"processingDetails"`
	} `json:"items"`
}

// GetStatus queries the processing state of an uploaded video
func (a *Adapter) GetStatus(ctx context.Context, videoID string) (*platform.Status, error) {
	q := url.Values{}
	q.Set("part", "status,processingDetails")
	q.Set("id", videoID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIURL+"/videos?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError("get_status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError("get_status", resp)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, platform.Rejected(domain.PlatformYouTube, "get_status", "malformed response", err)
	}
	if len(body.Items) == 0 {
		return nil, platform.NotFound(domain.PlatformYouTube, "get_status", fmt.Sprintf("video %s not found", videoID))
	}

	item := body.Items[0]
	return &platform.Status{
		PlatformJobID: videoID,
		State:         normalizeState(item.Status.UploadStatus, item.ProcessingDetails.ProcessingStatus),
		Detail: map[string]any{
			"upload_status":     item.Status.UploadStatus,
			"processing_status": item.ProcessingDetails.ProcessingStatus,
			"privacy_status":    item.Status.PrivacyStatus,
			"failure_reason":    item.Status.FailureReason,
		},
	}, nil
}

func normalizeState(uploadStatus, processingStatus string) string {
	switch uploadStatus {
	case "processed":
		return "ready"
	case "failed", "rejected", "deleted":
		return "failed"
	}
	if processingStatus == "succeeded" {
		return "ready"
	}
	return platform.StatusProcessing
}

// transportError classifies a failure that produced no HTTP response
func (a *Adapter) transportError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return platform.Auth(domain.PlatformYouTube, op, "failed to obtain access token", err)
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	return platform.Transient(domain.PlatformYouTube, op, "request failed", err)
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// statusError classifies a non-success response. 403 is an auth failure unless
// the reason is a quota rejection.
func (a *Adapter) statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var body apiError
	reason := ""
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
		if len(body.Error.Errors) > 0 {
			reason = body.Error.Errors[0].Reason
		}
	}

	if resp.StatusCode == http.StatusForbidden && !strings.Contains(strings.ToLower(reason), "quota") {
		e := platform.Auth(domain.PlatformYouTube, op, msg, nil)
		e.StatusCode = resp.StatusCode
		e.Code = reason
		return e
	}

	e := platform.FromHTTPStatus(domain.PlatformYouTube, op, resp.StatusCode, msg)
	e.Code = reason
	return e
}

func contextError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRange returns the next byte offset from a "bytes=0-N" Range header
func parseRange(h string) (int64, bool) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "bytes=")
	_, last, ok := strings.Cut(h, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, false
	}
	return n + 1, true
}
