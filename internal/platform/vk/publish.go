package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

type saveResponse struct {
	UploadURL string `json:"upload_url"`
	VideoID   int64  `json:"video_id"`
	OwnerID   int64  `json:"owner_id"`
}

// Publish reserves a video slot, uploads the file and optionally converts it to a clip
func (a *Adapter) Publish(ctx context.Context, req platform.PublishRequest) (*platform.Result, error) {
	size, err := platform.CheckFile(domain.PlatformVK, req.VideoPath, platform.NoSizeLimit)
	if err != nil {
		return nil, err
	}

	privacy := req.Options.Privacy
	if privacy == "" {
		privacy = a.cfg.DefaultPrivacy
	}
	asClip := platform.BoolOr(req.Options.AsClip, a.cfg.AsClip)

	a.logger.Info("Starting upload",
		slog.String("file", req.VideoPath),
		slog.Int64("size", size),
		slog.String("privacy", privacy),
		slog.Bool("as_clip", asClip),
	)

	slot, err := a.save(ctx, req, privacy != "public")
	if err != nil {
		return nil, err
	}

	a.logger.Info("Got upload URL",
		slog.Int64("video_id", slot.VideoID),
		slog.Int64("owner_id", slot.OwnerID),
	)

	if err := a.uploadFile(ctx, slot.UploadURL, req.VideoPath); err != nil {
		return nil, err
	}

	if asClip {
		a.convertToClip(ctx, slot)
	}

	id := fmt.Sprintf("%d_%d", slot.OwnerID, slot.VideoID)
	publicURL := "https://vk.com/video" + id

	a.logger.Info("Upload completed",
		slog.String("platform_job_id", id),
		slog.String("public_url", publicURL),
	)

	return &platform.Result{
		PlatformJobID: id,
		PublicURL:     publicURL,
		Status:        platform.StatusUploaded,
	}, nil
}

func (a *Adapter) save(ctx context.Context, req platform.PublishRequest, private bool) (*saveResponse, error) {
	params := url.Values{}
	params.Set("name", platform.Truncate(req.Title, maxNameLen))
	params.Set("description", platform.Truncate(req.Description, maxDescriptionLen))
	params.Set("is_private", boolParam(private))
	params.Set("wallpost", boolParam(a.cfg.Wallpost))
	if a.cfg.GroupID != 0 {
		params.Set("group_id", strconv.FormatInt(a.cfg.GroupID, 10))
	}

	var slot saveResponse
	if err := a.call(ctx, "video.save", params, &slot); err != nil {
		return nil, err
	}
	if slot.UploadURL == "" {
		return nil, platform.Rejected(domain.PlatformVK, "video.save", "no upload URL in response", nil)
	}
	return &slot, nil
}

// uploadFile streams the file as multipart form field video_file
func (a *Adapter) uploadFile(ctx context.Context, uploadURL, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return platform.Validation(domain.PlatformVK, "upload", "failed to open video file", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("video_file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		pr.Close()
		return transportError("upload", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return platform.FromHTTPStatus(domain.PlatformVK, "upload", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return platform.Transient(domain.PlatformVK, "upload", "malformed upload response", err)
	}
	if e, ok := result["error"]; ok {
		return platform.Rejected(domain.PlatformVK, "upload", fmt.Sprintf("upload error: %v", e), nil)
	}
	return nil
}

// convertToClip is best effort. The video stays a regular video when clips.add fails.
func (a *Adapter) convertToClip(ctx context.Context, slot *saveResponse) {
	params := url.Values{}
	params.Set("video_id", strconv.FormatInt(slot.VideoID, 10))
	params.Set("owner_id", strconv.FormatInt(slot.OwnerID, 10))

	if err := a.call(ctx, "clips.add", params, nil); err != nil {
		a.logger.Warn("Failed to convert to clip, keeping as regular video",
			slog.Int64("video_id", slot.VideoID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("Video converted to clip", slog.Int64("video_id", slot.VideoID))
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
