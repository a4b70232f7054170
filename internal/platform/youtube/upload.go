package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

// upload is one resumable upload session. retries is shared by the
// initiation request and every chunk.
type upload struct {
	adapter *Adapter
	path    string
	size    int64
	retries int
}

func (u *upload) initiate(ctx context.Context, meta videoResource) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", platform.Validation(domain.PlatformYouTube, "initiate", "failed to encode metadata", err)
	}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			u.adapter.cfg.UploadURL+"?uploadType=resumable&part=snippet,status", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to build initiation request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(u.size, 10))
		req.Header.Set("X-Upload-Content-Type", "video/*")

		resp, err := u.adapter.client.Do(req)
		if err != nil {
			terr := u.adapter.transportError("initiate", err)
			if platform.KindOf(terr) != platform.KindTransient {
				return "", terr
			}
			if err := u.backoff(ctx, 0, terr); err != nil {
				return "", err
			}
			continue
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			resp.Body.Close()
			location := resp.Header.Get("Location")
			if location == "" {
				return "", platform.Rejected(domain.PlatformYouTube, "initiate", "upload session has no location", nil)
			}
			return location, nil
		}

		if err := u.handleFailure(ctx, "initiate", resp); err != nil {
			return "", err
		}
	}
}

func (u *upload) send(ctx context.Context, sessionURI string) (string, error) {
	f, err := os.Open(u.path)
	if err != nil {
		return "", platform.Validation(domain.PlatformYouTube, "upload", "failed to open video file", err)
	}
	defer f.Close()

	var offset int64
	for {
		end := offset + u.adapter.cfg.ChunkSize
		if end > u.size {
			end = u.size
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI,
			io.NewSectionReader(f, offset, end-offset))
		if err != nil {
			return "", fmt.Errorf("failed to build chunk request: %w", err)
		}
		req.ContentLength = end - offset
		req.Header.Set("Content-Type", "video/*")
		if u.size > 0 {
			req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, u.size))
		}

		resp, err := u.adapter.client.Do(req)
		if err != nil {
			terr := u.adapter.transportError("upload", err)
			if platform.KindOf(terr) != platform.KindTransient {
				return "", terr
			}
			if err := u.backoff(ctx, 0, terr); err != nil {
				return "", err
			}
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			var video uploadResponse
			err := json.NewDecoder(resp.Body).Decode(&video)
			resp.Body.Close()
			if err != nil || video.ID == "" {
				return "", platform.Rejected(domain.PlatformYouTube, "upload", "upload response has no video id", err)
			}
			return video.ID, nil

		case http.StatusPermanentRedirect:
			next, ok := parseRange(resp.Header.Get("Range"))
			resp.Body.Close()
			if !ok {
				next = 0
			}
			if next <= offset {
				// no bytes persisted since the last chunk
				stalled := platform.Transient(domain.PlatformYouTube, "upload",
					fmt.Sprintf("upload did not advance past byte %d", offset), nil)
				if err := u.backoff(ctx, 0, stalled); err != nil {
					return "", err
				}
			}
			offset = next
			u.adapter.logger.Debug("Chunk accepted",
				slog.Int64("offset", offset),
				slog.Int64("size", u.size),
			)

		default:
			if err := u.handleFailure(ctx, "upload", resp); err != nil {
				return "", err
			}
		}
	}
}

// handleFailure closes resp and either waits for the next retry or returns the terminal error
func (u *upload) handleFailure(ctx context.Context, op string, resp *http.Response) error {
	defer resp.Body.Close()

	err := u.adapter.statusError(op, resp)
	switch resp.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return u.backoff(ctx, 0, err)
	case http.StatusTooManyRequests:
		return u.backoff(ctx, time.Minute, err)
	default:
		return err
	}
}

// backoff consumes one retry. A zero step sleeps 2^retry seconds, otherwise step*retry.
func (u *upload) backoff(ctx context.Context, step time.Duration, cause error) error {
	u.retries++
	if u.retries > u.adapter.cfg.MaxRetries {
		return platform.Transient(domain.PlatformYouTube, "upload",
			fmt.Sprintf("retries exhausted after %d attempts", u.adapter.cfg.MaxRetries), cause)
	}

	wait := time.Duration(1<<u.retries) * time.Second
	if step > 0 {
		wait = step * time.Duration(u.retries)
	}

	u.adapter.logger.Warn("Retrying upload request",
		slog.Int("retry", u.retries),
		slog.Duration("wait", wait),
		slog.String("error", cause.Error()),
	)
	return u.adapter.sleep(ctx, wait)
}
