// Package platform defines the contract every publishing destination implements
// and the error taxonomy adapters use to classify failures.
package platform

import (
	"context"
	"fmt"
	"os"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// Adapter uploads one video to one platform
type Adapter interface {
	Platform() domain.Platform
	Publish(ctx context.Context, req PublishRequest) (*Result, error)
	GetStatus(ctx context.Context, platformJobID string) (*Status, error)
}

// PublishRequest describes a single upload
type PublishRequest struct {
	VideoPath   string
	Title       string
	Description string
	Tags        []string
	Options     Options
}

// Options carries per-call publish intent. Zero values fall back to adapter defaults.
type Options struct {
	Privacy        string
	AsClip         *bool
	DisableDuet    *bool
	DisableComment *bool
	DisableStitch  *bool
}

// Result is the normalized outcome of a successful upload
type Result struct {
	PlatformJobID string
	PublicURL     string
	Status        string
	// Provisional is set when the platform has not confirmed PublicURL yet
	Provisional bool
}

// Status is the normalized processing state reported by a platform
type Status struct {
	PlatformJobID string
	State         string
	Detail        map[string]any
}

// Upload states reported in Result.Status
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
)

// NoSizeLimit disables the file size precondition
const NoSizeLimit int64 = 0

// CheckFile verifies the file exists and does not exceed maxSize. It returns the file size.
func CheckFile(p domain.Platform, path string, maxSize int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, Validation(p, "check_file", fmt.Sprintf("video file not found: %s", path), err)
	}
	if info.IsDir() {
		return 0, Validation(p, "check_file", fmt.Sprintf("video path is a directory: %s", path), nil)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return 0, Validation(p, "check_file", fmt.Sprintf("video file too large: %d bytes (max %d)", info.Size(), maxSize), nil)
	}
	return info.Size(), nil
}

// BoolOr dereferences b or returns def
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
