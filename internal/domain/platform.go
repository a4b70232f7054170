package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Platform identifies a publishing destination
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformVK      Platform = "vk"
	PlatformTikTok  Platform = "tiktok"
)

// Platforms returns every supported platform
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformVK, PlatformTikTok}
}

// ParsePlatform converts a user supplied name into a Platform
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, s)
}

func (p Platform) String() string {
	return string(p)
}

// Tags is an ordered list of tags stored as a JSON array
type Tags []string

// Value implements driver.Valuer. The JSON is sent as text so lib/pq does not
// encode it as a binary parameter.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (t *Tags) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported tags column type %T", src)
	}

	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	*t = tags
	return nil
}
