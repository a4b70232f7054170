package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PublishOptions is the caller's per-job publish intent. Unset fields fall
// back to the adapter configuration. Stored as a JSON object.
type PublishOptions struct {
	Privacy        string `json:"privacy,omitempty"`
	AsClip         *bool  `json:"as_clip,omitempty"`
	DisableDuet    *bool  `json:"disable_duet,omitempty"`
	DisableComment *bool  `json:"disable_comment,omitempty"`
	DisableStitch  *bool  `json:"disable_stitch,omitempty"`
}

// Value implements driver.Valuer
func (o PublishOptions) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal publish options: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (o *PublishOptions) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*o = PublishOptions{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported options column type %T", src)
	}

	var opts PublishOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return fmt.Errorf("failed to unmarshal publish options: %w", err)
	}
	*o = opts
	return nil
}
