package domain

import (
	"encoding/json"
	"fmt"
)

// Control event content is always a JSON object. The payload structs below
// cover the events the orchestrator produces and consumes.

// EncodeContent marshals payload into event content.
func EncodeContent(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	return string(b), nil
}

// DecodeContent parses event content into out. Unparsable content is ErrMalformed
// and leaves the caller free to ignore the event.
func DecodeContent(content string, out any) error {
	if content == "" {
		return fmt.Errorf("%w: empty content", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// OpenPayload is carried by OPEN_MIC / OPEN_SPEAKER.
type OpenPayload struct {
	DhID  string     `json:"dhId"`
	Param AudioParam `json:"param"`
}

// ResultPayload is carried by NOTIFY_*_RESULT and lifecycle events.
type ResultPayload struct {
	DhID   string `json:"dhId"`
	Result int    `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// VolumePayload is carried by VOLUME_SET / VOLUME_MUTE_SET / VOLUME_CHANGE.
type VolumePayload struct {
	DhID       string `json:"dhId"`
	GroupID    int    `json:"volumeGroupId"`
	VolumeType int    `json:"audioVolumeType"`
	Level      int    `json:"level"`
	Mute       bool   `json:"mute"`
}

const (
	ResultOK     = 0
	ResultFailed = -1
)
