package domain

import (
	"encoding/json"
	"fmt"
)

type EventType int

const (
	EventUnknown EventType = 0

	EventOpenSpeaker              EventType = 11
	EventCloseSpeaker             EventType = 12
	EventSpeakerOpened            EventType = 13
	EventSpeakerClosed            EventType = 14
	EventNotifyOpenSpeakerResult  EventType = 15
	EventNotifyCloseSpeakerResult EventType = 16
	EventSpeakerError             EventType = 17

	EventOpenMic              EventType = 21
	EventCloseMic             EventType = 22
	EventMicOpened            EventType = 23
	EventMicClosed            EventType = 24
	EventNotifyOpenMicResult  EventType = 25
	EventNotifyCloseMicResult EventType = 26
	EventMicError             EventType = 27

	EventVolumeSet     EventType = 31
	EventVolumeGet     EventType = 32
	EventVolumeChange  EventType = 33
	EventVolumeMuteSet EventType = 34

	EventFocusChange       EventType = 41
	EventRenderStateChange EventType = 42

	EventCtrlOpened EventType = 51
	EventCtrlClosed EventType = 52
	EventDataOpened EventType = 53
	EventDataClosed EventType = 54
)

var eventNames = map[EventType]string{
	EventOpenSpeaker:              "OPEN_SPEAKER",
	EventCloseSpeaker:             "CLOSE_SPEAKER",
	EventSpeakerOpened:            "SPEAKER_OPENED",
	EventSpeakerClosed:            "SPEAKER_CLOSED",
	EventNotifyOpenSpeakerResult:  "NOTIFY_OPEN_SPEAKER_RESULT",
	EventNotifyCloseSpeakerResult: "NOTIFY_CLOSE_SPEAKER_RESULT",
	EventSpeakerError:             "SPEAKER_ERROR",
	EventOpenMic:                  "OPEN_MIC",
	EventCloseMic:                 "CLOSE_MIC",
	EventMicOpened:                "MIC_OPENED",
	EventMicClosed:                "MIC_CLOSED",
	EventNotifyOpenMicResult:      "NOTIFY_OPEN_MIC_RESULT",
	EventNotifyCloseMicResult:     "NOTIFY_CLOSE_MIC_RESULT",
	EventMicError:                 "MIC_ERROR",
	EventVolumeSet:                "VOLUME_SET",
	EventVolumeGet:                "VOLUME_GET",
	EventVolumeChange:             "VOLUME_CHANGE",
	EventVolumeMuteSet:            "VOLUME_MUTE_SET",
	EventFocusChange:              "AUDIO_FOCUS_CHANGE",
	EventRenderStateChange:        "AUDIO_RENDER_STATE_CHANGE",
	EventCtrlOpened:               "CTRL_OPENED",
	EventCtrlClosed:               "CTRL_CLOSED",
	EventDataOpened:               "DATA_OPENED",
	EventDataClosed:               "DATA_CLOSED",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(%d)", int(t))
}

// AudioEvent is the unit exchanged on the control channel.
// It is a value type; copies never alias.
type AudioEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

func NewEvent(t EventType, content string) AudioEvent {
	return AudioEvent{Type: t, Content: content}
}

// NewEventWith encodes payload as the event content.
func NewEventWith(t EventType, payload any) (AudioEvent, error) {
	content, err := EncodeContent(payload)
	if err != nil {
		return AudioEvent{}, err
	}
	return AudioEvent{Type: t, Content: content}, nil
}

// MarshalEvent produces the control-channel wire message.
func MarshalEvent(ev AudioEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent parses a control-channel message. Any parse failure is ErrMalformed.
func UnmarshalEvent(data []byte) (AudioEvent, error) {
	var ev AudioEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return AudioEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Type == EventUnknown {
		return AudioEvent{}, fmt.Errorf("%w: missing event type", ErrMalformed)
	}
	return ev, nil
}
