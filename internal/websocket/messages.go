package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType is the event name of a media stream message
type EventType string

// Media stream events
const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
	EventClear     EventType = "clear"
)

// StreamTokenParameter is the custom parameter carrying the stream JWT
const StreamTokenParameter = "token"

// InboundMessage is one event received from the telephony media stream
type InboundMessage struct {
	Event          EventType     `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload describes the stream once the call is connected
type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat is the audio format of inbound media
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 encoded audio frame
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a playback marker
type MarkPayload struct {
	Name string `json:"name"`
}

// Decode returns the raw audio bytes of the frame
func (m *MediaPayload) Decode() ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid media payload: %w", err)
	}
	return audio, nil
}

// outboundMedia is audio sent back for playback
type outboundMedia struct {
	Event     EventType         `json:"event"`
	StreamSid string            `json:"streamSid"`
	Media     outboundMediaBody `json:"media"`
}

type outboundMediaBody struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     EventType   `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

type outboundClear struct {
	Event     EventType `json:"event"`
	StreamSid string    `json:"streamSid"`
}

// MessageValidator parses and checks inbound media stream events
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an inbound event and checks the fields its type requires
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch msg.Event {
	case EventConnected, EventStop:
		return &msg, nil

	case EventStart:
		if msg.Start == nil {
			return nil, fmt.Errorf("start event without start payload")
		}
		if msg.Start.StreamSid == "" {
			msg.Start.StreamSid = msg.StreamSid
		}
		if msg.Start.StreamSid == "" {
			return nil, fmt.Errorf("streamSid is required")
		}
		return &msg, nil

	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, fmt.Errorf("media event without payload")
		}
		return &msg, nil

	case EventMark:
		if msg.Mark == nil || msg.Mark.Name == "" {
			return nil, fmt.Errorf("mark event without name")
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported event: %q", msg.Event)
	}
}

// CreateMediaMessage creates an outbound media event for one audio chunk
func CreateMediaMessage(streamSid string, audio []byte) ([]byte, error) {
	return json.Marshal(outboundMedia{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     outboundMediaBody{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
}

// CreateMarkMessage creates an outbound mark that is echoed back once playback reaches it
func CreateMarkMessage(streamSid, name string) ([]byte, error) {
	return json.Marshal(outboundMark{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      MarkPayload{Name: name},
	})
}

// CreateClearMessage creates the event that flushes buffered playback
func CreateClearMessage(streamSid string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: EventClear, StreamSid: streamSid})
}
