package repositories

import "context"

// SpeechToText abstracts streaming speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming opens a recognizer stream for one call
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// TelephonyAudioConfig is what a phone leg carries: 8kHz mu-law mono
var TelephonyAudioConfig = AudioConfig{
	SampleRate: 8000,
	Encoding:   "MULAW",
	Language:   "en-US",
}

// TranscriptFragment is one recognizer result
type TranscriptFragment struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type SpeechToTextStreaming interface {
	// Stream forwards one raw audio frame
	Stream(data []byte) error
	// Results emits fragments until the stream ends; it is closed afterwards
	Results() <-chan TranscriptFragment
	// Close signals end of audio and releases the stream
	Close() error
}
