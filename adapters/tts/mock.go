package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

// mulawSilence is the mu-law byte for a zero sample
const mulawSilence = 0xFF

// bytesPerChar approximates 8kHz speech at roughly 15 characters a second
const bytesPerChar = 530

// MockTTS produces mu-law silence sized to the text, for local runs without a vendor
type MockTTS struct {
	chunkSize int
}

var _ repositories.TextToSpeech = (*MockTTS)(nil)

// NewMockTTS creates a new silent synthesizer
func NewMockTTS() *MockTTS {
	return &MockTTS{chunkSize: defaultChunkSize}
}

func (m *MockTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	total := len(text) * bytesPerChar
	out := make(chan []byte, total/m.chunkSize+1)
	for total > 0 {
		n := m.chunkSize
		if total < n {
			n = total
		}
		chunk := make([]byte, n)
		for i := range chunk {
			chunk[i] = mulawSilence
		}
		out <- chunk
		total -= n
	}
	close(out)
	return out, nil
}
