package stt

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

func TestMockSpeechToTextScript(t *testing.T) {
	m := NewMockSpeechToText(zap.NewNop(), []string{"there is a fire", "at the mall"}, 2)
	stream, err := m.InitTranscribeStreaming(context.Background(), repositories.TelephonyAudioConfig)
	if err != nil {
		t.Fatalf("InitTranscribeStreaming failed: %v", err)
	}

	frame := []byte{0x7f}
	for i := 0; i < 6; i++ {
		if err := stream.Stream(frame); err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var got []repositories.TranscriptFragment
	for f := range stream.Results() {
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(got))
	}
	if got[0].Text != "there is a fire" || got[1].Text != "at the mall" || !got[0].IsFinal {
		t.Errorf("unexpected fragments %+v", got)
	}

	if err := stream.Close(); err != nil {
		t.Error("second Close should be a no-op")
	}
}
