package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		config  ElevenLabsConfig
		wantErr bool
	}{
		{name: "missing key", config: ElevenLabsConfig{}, wantErr: true},
		{name: "stability out of range", config: ElevenLabsConfig{APIKey: "k", Stability: 1.5}, wantErr: true},
		{name: "negative similarity", config: ElevenLabsConfig{APIKey: "k", Similarity: -0.1}, wantErr: true},
		{name: "negative chunk size", config: ElevenLabsConfig{APIKey: "k", ChunkSize: -1}, wantErr: true},
		{name: "defaults", config: ElevenLabsConfig{APIKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tts, err := NewElevenLabsTTS(tt.config, logger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewElevenLabsTTS() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !strings.Contains(tts.streamURL, "/text-to-speech/"+defaultElevenLabsVoice+"/stream") {
				t.Errorf("streamURL = %q, want default voice", tts.streamURL)
			}
			if !strings.Contains(tts.streamURL, "output_format="+elevenLabsPhoneFormat) {
				t.Errorf("streamURL = %q, want phone format", tts.streamURL)
			}
			if tts.settings.Stability != defaultElevenLabsStability || tts.settings.SimilarityBoost != defaultElevenLabsSimilarity {
				t.Errorf("settings = %+v, want defaults", tts.settings)
			}
		})
	}
}

func TestNewElevenLabsConfigFromEnv(t *testing.T) {
	t.Setenv("ELEVEN_LABS_API_KEY", "env-key")
	t.Setenv("ELEVEN_LABS_VOICE_ID", "voice-1")
	t.Setenv("ELEVEN_LABS_STABILITY", "0.3")
	t.Setenv("ELEVEN_LABS_SIMILARITY", "not-a-number")

	config := NewElevenLabsConfigFromEnv()
	if config.APIKey != "env-key" || config.VoiceID != "voice-1" {
		t.Errorf("config = %+v", config)
	}
	if config.Stability != 0.3 {
		t.Errorf("Stability = %f, want 0.3", config.Stability)
	}
	if config.Similarity != 0 {
		t.Errorf("Similarity = %f, want 0 for an unparseable value", config.Similarity)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_EmptyText(t *testing.T) {
	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	for _, text := range []string{"", "   "} {
		if _, err := tts.ConvertTextToSpeech(context.Background(), text); err == nil {
			t.Errorf("ConvertTextToSpeech(%q) should fail", text)
		}
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_Stream(t *testing.T) {
	audio := bytes.Repeat([]byte{0x7f}, 4000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-9/stream" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-api-key" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("output_format") != elevenLabsPhoneFormat {
			t.Errorf("unexpected output format %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("Accept") != "audio/basic" {
			t.Errorf("unexpected accept header %q", r.Header.Get("Accept"))
		}

		var req elevenLabsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if req.Text != "Where are you?" || req.ModelID != defaultElevenLabsModel {
			t.Errorf("request = %+v", req)
		}
		if req.VoiceSettings.Stability != 0.2 {
			t.Errorf("stability = %f, want 0.2", req.VoiceSettings.Stability)
		}
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{
		APIKey:    "test-api-key",
		BaseURL:   server.URL,
		VoiceID:   "voice-9",
		Stability: 0.2,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	audioChan, err := tts.ConvertTextToSpeech(context.Background(), "Where are you?")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}

	var got []byte
	chunks := 0
	for chunk := range audioChan {
		got = append(got, chunk...)
		chunks++
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("expected %d bytes, got %d", len(audio), len(got))
	}
	if chunks != 3 {
		t.Errorf("expected 3 chunks of at most %d bytes, got %d", defaultChunkSize, chunks)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_ErrorClosesEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key", BaseURL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	audioChan, err := tts.ConvertTextToSpeech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}
	for range audioChan {
		t.Error("expected no audio on API error")
	}
}

// Integration test - only runs if ELEVEN_LABS_API_KEY is set
func TestElevenLabsTTS_ConvertTextToSpeech_Integration(t *testing.T) {
	if os.Getenv("ELEVEN_LABS_API_KEY") == "" {
		t.Skip("Skipping integration test - set ELEVEN_LABS_API_KEY to run")
	}

	tts, err := NewElevenLabsTTS(NewElevenLabsConfigFromEnv(), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	audioChan, err := tts.ConvertTextToSpeech(ctx, "State the exact address, including city.")
	if err != nil {
		t.Fatalf("Failed to convert text to speech: %v", err)
	}

	totalBytes := 0
	for chunk := range audioChan {
		totalBytes += len(chunk)
	}
	if totalBytes == 0 {
		t.Error("No audio data received")
	}
}
