package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestDeepgramTTS(t *testing.T) {
	audio := bytes.Repeat([]byte{0xff}, 2000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		q := r.URL.Query()
		if q.Get("model") != defaultDeepgramVoice || q.Get("encoding") != "mulaw" || q.Get("sample_rate") != "8000" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["text"] != "Where are you?" {
			t.Errorf("unexpected body %v (%v)", body, err)
		}
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	d, err := NewDeepgramTTS(DeepgramTTSConfig{APIKey: "dg-key", SpeakURL: server.URL + "/v1/speak"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewDeepgramTTS failed: %v", err)
	}

	audioChan, err := d.ConvertTextToSpeech(context.Background(), "Where are you?")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}
	var got []byte
	for chunk := range audioChan {
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("expected %d bytes, got %d", len(audio), len(got))
	}
}

func TestDeepgramTTSFailureYieldsNoAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, err := NewDeepgramTTS(DeepgramTTSConfig{APIKey: "dg-key", SpeakURL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewDeepgramTTS failed: %v", err)
	}
	audioChan, err := d.ConvertTextToSpeech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}
	for range audioChan {
		t.Error("expected no audio")
	}

	if _, err := d.ConvertTextToSpeech(context.Background(), " "); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestValidateDeepgramTTSConfig(t *testing.T) {
	if err := ValidateDeepgramTTSConfig(DeepgramTTSConfig{}); err == nil {
		t.Error("expected error when API key is missing")
	}
	if err := ValidateDeepgramTTSConfig(DeepgramTTSConfig{APIKey: "k", ChunkSize: -1}); err == nil {
		t.Error("expected error for negative chunk size")
	}
}

func TestMockTTS(t *testing.T) {
	audioChan, err := NewMockTTS().ConvertTextToSpeech(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}
	total := 0
	for chunk := range audioChan {
		if chunk[0] != mulawSilence {
			t.Errorf("expected silence, got %x", chunk[0])
		}
		total += len(chunk)
	}
	if total != 2*bytesPerChar {
		t.Errorf("expected %d bytes, got %d", 2*bytesPerChar, total)
	}
}
