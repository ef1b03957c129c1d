// Command ttsprobe synthesizes one operator line with a configured provider and
// saves the 8kHz mu-law audio that would be streamed to the caller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/adapters/tts"
	"github.com/aarambh/dispatch/server/domain/repositories"
	"github.com/aarambh/dispatch/server/internal/intake"
)

func main() {
	provider := flag.String("provider", "deepgram", "deepgram or elevenlabs")
	text := flag.String("text", intake.CompletionMessage, "line to synthesize")
	outputFile := flag.String("out", "probe_output.ulaw", "raw mu-law output file")
	autoplay := flag.Bool("play", true, "play the result with SoX when available")
	flag.Parse()

	godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var synth repositories.TextToSpeech
	switch *provider {
	case "deepgram":
		synth, err = tts.NewDeepgramTTS(tts.NewDeepgramTTSConfigFromEnv(), logger)
	case "elevenlabs":
		synth, err = tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
	default:
		err = fmt.Errorf("unknown provider %q", *provider)
	}
	if err != nil {
		logger.Fatal("Failed to create TTS service", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Converting text to speech", zap.String("provider", *provider), zap.String("text", *text))

	audioChan, err := synth.ConvertTextToSpeech(ctx, *text)
	if err != nil {
		logger.Fatal("Failed to convert text to speech", zap.Error(err))
	}

	file, err := os.Create(*outputFile)
	if err != nil {
		logger.Fatal("Failed to create output file", zap.Error(err))
	}

	totalBytes := 0
	chunkCount := 0
	for audioChunk := range audioChan {
		if len(audioChunk) == 0 {
			continue
		}
		n, err := file.Write(audioChunk)
		if err != nil {
			logger.Error("Failed to write audio chunk", zap.Error(err))
			break
		}
		totalBytes += n
		chunkCount++
	}
	file.Close()

	if totalBytes == 0 {
		logger.Fatal("Provider returned no audio; check the API key and logs above")
	}

	logger.Info("Audio conversion completed",
		zap.Int("totalChunks", chunkCount),
		zap.Int("totalBytes", totalBytes),
		zap.Duration("playback", time.Duration(totalBytes)*time.Second/8000),
		zap.String("outputFile", *outputFile))

	if !*autoplay {
		fmt.Printf("play -t raw -r 8000 -e mu-law -c 1 %s\n", *outputFile)
		return
	}
	if _, err := exec.LookPath("play"); err != nil {
		logger.Warn("SoX not found, play manually",
			zap.String("command", "play -t raw -r 8000 -e mu-law -c 1 "+*outputFile))
		return
	}
	if err := exec.Command("play", "-t", "raw", "-r", "8000", "-e", "mu-law", "-c", "1", *outputFile).Run(); err != nil {
		logger.Warn("Failed to play audio", zap.Error(err))
	}
}
