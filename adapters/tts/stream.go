package tts

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// defaultChunkSize is 200ms of 8kHz mu-law
const defaultChunkSize = 1600

// pumpChunks copies body into out in chunkSize pieces until EOF, a read
// error, or ctx cancellation
func pumpChunks(ctx context.Context, body io.Reader, chunkSize int, out chan<- []byte, logger *zap.Logger) {
	buffer := make([]byte, chunkSize)
	totalBytes := 0
	chunkCount := 0

	for {
		n, err := io.ReadFull(body, buffer)
		if n > 0 {
			totalBytes += n
			chunkCount++

			chunk := make([]byte, n)
			copy(chunk, buffer[:n])

			select {
			case out <- chunk:
			case <-ctx.Done():
				logger.Warn("Context cancelled while sending audio chunk")
				return
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			logger.Debug("Finished streaming audio data",
				zap.Int("totalChunks", chunkCount),
				zap.Int("totalBytes", totalBytes))
			return
		}
		if err != nil {
			logger.Error("Error reading response body", zap.Error(err))
			return
		}
	}
}
