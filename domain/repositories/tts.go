package repositories

import "context"

// TextToSpeech converts text into audio chunks encoded for the telephony leg.
// A failure after the request started closes the channel early, possibly
// without any chunk; callers treat that as silence.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
