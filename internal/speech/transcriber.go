package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
)

// ErrNoSpeech is returned when the recording is too short to contain speech.
var ErrNoSpeech = errors.New("speech: no speech detected")

// Transcriber turns recorded audio into text via the OpenAI transcription
// API.
type Transcriber struct {
	api   openaigo.Client
	model string
}

func NewTranscriber(apiKey, model string, extra ...option.RequestOption) *Transcriber {
	if model == "" {
		model = "whisper-1"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		option.WithMaxRetries(2),
	}
	opts = append(opts, extra...)
	return &Transcriber{api: openaigo.NewClient(opts...), model: model}
}

// Transcribe sends the recording and returns the recognized text. Recordings
// under the minimum utterance size are rejected with ErrNoSpeech instead of
// being billed against the vendor.
func (t *Transcriber) Transcribe(ctx context.Context, recording []byte, mime string) (string, error) {
	if len(recording) < audio.MinUtteranceBytes {
		return "", ErrNoSpeech
	}
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = "audio/webm"
	}
	name := "audio." + fileExt(mime)

	resp, err := t.api.Audio.Transcriptions.New(ctx, openaigo.AudioTranscriptionNewParams{
		Model: openaigo.AudioModel(t.model),
		File:  openaigo.File(bytes.NewReader(recording), name, mime),
	})
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func fileExt(mime string) string {
	switch mime {
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a":
		return "m4a"
	}
	return "webm"
}
