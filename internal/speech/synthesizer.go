package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
)

// Synthesizer streams spoken audio for agent text via the Deepgram speak
// websocket, as linear16 PCM at the session sample rate.
type Synthesizer struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewSynthesizer(apiKey, model string) *Synthesizer {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &Synthesizer{apiKey: apiKey, model: model, sampleRate: audio.SampleRate, encoding: "linear16"}
}

// Synthesize renders the whole text sentence by sentence and returns the
// concatenated PCM. A sentence that fails to render is skipped with a log;
// only a fully silent result is an error.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("speech: empty text")
	}

	var out []byte
	var lastErr error
	for _, sentence := range sentences {
		pcmCh, errCh := s.Stream(ctx, sentence)
		for chunk := range pcmCh {
			out = append(out, chunk...)
		}
		if err := <-errCh; err != nil {
			log.Printf("speech: skipping sentence after synthesis error: %v", err)
			lastErr = err
		}
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("speech: no audio produced")
	}
	return out, nil
}

// Stream renders one piece of text. The PCM channel closes when the render is
// complete; the error channel carries at most one error.
func (s *Synthesizer) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if s.apiKey == "" {
			errCh <- fmt.Errorf("speech: deepgram api key missing")
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      s.model,
			Encoding:   s.encoding,
			SampleRate: s.sampleRate,
		}

		var lastRecvUnix int64
		var seenAudio int32

		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			return forwardPCM(ctx, pcmCh, data)
		}}

		dg, err := speak.NewWSUsingCallback(ctx, s.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("speech: create speak client: %w", err)
			return
		}

		stopped := false
		stopClient := func() {
			if !stopped {
				stopped = true
				dg.Stop()
			}
		}
		defer stopClient()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("speech: deepgram connect failed")
			return
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				stopClient()
			case <-done:
			}
		}()

		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("speech: speak text: %w", err)
			close(done)
			return
		}
		if err := dg.Flush(); err != nil {
			log.Printf("speech: flush error: %v", err)
		}

		// the stream has no explicit end marker; treat a quiet wire as done
		idleWindow := 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(12 * time.Second)
		for {
			select {
			case <-ctx.Done():
				stopClient()
				close(done)
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if !last.IsZero() && time.Since(last) > idleWindow {
						stopClient()
						close(done)
						return
					}
				}
				if time.Now().After(deadline) {
					stopClient()
					close(done)
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

// forwardPCM hands one audio chunk to the consumer. The send blocks rather
// than dropping audio when the consumer falls behind; cancellation unblocks
// it so a stalled reader cannot wedge the receive callback.
func forwardPCM(ctx context.Context, pcmCh chan<- []byte, data []byte) error {
	b := make([]byte, len(data))
	copy(b, data)
	select {
	case pcmCh <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SplitSentences breaks agent text at sentence punctuation so a failed render
// loses one sentence, not the whole reply.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？', '\n':
			flush()
		}
	}
	flush()
	return out
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
