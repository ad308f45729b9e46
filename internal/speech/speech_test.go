package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
)

func TestTranscribe_RejectsShortRecording(t *testing.T) {
	tr := NewTranscriber("k", "")
	_, err := tr.Transcribe(context.Background(), make([]byte, audio.MinUtteranceBytes-1), "audio/webm")
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestTranscribe_SendsMultipartAndReturnsText(t *testing.T) {
	var gotModel, gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		if f, hdr, err := r.FormFile("file"); err == nil {
			gotFilename = hdr.Filename
			_, _ = io.Copy(io.Discard, f)
			_ = f.Close()
		} else {
			t.Errorf("form file: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " 상담 내용 메모 "})
	}))
	defer srv.Close()

	tr := NewTranscriber("k", "whisper-1", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	text, err := tr.Transcribe(context.Background(), make([]byte, audio.MinUtteranceBytes), "audio/wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "상담 내용 메모" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotModel != "whisper-1" {
		t.Fatalf("unexpected model %q", gotModel)
	}
	if gotFilename != "audio.wav" {
		t.Fatalf("unexpected filename %q", gotFilename)
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("안녕하세요. 상담 예약을 도와드릴까요?\n네!")
	want := []string{"안녕하세요.", "상담 예약을 도와드릴까요?", "네!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := SplitSentences("   "); got != nil {
		t.Fatalf("blank text must yield no sentences, got %q", got)
	}
	if got := SplitSentences("마침표 없는 문장"); len(got) != 1 {
		t.Fatalf("trailing fragment must be kept, got %q", got)
	}
}

// smoke test: without an API key the stream errors quickly
func TestSynthesizer_Stream_NoKey(t *testing.T) {
	s := NewSynthesizer("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := s.Stream(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestForwardPCM_BlocksInsteadOfDropping(t *testing.T) {
	ch := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 8; i++ {
			if err := forwardPCM(context.Background(), ch, []byte{byte(i)}); err != nil {
				done <- err
				return
			}
		}
		close(ch)
		done <- nil
	}()

	// drain slower than the producer; every chunk must still arrive in order
	var got []byte
	for chunk := range ch {
		got = append(got, chunk...)
		time.Sleep(2 * time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("expected all 8 chunks delivered, got %d", len(got))
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("chunk %d out of order: %d", i, b)
		}
	}
}

func TestForwardPCM_CancelUnblocksFullChannel(t *testing.T) {
	ch := make(chan []byte, 1)
	ch <- []byte{0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := forwardPCM(ctx, ch, []byte{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s := NewSynthesizer("k", "")
	if _, err := s.Synthesize(context.Background(), "   "); err == nil || !strings.Contains(err.Error(), "empty text") {
		t.Fatalf("expected empty text error, got %v", err)
	}
}
