package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/auth"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/config"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/convo"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/gcal"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/llm"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/speech"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/vision"
)

type fakeChat struct {
	reply string
	err   error
	got   struct {
		persona llm.Persona
		history []convo.Pair
		message string
	}
}

func (f *fakeChat) Reply(ctx context.Context, persona llm.Persona, history []convo.Pair, message string) (string, error) {
	f.got.persona, f.got.history, f.got.message = persona, history, message
	return f.reply, f.err
}

type fakeVision struct {
	text string
	err  error
}

func (f *fakeVision) Analyze(ctx context.Context, image []byte, mime string, kind vision.Kind) (string, error) {
	return f.text, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, recording []byte, mime string) (string, error) {
	return f.text, f.err
}

type fakeSynth struct {
	pcm []byte
	err error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.pcm, f.err
}

type fakeDialerSvc struct {
	sid string
	err error
}

func (f *fakeDialerSvc) PlaceCall(displayName, phoneNumber string) (string, error) {
	return f.sid, f.err
}

type fakeCalendar struct {
	created gcal.CreatedEvent
	err     error
}

func (f *fakeCalendar) InsertEvent(ctx context.Context, ev gcal.Event) (gcal.CreatedEvent, error) {
	return f.created, f.err
}

type fakeSheetSvc struct {
	rng string
	err error
}

func (f *fakeSheetSvc) AppendRow(ctx context.Context, row []string) (string, error) {
	return f.rng, f.err
}

type fakeAuth struct {
	id  auth.Identity
	err error
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (auth.Identity, error) {
	return f.id, f.err
}
func (f *fakeAuth) SignInWithProviderToken(ctx context.Context, provider, idToken string) (auth.Identity, error) {
	return f.id, f.err
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	s := New(config.Config{}, Deps{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestChat(t *testing.T) {
	chat := &fakeChat{reply: "안녕하세요 설계사님"}
	s := New(config.Config{}, Deps{Chat: chat})

	rec := postJSON(t, s, "/api/chat", `{
		"message": "고객 응대 팁 알려줘",
		"personaId": "mentor",
		"history": [{"speaker":"user","text":"이전 질문"}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeJSON(t, rec)
	if out["reply"] != "안녕하세요 설계사님" {
		t.Fatalf("unexpected reply %v", out)
	}
	if chat.got.persona != llm.PersonaMentor || len(chat.got.history) != 1 {
		t.Fatalf("unexpected forwarded request %+v", chat.got)
	}
}

func TestChat_FailureReturnsApology(t *testing.T) {
	s := New(config.Config{}, Deps{Chat: &fakeChat{err: fmt.Errorf("provider down")}})
	rec := postJSON(t, s, "/api/chat", `{"message": "hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decodeJSON(t, rec)
	if out["reply"] != llm.ApologyReply {
		t.Fatalf("expected canned apology, got %v", out["reply"])
	}
}

func TestChat_Validation(t *testing.T) {
	s := New(config.Config{}, Deps{Chat: &fakeChat{}})
	if rec := postJSON(t, s, "/api/chat", `{"message": "  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", rec.Code)
	}
	if rec := postJSON(t, s, "/api/chat", "not-json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
	// history is clamped to the context window
	long := `{"message":"hi","history":[`
	for i := 0; i < 15; i++ {
		if i > 0 {
			long += ","
		}
		long += fmt.Sprintf(`{"speaker":"user","text":"m%d"}`, i)
	}
	long += `]}`
	chat := &fakeChat{reply: "ok"}
	s2 := New(config.Config{}, Deps{Chat: chat})
	postJSON(t, s2, "/api/chat", long)
	if len(chat.got.history) != convo.DefaultContextSize {
		t.Fatalf("expected history clamped to %d, got %d", convo.DefaultContextSize, len(chat.got.history))
	}
	if chat.got.history[0].Text != "m5" {
		t.Fatalf("expected the most recent pairs kept, got %+v", chat.got.history[0])
	}
}

func TestChat_Unconfigured(t *testing.T) {
	s := New(config.Config{}, Deps{})
	if rec := postJSON(t, s, "/api/chat", `{"message":"hi"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAnalyzeImage(t *testing.T) {
	s := New(config.Config{}, Deps{Vision: &fakeVision{text: "보험증권 분석 결과"}})
	img := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	rec := postJSON(t, s, "/api/analyze-image", `{"imageBase64":"`+img+`","imageKind":"policy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if out := decodeJSON(t, rec); out["analysisText"] != "보험증권 분석 결과" {
		t.Fatalf("unexpected body %v", out)
	}

	if rec := postJSON(t, s, "/api/analyze-image", `{"imageBase64":"!!!"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad base64, got %d", rec.Code)
	}

	failing := New(config.Config{}, Deps{Vision: &fakeVision{err: fmt.Errorf("vendor error")}})
	rec = postJSON(t, failing, "/api/analyze-image", `{"imageBase64":"`+img+`"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if out := decodeJSON(t, rec); out["success"] != false {
		t.Fatalf("expected success:false shape, got %v", out)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	s := New(config.Config{}, Deps{Transcriber: &fakeTranscriber{err: speech.ErrNoSpeech}})
	payload := base64.StdEncoding.EncodeToString([]byte{1})
	rec := postJSON(t, s, "/api/transcribe", `{"audioBase64":"`+payload+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decodeJSON(t, rec)
	if out["noSpeech"] != true || out["text"] != "" {
		t.Fatalf("expected empty no-speech result, got %v", out)
	}
}

func TestSynthesize(t *testing.T) {
	s := New(config.Config{}, Deps{Synthesizer: &fakeSynth{pcm: []byte{9, 8, 7}}})
	rec := postJSON(t, s, "/api/synthesize", `{"text":"안녕하세요"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Sample-Rate") != "24000" {
		t.Fatalf("expected sample rate header, got %q", rec.Header().Get("X-Sample-Rate"))
	}
	if rec.Body.Len() != 3 {
		t.Fatalf("expected raw pcm body, got %d bytes", rec.Body.Len())
	}
	if rec := postJSON(t, s, "/api/synthesize", `{"text":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rec.Code)
	}
}

func TestCall(t *testing.T) {
	s := New(config.Config{}, Deps{Dialer: &fakeDialerSvc{sid: "CA1"}})
	rec := postJSON(t, s, "/api/call", `{"displayName":"이영희","phoneNumber":"010-1234-5678"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out := decodeJSON(t, rec); out["callSid"] != "CA1" {
		t.Fatalf("unexpected body %v", out)
	}

	for name, body := range map[string]string{
		"missing_name":  `{"phoneNumber":"010-1234-5678"}`,
		"missing_phone": `{"displayName":"이영희"}`,
	} {
		rec := postJSON(t, s, "/api/call", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestCalendar(t *testing.T) {
	cal := &fakeCalendar{created: gcal.CreatedEvent{EventID: "evt_9", Link: "https://cal/evt_9"}}
	s := New(config.Config{}, Deps{Calendar: cal})
	rec := postJSON(t, s, "/api/calendar", `{"summary":"상담","startTime":"2026-03-02T14:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if out := decodeJSON(t, rec); out["eventId"] != "evt_9" {
		t.Fatalf("unexpected body %v", out)
	}
	if rec := postJSON(t, s, "/api/calendar", `{"summary":"상담","startTime":"tomorrow"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", rec.Code)
	}
	if rec := postJSON(t, s, "/api/calendar", `{"startTime":"2026-03-02T14:00:00Z"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing summary, got %d", rec.Code)
	}
}

func TestSheet(t *testing.T) {
	s := New(config.Config{}, Deps{Sheet: &fakeSheetSvc{rng: "고객관리!A7:E7"}})
	rec := postJSON(t, s, "/api/sheet", `{"row":["2026-03-02","이영희","010","메모","내용"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out := decodeJSON(t, rec); out["updatedRange"] != "고객관리!A7:E7" {
		t.Fatalf("unexpected body %v", out)
	}
	if rec := postJSON(t, s, "/api/sheet", `{"row":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty row, got %d", rec.Code)
	}
}

func TestSignIn(t *testing.T) {
	ok := &fakeAuth{id: auth.Identity{UserID: "u-1", DisplayName: "김설계", Email: "a@b.c"}}
	s := New(config.Config{}, Deps{Auth: ok})

	rec := postJSON(t, s, "/api/auth/signin", `{"email":"a@b.c","password":"pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out := decodeJSON(t, rec); out["displayName"] != "김설계" {
		t.Fatalf("unexpected body %v", out)
	}

	// a closed provider window is an abort, not a failure
	rec = postJSON(t, s, "/api/auth/signin", `{"popupClosed":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for aborted sign-in, got %d", rec.Code)
	}
	out := decodeJSON(t, rec)
	if out["aborted"] != true || out["success"] != false {
		t.Fatalf("expected aborted shape, got %v", out)
	}

	failing := New(config.Config{}, Deps{Auth: &fakeAuth{err: fmt.Errorf("invalid grant")}})
	if rec := postJSON(t, failing, "/api/auth/signin", `{"email":"a@b.c","password":"bad"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := postJSON(t, s, "/api/auth/signin", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty credentials, got %d", rec.Code)
	}
}

func TestTwilioVoice_RequiresSignature(t *testing.T) {
	s := New(config.Config{TwilioAuthToken: "tok"}, Deps{})
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}
}
