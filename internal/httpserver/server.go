package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/auth"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/config"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/convo"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/gcal"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/llm"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/session"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/speech"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/telephony"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/timeline"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/vision"
)

// ChatService produces an assistant reply for a message plus context.
type ChatService interface {
	Reply(ctx context.Context, persona llm.Persona, history []convo.Pair, message string) (string, error)
}

// VisionService analyzes one uploaded document image.
type VisionService interface {
	Analyze(ctx context.Context, image []byte, mime string, kind vision.Kind) (string, error)
}

// TranscribeService turns a recording into text.
type TranscribeService interface {
	Transcribe(ctx context.Context, recording []byte, mime string) (string, error)
}

// SynthesizeService renders text to PCM audio.
type SynthesizeService interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// CallService places an outbound call.
type CallService interface {
	PlaceCall(displayName, phoneNumber string) (string, error)
}

// CalendarService creates calendar events.
type CalendarService interface {
	InsertEvent(ctx context.Context, ev gcal.Event) (gcal.CreatedEvent, error)
}

// SheetService appends customer log rows.
type SheetService interface {
	AppendRow(ctx context.Context, row []string) (string, error)
}

// AssetService stores uploaded document images.
type AssetService interface {
	Save(userID, contentType string, data []byte) (string, error)
}

// AuthService signs users in.
type AuthService interface {
	SignInWithPassword(ctx context.Context, email, password string) (auth.Identity, error)
	SignInWithProviderToken(ctx context.Context, provider, idToken string) (auth.Identity, error)
}

// Deps are the collaborators behind each endpoint. A nil collaborator turns
// its endpoints into 503s instead of panics, so a partially configured
// deployment still serves the rest.
type Deps struct {
	Chat        ChatService
	Vision      VisionService
	Transcriber TranscribeService
	Synthesizer SynthesizeService
	Dialer      CallService
	Calendar    CalendarService
	Sheet       SheetService
	Assets      AssetService
	Auth        AuthService

	Store *convo.Store

	// NewTransport opens the streaming transport for one voice session.
	NewTransport func() session.Transport
	SessionConfig session.Config
	// NewDispatcher builds the action dispatcher writing to the session's
	// timeline board.
	NewDispatcher func(board *timeline.Board) session.Dispatcher
	// SilenceWindow overrides the quiet interval before the bridge reports
	// a finished dictation segment. Zero selects the detector default.
	SilenceWindow time.Duration
}

// Server is the echo application serving the API and the voice-agent bridge.
type Server struct {
	cfg    config.Config
	deps   Deps
	echo   *echo.Echo
	agents *agentManager
}

func New(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	s := &Server{cfg: cfg, deps: deps, echo: e, agents: newAgentManager(deps)}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/analyze-image", s.handleAnalyzeImage)
	api.POST("/transcribe", s.handleTranscribe)
	api.POST("/synthesize", s.handleSynthesize)
	api.POST("/call", s.handleCall)
	api.POST("/calendar", s.handleCalendar)
	api.POST("/sheet", s.handleSheet)
	api.POST("/auth/signin", s.handleSignIn)
	api.POST("/assets", s.handleAssetUpload)

	e.POST("/twilio/voice", telephony.VoiceHandler,
		telephony.SignatureAuth(func() string { return cfg.TwilioAuthToken }))

	e.GET("/agent/ws", s.agents.handleWS)

	return s
}

// Handler exposes the router for tests and for the outer http.Server.
func (s *Server) Handler() http.Handler { return s.echo }

// Start runs the echo server on the configured address.
func (s *Server) Start() error { return s.echo.Start(s.cfg.HTTPAddress) }

// Shutdown drains in-flight requests and stops any live voice session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.agents.stopCurrent()
	return s.echo.Shutdown(ctx)
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{"success": false, "error": msg})
}

func unavailable(c echo.Context, what string) error {
	return fail(c, http.StatusServiceUnavailable, what+" is not configured")
}

type chatRequest struct {
	Message   string       `json:"message"`
	PersonaID string       `json:"personaId"`
	History   []convo.Pair `json:"history"`
}

func (s *Server) handleChat(c echo.Context) error {
	if s.deps.Chat == nil {
		return unavailable(c, "chat")
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return fail(c, http.StatusBadRequest, "message is required")
	}
	if len(req.History) > convo.DefaultContextSize {
		req.History = req.History[len(req.History)-convo.DefaultContextSize:]
	}

	persona := llm.Persona(req.PersonaID)
	reply, err := s.deps.Chat.Reply(c.Request().Context(), persona, req.History, req.Message)
	if err != nil {
		// the user gets the canned apology, the log gets the cause
		log.Printf("chat completion failed: %v", err)
		return c.JSON(http.StatusOK, map[string]any{"success": true, "reply": llm.ApologyReply, "degraded": true})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "reply": reply})
}

type analyzeImageRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Mime        string `json:"mime"`
	ImageKind   string `json:"imageKind"`
}

func (s *Server) handleAnalyzeImage(c echo.Context) error {
	if s.deps.Vision == nil {
		return unavailable(c, "image analysis")
	}
	var req analyzeImageRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil || len(image) == 0 {
		return fail(c, http.StatusBadRequest, "imageBase64 must be a non-empty base64 payload")
	}

	text, err := s.deps.Vision.Analyze(c.Request().Context(), image, req.Mime, vision.Kind(req.ImageKind))
	if err != nil {
		log.Printf("image analysis failed: %v", err)
		return fail(c, http.StatusBadGateway, "image analysis failed, please retry")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "analysisText": text})
}

type transcribeRequest struct {
	AudioBase64 string `json:"audioBase64"`
	Mime        string `json:"mime"`
}

func (s *Server) handleTranscribe(c echo.Context) error {
	if s.deps.Transcriber == nil {
		return unavailable(c, "transcription")
	}
	var req transcribeRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	recording, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil || len(recording) == 0 {
		return fail(c, http.StatusBadRequest, "audioBase64 must be a non-empty base64 payload")
	}

	text, err := s.deps.Transcriber.Transcribe(c.Request().Context(), recording, req.Mime)
	if err != nil {
		if errors.Is(err, speech.ErrNoSpeech) {
			return c.JSON(http.StatusOK, map[string]any{"success": true, "text": "", "noSpeech": true})
		}
		log.Printf("transcription failed: %v", err)
		return fail(c, http.StatusBadGateway, "transcription failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "text": text})
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSynthesize(c echo.Context) error {
	if s.deps.Synthesizer == nil {
		return unavailable(c, "speech synthesis")
	}
	var req synthesizeRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return fail(c, http.StatusBadRequest, "text is required")
	}

	pcm, err := s.deps.Synthesizer.Synthesize(c.Request().Context(), req.Text)
	if err != nil {
		log.Printf("synthesis failed: %v", err)
		return fail(c, http.StatusBadGateway, "speech synthesis failed")
	}
	c.Response().Header().Set("X-Sample-Rate", strconv.Itoa(audio.SampleRate))
	return c.Blob(http.StatusOK, "application/octet-stream", pcm)
}

type callRequest struct {
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
}

func (s *Server) handleCall(c echo.Context) error {
	if s.deps.Dialer == nil {
		return unavailable(c, "call placement")
	}
	var req callRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return fail(c, http.StatusBadRequest, "displayName is required")
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return fail(c, http.StatusBadRequest, "phoneNumber is required")
	}

	sid, err := s.deps.Dialer.PlaceCall(req.DisplayName, req.PhoneNumber)
	if err != nil {
		log.Printf("call placement failed: %v", err)
		return fail(c, http.StatusBadGateway, "call placement failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "callSid": sid})
}

type calendarRequest struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
}

func (s *Server) handleCalendar(c echo.Context) error {
	if s.deps.Calendar == nil {
		return unavailable(c, "calendar")
	}
	var req calendarRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Summary) == "" {
		return fail(c, http.StatusBadRequest, "summary is required")
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return fail(c, http.StatusBadRequest, "startTime must be RFC3339")
	}
	var end time.Time
	if req.EndTime != "" {
		end, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return fail(c, http.StatusBadRequest, "endTime must be RFC3339")
		}
	}

	created, err := s.deps.Calendar.InsertEvent(c.Request().Context(), gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       start,
		End:         end,
	})
	if err != nil {
		log.Printf("calendar insert failed: %v", err)
		return fail(c, http.StatusBadGateway, "calendar event creation failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "eventId": created.EventID, "link": created.Link})
}

type sheetRequest struct {
	Row []string `json:"row"`
}

func (s *Server) handleSheet(c echo.Context) error {
	if s.deps.Sheet == nil {
		return unavailable(c, "customer sheet")
	}
	var req sheetRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.Row) == 0 {
		return fail(c, http.StatusBadRequest, "row is required")
	}

	updated, err := s.deps.Sheet.AppendRow(c.Request().Context(), req.Row)
	if err != nil {
		log.Printf("sheet append failed: %v", err)
		return fail(c, http.StatusBadGateway, "sheet append failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "updatedRange": updated})
}

type signInRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Provider    string `json:"provider"`
	IDToken     string `json:"idToken"`
	PopupClosed bool   `json:"popupClosed"`
}

func (s *Server) handleSignIn(c echo.Context) error {
	if s.deps.Auth == nil {
		return unavailable(c, "sign-in")
	}
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	// the client reports an abandoned provider window; message it apart from
	// real failures
	if req.PopupClosed {
		return c.JSON(http.StatusOK, map[string]any{
			"success": false,
			"error":   auth.ErrPopupClosed.Error(),
			"aborted": true,
		})
	}

	var id auth.Identity
	var err error
	switch {
	case req.Provider != "":
		id, err = s.deps.Auth.SignInWithProviderToken(c.Request().Context(), req.Provider, req.IDToken)
	case req.Email != "":
		id, err = s.deps.Auth.SignInWithPassword(c.Request().Context(), req.Email, req.Password)
	default:
		return fail(c, http.StatusBadRequest, "either provider or email credentials are required")
	}
	if err != nil {
		log.Printf("sign-in failed: %v", err)
		return fail(c, http.StatusUnauthorized, "sign-in failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"userId":      id.UserID,
		"displayName": id.DisplayName,
		"email":       id.Email,
	})
}

func (s *Server) handleAssetUpload(c echo.Context) error {
	if s.deps.Assets == nil {
		return unavailable(c, "asset storage")
	}
	var req struct {
		UserID      string `json:"userId"`
		ContentType string `json:"contentType"`
		DataBase64  string `json:"dataBase64"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil || len(data) == 0 {
		return fail(c, http.StatusBadRequest, "dataBase64 must be a non-empty base64 payload")
	}

	key, err := s.deps.Assets.Save(req.UserID, req.ContentType, data)
	if err != nil {
		log.Printf("asset upload failed: %v", err)
		return fail(c, http.StatusBadGateway, "asset upload failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "key": key})
}

