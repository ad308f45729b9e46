package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/assets"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/auth"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/config"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/convo"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/dispatch"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/gcal"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/gsheet"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/httpserver"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/llm"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/realtime"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/session"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/speech"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/telephony"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/timeline"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/vision"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	store, err := convo.Open(cfg.ConversationDB, cfg.ConversationTTL)
	if err != nil {
		log.Printf("conversation snapshot unavailable, running in-memory only: %v", err)
		store = convo.NewMemory()
	}
	defer store.Close()

	dialer := telephony.NewDialer(telephony.DialerConfig{
		AccountSID:  cfg.TwilioAccountSID,
		AuthToken:   cfg.TwilioAuthToken,
		FromNumber:  cfg.TwilioFromNumber,
		CountryCode: cfg.DefaultCountry,
		TwimlURL:    cfg.TwilioTwimlURL,
	})
	calendar := gcal.NewClient(cfg.GoogleToken, cfg.GoogleCalendarID)
	sheet := gsheet.NewClient(cfg.GoogleToken, cfg.GoogleSheetID, cfg.GoogleSheetRange)
	contacts := dispatch.StaticContacts(cfg.Contacts)

	deps := httpserver.Deps{
		Chat:        llm.NewClient(cfg.OpenAIKey, cfg.ChatModel),
		Vision:      vision.NewAnalyzer(cfg.OpenAIKey, cfg.ChatModel),
		Transcriber: speech.NewTranscriber(cfg.OpenAIKey, cfg.TranscribeModel),
		Synthesizer: speech.NewSynthesizer(cfg.DeepgramKey, cfg.DeepgramModel),
		Dialer:      dialer,
		Calendar:    calendar,
		Sheet:       sheet,
		Auth:        auth.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey),
		Store:       store,
		NewTransport: func() session.Transport {
			return realtime.NewClient(cfg.OpenAIKey, cfg.RealtimeModel)
		},
		SessionConfig: session.Config{
			Voice:    cfg.RealtimeVoice,
			Language: "ko",
		},
		NewDispatcher: func(board *timeline.Board) session.Dispatcher {
			return dispatch.New(board, dialer, calendar, sheet, contacts)
		},
	}
	if assetStore, err := assets.New(assets.Config{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseServiceKey,
		Bucket:         cfg.SupabaseBucket,
	}); err != nil {
		log.Printf("Warning: asset storage disabled: %v", err)
	} else {
		deps.Assets = assetStore
	}

	srv := httpserver.New(cfg, deps)

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
