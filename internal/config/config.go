package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey       string
	ChatModel       string
	RealtimeModel   string
	RealtimeVoice   string
	TranscribeModel string

	DeepgramKey   string
	DeepgramModel string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioTwimlURL   string
	DefaultCountry   string

	Contacts map[string]string

	GoogleToken      string
	GoogleCalendarID string
	GoogleSheetID    string
	GoogleSheetRange string

	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseBucket     string

	ConversationDB  string
	ConversationTTL time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; relying on process environment")
	}

	addr := getEnv("HTTP_ADDRESS", ":8080")

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - chat, vision and realtime voice will not work")
	}
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}
	twilioSID := os.Getenv("TWILIO_ACCOUNT_SID")
	twilioToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if twilioSID == "" || twilioToken == "" {
		log.Println("Warning: Twilio credentials not set - outbound calls will not work")
	}
	googleToken := os.Getenv("GOOGLE_OAUTH_TOKEN")
	if googleToken == "" {
		log.Println("Warning: GOOGLE_OAUTH_TOKEN not set - calendar and sheet writes will not work")
	}

	ttl := 24 * time.Hour
	if raw := os.Getenv("CONVERSATION_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			ttl = d
		} else {
			log.Printf("Warning: invalid CONVERSATION_TTL %q, using %s", raw, ttl)
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:        addr,
		OpenAIKey:          openAIKey,
		ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o"),
		RealtimeModel:      getEnv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeVoice:      getEnv("OPENAI_REALTIME_VOICE", "alloy"),
		TranscribeModel:    getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		DeepgramKey:        deepgramKey,
		DeepgramModel:      getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		TwilioAccountSID:   twilioSID,
		TwilioAuthToken:    twilioToken,
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioTwimlURL:     os.Getenv("TWILIO_TWIML_URL"),
		DefaultCountry:     getEnv("DEFAULT_COUNTRY_CODE", "+82"),
		Contacts:           parseContacts(os.Getenv("CONTACTS")),
		GoogleToken:        googleToken,
		GoogleCalendarID:   getEnv("GOOGLE_CALENDAR_ID", "primary"),
		GoogleSheetID:      os.Getenv("GOOGLE_SHEET_ID"),
		GoogleSheetRange:   getEnv("GOOGLE_SHEET_RANGE", "고객관리!A:E"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey:    os.Getenv("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "uploaded-assets"),
		ConversationDB:     getEnv("CONVERSATION_DB", "data/conversation.db"),
		ConversationTTL:    ttl,
	}
}

// parseContacts reads a "name=phone,name=phone" list into a phone book.
func parseContacts(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, phone, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		phone = strings.TrimSpace(phone)
		if name != "" && phone != "" {
			out[name] = phone
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
