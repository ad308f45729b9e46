package realtime

// EventType enumerates the streaming-channel messages the session consumes.
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventSpeechStarted   EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped   EventType = "input_audio_buffer.speech_stopped"
	EventInputTranscript EventType = "conversation.item.input_audio_transcription.completed"
	EventResponseCreated EventType = "response.created"
	EventTranscriptDelta EventType = "response.audio_transcript.delta"
	EventTranscriptDone  EventType = "response.audio_transcript.done"
	EventAudioDelta      EventType = "response.audio.delta"
	EventAudioDone       EventType = "response.audio.done"
	EventResponseDone    EventType = "response.done"
	EventError           EventType = "error"
)

// Event is one inbound message from the streaming channel.
type Event struct {
	Type       EventType  `json:"type"`
	EventID    string     `json:"event_id,omitempty"`
	ResponseID string     `json:"response_id,omitempty"`
	ItemID     string     `json:"item_id,omitempty"`
	Delta      string     `json:"delta,omitempty"`
	Transcript string     `json:"transcript,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries the channel's error payload.
type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionConfig is the outbound session.update payload: voice, language and
// turn-detection policy for the whole connection.
type SessionConfig struct {
	Voice        string
	Language     string
	Instructions string
	// SilenceMs is the server-side quiet window that closes a user turn.
	SilenceMs int
}

type sessionUpdateMsg struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string           `json:"modalities"`
	Voice                   string             `json:"voice,omitempty"`
	Instructions            string             `json:"instructions,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *transcriptionOpts `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection     `json:"turn_detection,omitempty"`
}

type transcriptionOpts struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type        string `json:"type"`
	SilenceMs   int    `json:"silence_duration_ms,omitempty"`
	CreateReply bool   `json:"create_response"`
}

type audioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreateMsg struct {
	Type string   `json:"type"`
	Item itemBody `json:"item"`
}

type itemBody struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateMsg struct {
	Type string `json:"type"`
}
