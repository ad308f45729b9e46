package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a WebSocket client for the realtime speech channel. Inbound
// messages are decoded into Events and delivered in arrival order on a single
// channel; the channel closes when the transport closes for any reason.
type Client struct {
	apiKey   string
	model    string
	endpoint string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	events chan Event
}

// NewClient constructs a client. Connect must be called before use.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: "wss://api.openai.com/v1/realtime",
		events:   make(chan Event, 256),
	}
}

// WithEndpoint overrides the channel URL, for self-hosted gateways and tests.
func (c *Client) WithEndpoint(u string) *Client {
	c.endpoint = u
	return c
}

// Connect dials the streaming endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("realtime: client already closed")
	}
	if c.connected {
		return nil
	}
	if c.apiKey == "" {
		return fmt.Errorf("realtime: API key is empty")
	}

	params := url.Values{}
	params.Set("model", c.model)
	wsURL := fmt.Sprintf("%s?%s", c.endpoint, params.Encode())

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("realtime connection failed with status: %d", resp.StatusCode)
		}
		return fmt.Errorf("realtime: connect: %w", err)
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)
	return nil
}

// Events returns the inbound event channel. It closes on transport close.
func (c *Client) Events() <-chan Event { return c.events }

// UpdateSession sends the session configuration: voice, language and the
// server-VAD turn-detection policy.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	silence := cfg.SilenceMs
	if silence <= 0 {
		silence = 1500
	}
	msg := sessionUpdateMsg{
		Type: "session.update",
		Session: sessionParams{
			Modalities:        []string{"audio", "text"},
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &transcriptionOpts{
				Model:    "whisper-1",
				Language: cfg.Language,
			},
			TurnDetection: &turnDetection{
				Type:        "server_vad",
				SilenceMs:   silence,
				CreateReply: true,
			},
		},
	}
	return c.writeJSON(msg)
}

// AppendAudio transmits one captured PCM16 frame.
func (c *Client) AppendAudio(frame []byte) error {
	return c.writeJSON(audioAppendMsg{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// CreateUserText inserts a typed user message into the remote conversation.
func (c *Client) CreateUserText(text string) error {
	return c.writeJSON(itemCreateMsg{
		Type: "conversation.item.create",
		Item: itemBody{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	})
}

// CreateResponse asks the remote side to generate the next agent turn.
func (c *Client) CreateResponse() error {
	return c.writeJSON(responseCreateMsg{Type: "response.create"})
}

// Close tears down the connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return c.conn.WriteJSON(v)
}

// readLoop decodes inbound messages until the connection dies, then closes
// the event channel. Events are never dropped or reordered.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			requested := c.closed
			c.mu.Unlock()
			if !requested {
				log.Printf("realtime read error: %v", err)
				c.events <- Event{
					Type:  EventError,
					Error: &ErrorInfo{Type: "transport", Message: err.Error()},
				}
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("realtime: undecodable message: %v", err)
			continue
		}
		if ev.Type == "" {
			log.Printf("realtime: message missing type field")
			continue
		}
		c.events <- ev
	}
}
