package httpserver

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/session"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/timeline"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/vad"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// bridgeMessage is the JSON frame exchanged with the browser. Inbound types:
// audio, text, stop. Outbound types: state, audio, timeline, silence,
// playback_reset, error.
type bridgeMessage struct {
	Type    string            `json:"type"`
	Data    string            `json:"data,omitempty"`
	Text    string            `json:"text,omitempty"`
	State   string            `json:"state,omitempty"`
	Error   string            `json:"error,omitempty"`
	Entries []bridgeTimelineE `json:"entries,omitempty"`
}

type bridgeTimelineE struct {
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Icon   string `json:"icon"`
	Status string `json:"status"`
}

// agentManager owns at most one live voice session. Opening a new bridge
// tears the previous session down completely before acquiring anything, so
// two capture handles never coexist.
type agentManager struct {
	deps Deps

	mu      sync.Mutex
	current *session.Session
}

func newAgentManager(deps Deps) *agentManager {
	return &agentManager{deps: deps}
}

func (m *agentManager) stopCurrent() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
		<-prev.Done()
	}
}

func (m *agentManager) handleWS(c echo.Context) error {
	if m.deps.NewTransport == nil {
		return c.String(http.StatusServiceUnavailable, "voice agent is not configured")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	m.stopCurrent()

	cap := newWSCapture()
	out := newWSWriter(conn)
	board := timeline.NewBoard()

	var dispatcher session.Dispatcher
	if m.deps.NewDispatcher != nil {
		dispatcher = m.deps.NewDispatcher(board)
	}
	s := session.New(m.deps.SessionConfig, m.deps.NewTransport(), cap, out, m.deps.Store, board, dispatcher)
	s.OnState(func(st session.State) {
		out.sendJSON(bridgeMessage{Type: "state", State: st.String()})
		out.sendJSON(bridgeMessage{Type: "timeline", Entries: boardEntries(board)})
	})

	if err := s.Start(c.Request().Context()); err != nil {
		out.sendJSON(bridgeMessage{Type: "error", Error: err.Error()})
		return nil
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	// Quiet-mic notifications let the client stop a dictation segment
	// without waiting on the server's own turn detection.
	det := vad.New(0, m.deps.SilenceWindow, nil)
	defer det.Stop()

	go func() {
		<-s.Done()
		if err := s.Err(); err != nil {
			out.sendJSON(bridgeMessage{Type: "error", Error: err.Error()})
			out.sendJSON(bridgeMessage{Type: "timeline", Entries: boardEntries(board)})
		}
	}()

	for {
		var msg bridgeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "audio":
			frame, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				out.sendJSON(bridgeMessage{Type: "error", Error: "undecodable audio frame"})
				continue
			}
			cap.push(frame)
			level := vad.EnergyLevel(frame)
			if det.Fired() {
				if level >= vad.DefaultThreshold {
					det.Stop()
					det = vad.New(0, m.deps.SilenceWindow, nil)
				}
			} else if det.Sample(level, time.Now()) {
				out.sendJSON(bridgeMessage{Type: "silence"})
			}
		case "text":
			if err := s.SendText(msg.Text); err != nil {
				out.sendJSON(bridgeMessage{Type: "error", Error: err.Error()})
			}
		case "stop":
			s.Stop()
		default:
			log.Printf("agent bridge: unknown message type %q", msg.Type)
		}
	}

	s.Stop()
	<-s.Done()
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
	return nil
}

func boardEntries(b *timeline.Board) []bridgeTimelineE {
	entries := b.Entries()
	out := make([]bridgeTimelineE, 0, len(entries))
	for _, e := range entries {
		out = append(out, bridgeTimelineE{ID: e.ID, Label: e.Label, Icon: e.Icon, Status: e.Status.String()})
	}
	return out
}

// wsCapture adapts browser-sent frames to the session's capture interface.
// The browser already holds the microphone permission; Acquire is a no-op.
type wsCapture struct {
	frames chan audio.Frame
	once   sync.Once
}

func newWSCapture() *wsCapture {
	return &wsCapture{frames: make(chan audio.Frame, 64)}
}

func (w *wsCapture) Acquire(ctx context.Context) error { return nil }
func (w *wsCapture) Frames() <-chan audio.Frame        { return w.frames }
func (w *wsCapture) Release()                          { w.once.Do(func() { close(w.frames) }) }

func (w *wsCapture) push(frame []byte) {
	defer func() {
		// frames racing a Release are dropped
		_ = recover()
	}()
	select {
	case w.frames <- audio.Frame(frame):
	default:
	}
}

// wsWriter plays agent audio back to the browser and carries control frames.
// Writes are serialized; a Reset tells the browser to drop buffered playback.
type wsWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSWriter(conn *websocket.Conn) *wsWriter {
	return &wsWriter{conn: conn}
}

func (w *wsWriter) sendJSON(msg bridgeMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.conn.WriteJSON(msg); err != nil {
		log.Printf("agent bridge: write: %v", err)
	}
}

func (w *wsWriter) Write(pcm []byte) {
	w.sendJSON(bridgeMessage{Type: "audio", Data: base64.StdEncoding.EncodeToString(pcm)})
}

func (w *wsWriter) Reset() {
	w.sendJSON(bridgeMessage{Type: "playback_reset"})
}

func (w *wsWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
