package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/convo"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/realtime"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/timeline"
)

// ErrTransportClosed is the single terminal error surfaced when the streaming
// channel drops underneath a running session.
var ErrTransportClosed = errors.New("session: transport closed")

// Config selects the voice-agent behavior for one connection.
type Config struct {
	Voice        string
	Language     string
	Instructions string
	SilenceMs    int
}

// Session owns the lifecycle of one streaming voice-agent connection and the
// turn-taking between user speech, transcription, response generation and
// agent playback. A Session is single-use: once Closed, create a new one.
//
// All transport events funnel through handleEvent, in arrival order, on one
// goroutine; there is no speculative or reordered processing.
type Session struct {
	cfg       Config
	transport Transport
	capture   Capture
	playback  Playback
	store     *convo.Store
	board     *timeline.Board
	dispatch  Dispatcher
	onState   func(State)

	mu            sync.Mutex
	state         State
	startedAt     time.Time
	stopRequested bool
	terminalErr   error

	// per-turn bookkeeping, reset when a user turn opens
	userAppended    bool
	turnFinalized   bool
	agentTranscript strings.Builder
	// response ids scope turn events: a barge-in marks the cancelled
	// response stale so its trailing events cannot touch the next turn
	activeResponseID string
	staleResponseID  string

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Session. playback and dispatch may be nil.
func New(cfg Config, transport Transport, capture Capture, playback Playback, store *convo.Store, board *timeline.Board, dispatch Dispatcher) *Session {
	if playback == nil {
		playback = nopPlayback{}
	}
	if board == nil {
		board = timeline.NewBoard()
	}
	return &Session{
		cfg:       cfg,
		transport: transport,
		capture:   capture,
		playback:  playback,
		store:     store,
		board:     board,
		dispatch:  dispatch,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// OnState registers an observer invoked after every state change. Must be
// called before Start.
func (s *Session) OnState(fn func(State)) { s.onState = fn }

// Board exposes the session's timeline.
func (s *Session) Board() *timeline.Board { return s.board }

// Start acquires the microphone, opens the streaming transport and begins the
// event loop. It returns audio.ErrPermissionDenied unchanged when capture is
// refused; the caller must obtain new user consent before retrying.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot start from %s", state)
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.capture.Acquire(ctx); err != nil {
		cancel()
		s.setState(StateClosed)
		close(s.done)
		return err
	}

	s.setState(StateConnecting)
	if err := s.transport.Connect(ctx); err != nil {
		s.capture.Release()
		cancel()
		s.setState(StateClosed)
		close(s.done)
		return fmt.Errorf("session: open transport: %w", err)
	}

	go s.run(runCtx)
	return nil
}

// Stop tears the session down gracefully: transport closed, microphone and
// playback released, in-flight work left where it stands, Conversation Store
// untouched, no error flag. Safe to call from any state, any number of times.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.teardown(nil)
}

// Done closes when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, nil after a requested stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalErr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TurnState derives the turn-taking phase from the lifecycle state.
func (s *Session) TurnState() TurnState {
	switch s.State() {
	case StateListening:
		return TurnListening
	case StateThinking:
		return TurnThinking
	case StateSpeaking:
		return TurnSpeaking
	}
	return TurnIdle
}

// StartedAt reports when Start was called.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// SendText forwards a typed user message into the realtime conversation and
// requests a spoken response. Only one outstanding turn is allowed, so typed
// input is rejected while a turn is in flight.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("session: empty text")
	}
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot send text while %s", state)
	}
	s.userAppended = true
	s.turnFinalized = false
	s.agentTranscript.Reset()
	s.state = StateThinking
	s.mu.Unlock()
	s.notifyState(StateThinking)

	s.store.Append(convo.Utterance{Speaker: convo.SpeakerUser, Text: text, Source: convo.SourceTyped})
	if s.dispatch != nil {
		s.dispatch.Dispatch(context.Background(), text)
	}
	if err := s.transport.CreateUserText(text); err != nil {
		return err
	}
	return s.transport.CreateResponse()
}

// run is the single event loop: transport events and capture frames, strictly
// in arrival order per source.
func (s *Session) run(ctx context.Context) {
	frames := s.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.transport.Events():
			if !ok {
				s.mu.Lock()
				requested := s.stopRequested
				s.mu.Unlock()
				if requested {
					return
				}
				s.teardown(ErrTransportClosed)
				return
			}
			if terminal := s.handleEvent(ev); terminal {
				return
			}
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.feedFrame(frame)
		}
	}
}

// feedFrame forwards captured audio to the transport. The path is gated to
// Ready and Listening: nothing is transmitted while Thinking (turn already
// closed) or Speaking (half-duplex, the agent must not hear its own voice).
func (s *Session) feedFrame(frame audio.Frame) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateReady && state != StateListening {
		return
	}
	if err := s.transport.AppendAudio(frame); err != nil {
		log.Printf("session: append audio: %v", err)
	}
}

// handleEvent is the session's one transition function. Returns true when the
// event terminated the session.
func (s *Session) handleEvent(ev realtime.Event) bool {
	switch ev.Type {
	case realtime.EventSessionCreated:
		s.mu.Lock()
		ok := s.state == StateConnecting
		s.mu.Unlock()
		if !ok {
			log.Printf("session: ignoring %s in state %s", ev.Type, s.State())
			return false
		}
		cfg := realtime.SessionConfig{
			Voice:        s.cfg.Voice,
			Language:     s.cfg.Language,
			Instructions: s.cfg.Instructions,
			SilenceMs:    s.cfg.SilenceMs,
		}
		if err := s.transport.UpdateSession(cfg); err != nil {
			s.teardown(fmt.Errorf("session: send configuration: %w", err))
			return true
		}
		s.setState(StateConfiguring)

	case realtime.EventSessionUpdated:
		if s.State() == StateConfiguring {
			s.setState(StateReady)
		}

	case realtime.EventSpeechStarted:
		s.onSpeechStarted()

	case realtime.EventSpeechStopped:
		if s.State() == StateListening {
			s.setState(StateThinking)
		}

	case realtime.EventInputTranscript:
		s.onUserTranscript(ev.Transcript)

	case realtime.EventResponseCreated:
		s.mu.Lock()
		s.turnFinalized = false
		s.activeResponseID = ev.ResponseID
		s.mu.Unlock()

	case realtime.EventTranscriptDelta:
		if s.isStaleResponse(ev.ResponseID) {
			return false
		}
		s.mu.Lock()
		s.agentTranscript.WriteString(ev.Delta)
		s.mu.Unlock()

	case realtime.EventTranscriptDone:
		if s.isStaleResponse(ev.ResponseID) {
			return false
		}
		if ev.Transcript != "" {
			s.mu.Lock()
			s.agentTranscript.Reset()
			s.agentTranscript.WriteString(ev.Transcript)
			s.mu.Unlock()
		}

	case realtime.EventAudioDelta:
		if s.isStaleResponse(ev.ResponseID) {
			return false
		}
		s.onAudioDelta(ev.Delta)

	case realtime.EventAudioDone:
		// playback drains on its own

	case realtime.EventResponseDone:
		s.onResponseDone(ev.ResponseID)

	case realtime.EventError:
		msg := "unknown transport error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		s.teardown(fmt.Errorf("%w: %s", ErrTransportClosed, msg))
		return true

	default:
		log.Printf("session: unhandled event type %s", ev.Type)
	}
	return false
}

// onSpeechStarted opens a user turn. If it arrives mid-Speaking the user is
// barging in: playback is cancelled immediately and the state forced to
// Listening; the partial agent transcript is committed as what was actually
// spoken.
func (s *Session) onSpeechStarted() {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.state = StateListening
		s.userAppended = false
		s.turnFinalized = false
		s.agentTranscript.Reset()
		s.mu.Unlock()
		s.notifyState(StateListening)
	case StateSpeaking:
		spoken := strings.TrimSpace(s.agentTranscript.String())
		s.turnFinalized = true
		s.state = StateListening
		s.userAppended = false
		s.staleResponseID = s.activeResponseID
		s.activeResponseID = ""
		s.agentTranscript.Reset()
		s.mu.Unlock()
		s.playback.Reset()
		if spoken != "" {
			s.store.Append(convo.Utterance{Speaker: convo.SpeakerAgent, Text: spoken, Source: convo.SourceVoice})
		}
		s.mu.Lock()
		s.turnFinalized = false
		s.mu.Unlock()
		s.notifyState(StateListening)
	default:
		s.mu.Unlock()
		log.Printf("session: ignoring speech_started in state %s", s.State())
	}
}

// onUserTranscript appends the recognized user utterance exactly once per
// turn and fans it out to the action dispatcher.
func (s *Session) onUserTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.userAppended {
		s.mu.Unlock()
		return
	}
	switch s.state {
	// transcription can trail the turn, so Ready is accepted too
	case StateReady, StateListening, StateThinking, StateSpeaking:
		s.userAppended = true
	default:
		s.mu.Unlock()
		log.Printf("session: ignoring user transcript in state %s", s.State())
		return
	}
	s.mu.Unlock()

	s.store.Append(convo.Utterance{Speaker: convo.SpeakerUser, Text: text, Source: convo.SourceVoice})
	if s.dispatch != nil {
		s.dispatch.Dispatch(context.Background(), text)
	}
}

// onAudioDelta feeds agent audio to playback, entering Speaking on the first
// chunk of a turn. Audio arriving outside an active turn is a protocol
// violation from the channel and is ignored without a state change.
func (s *Session) onAudioDelta(delta string) {
	s.mu.Lock()
	switch s.state {
	case StateThinking:
		s.state = StateSpeaking
		s.mu.Unlock()
		s.notifyState(StateSpeaking)
	case StateSpeaking:
		s.mu.Unlock()
	default:
		state := s.state
		s.mu.Unlock()
		log.Printf("session: ignoring audio delta in state %s", state)
		return
	}
	if delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		log.Printf("session: undecodable audio delta: %v", err)
		return
	}
	s.playback.Write(pcm)
}

// isStaleResponse reports whether events carrying the given response id
// belong to a cancelled response, or contradict the id announced by the
// current turn's response.created. Events without an id are never stale.
func (s *Session) isStaleResponse(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.staleResponseID {
		return true
	}
	return s.activeResponseID != "" && id != s.activeResponseID
}

// onResponseDone finalizes the agent turn: exactly one agent utterance is
// appended and the session returns to Ready. Duplicate terminal events for
// the same turn, and terminal events of a cancelled response, are no-ops.
func (s *Session) onResponseDone(responseID string) {
	if s.isStaleResponse(responseID) {
		log.Printf("session: ignoring response.done for stale response %s", responseID)
		return
	}
	s.mu.Lock()
	if s.turnFinalized {
		s.mu.Unlock()
		return
	}
	if s.state != StateSpeaking && s.state != StateThinking {
		s.mu.Unlock()
		log.Printf("session: ignoring response.done in state %s", s.State())
		return
	}
	s.turnFinalized = true
	spoken := strings.TrimSpace(s.agentTranscript.String())
	s.agentTranscript.Reset()
	s.state = StateReady
	s.mu.Unlock()

	if spoken != "" {
		s.store.Append(convo.Utterance{Speaker: convo.SpeakerAgent, Text: spoken, Source: convo.SourceVoice})
	}
	s.notifyState(StateReady)
}

// teardown releases every session-owned resource. err == nil means a
// requested stop; otherwise in-flight timeline entries are failed and err is
// kept as the single terminal error.
func (s *Session) teardown(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.terminalErr = err
	s.mu.Unlock()

	_ = s.transport.Close()
	s.capture.Release()
	s.playback.Reset()
	s.playback.Close()
	if err != nil {
		if n := s.board.FailInFlight(); n > 0 {
			log.Printf("session: marked %d in-flight actions as failed", n)
		}
		log.Printf("session closed: %v", err)
	}
	s.notifyState(StateClosed)
	close(s.done)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.notifyState(next)
}

func (s *Session) notifyState(state State) {
	if s.onState != nil {
		s.onState(state)
	}
}
