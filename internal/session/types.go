package session

import (
	"context"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/audio"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/realtime"
)

// State is the connection-lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateReady
	StateListening
	StateThinking
	StateSpeaking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TurnState is the user-visible turn-taking phase derived from State.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnListening
	TurnThinking
	TurnSpeaking
)

func (t TurnState) String() string {
	switch t {
	case TurnListening:
		return "listening"
	case TurnThinking:
		return "thinking"
	case TurnSpeaking:
		return "speaking"
	}
	return "idle"
}

// Transport is the streaming speech channel the session drives.
type Transport interface {
	Connect(ctx context.Context) error
	UpdateSession(cfg realtime.SessionConfig) error
	AppendAudio(frame []byte) error
	CreateUserText(text string) error
	CreateResponse() error
	Events() <-chan realtime.Event
	Close() error
}

// Capture provides microphone frames. Acquire may fail with
// audio.ErrPermissionDenied, which the session surfaces unchanged.
type Capture interface {
	Acquire(ctx context.Context) error
	Frames() <-chan audio.Frame
	Release()
}

// Playback consumes agent PCM for the speaker path.
type Playback interface {
	Write(pcm []byte)
	// Reset drops queued audio immediately (barge-in).
	Reset()
	Close()
}

// Dispatcher reacts to a recognized user utterance. Implementations must not
// return errors into the session; failures live on the timeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string)
}

// nopPlayback lets the session run without a speaker path.
type nopPlayback struct{}

func (nopPlayback) Write([]byte) {}
func (nopPlayback) Reset()       {}
func (nopPlayback) Close()       {}
