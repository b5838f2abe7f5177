// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to script the upstream event stream and inspect which methods the
// relay invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, opts)
//	sess.EventsCh <- realtime.Event{Type: realtime.EventSpeechCompleted, ...}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echorelay/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Opts is the Options value passed to Connect.
	Opts realtime.Options
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session.
	Session realtime.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, opts realtime.Options) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Opts: opts})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a snapshot of recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of realtime.SessionHandle.
// Tests feed scripted events into EventsCh and close it (or call Close) to
// signal end-of-session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Owned by the test until
	// Close is called, which closes it exactly once.
	EventsCh chan realtime.Event

	// ErrVal is returned by Err().
	ErrVal error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// CreateResponseErr, if non-nil, is returned by every CreateResponse call.
	CreateResponseErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// SendTextCalls records the text passed to every SendText call.
	SendTextCalls []string

	// CreateResponseCalls is the number of times CreateResponse was called.
	CreateResponseCalls int

	// CloseCalls is the number of times Close was called.
	CloseCalls int

	closed bool
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan realtime.Event, 16)}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// SendText records the call and returns SendTextErr.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendTextCalls = append(s.SendTextCalls, text)
	return s.SendTextErr
}

// CreateResponse records the call and returns CreateResponseErr.
func (s *Session) CreateResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateResponseCalls++
	return s.CreateResponseErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close records the call, closes EventsCh exactly once, and returns CloseErr
// on the first call only.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.EventsCh)
	return s.CloseErr
}

// AudioSent returns a snapshot of all chunks passed to SendAudio. Thread-safe.
func (s *Session) AudioSent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, c := range s.SendAudioCalls {
		out[i] = c.Chunk
	}
	return out
}

// TextSent returns a snapshot of all text passed to SendText. Thread-safe.
func (s *Session) TextSent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SendTextCalls))
	copy(out, s.SendTextCalls)
	return out
}

// CreateResponseCount returns how many times CreateResponse was called.
// Thread-safe.
func (s *Session) CreateResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CreateResponseCalls
}

// CloseCount returns how many times Close was called. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Ensure Session implements realtime.SessionHandle at compile time.
var _ realtime.SessionHandle = (*Session)(nil)
