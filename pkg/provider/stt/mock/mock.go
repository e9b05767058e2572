// Package mock provides test doubles for the stt package interfaces.
//
// Provider hands out scripted sessions in order, which lets tests observe a
// Recognizer reopening its stream. Session exposes its transcript channels
// directly so tests can push partials and finals at any point.
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []stt.SessionHandle{sess}}
//	sess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions are returned by successive StartStream calls. Once exhausted,
	// each call returns a fresh NewSession().
	Sessions []stt.SessionHandle

	// StartStreamErr, if non-nil, is returned by every StartStream call.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns the next scripted session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if len(p.Sessions) > 0 {
		s := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return s, nil
	}
	return NewSession(), nil
}

// CallCount returns the number of StartStream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// PartialsCh and FinalsCh back Partials and Finals. Tests send on them
	// directly; CloseChannels closes both to simulate the backend ending the
	// stream.
	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	SendAudioErr   error
	SetKeywordsErr error
	CloseErr       error

	// Audio holds a copy of every chunk passed to SendAudio.
	Audio [][]byte

	// Keywords holds the arguments of every SetKeywords call.
	Keywords [][]stt.KeywordBoost

	CloseCallCount int
	chansClosed    bool
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Audio = append(s.Audio, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// SetKeywords records the list and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keywords = append(s.Keywords, append([]stt.KeywordBoost(nil), keywords...))
	return s.SetKeywordsErr
}

// Close records the call and returns CloseErr. It does not close the
// channels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// CloseChannels closes PartialsCh and FinalsCh once.
func (s *Session) CloseChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chansClosed {
		return
	}
	s.chansClosed = true
	close(s.PartialsCh)
	close(s.FinalsCh)
}

// AudioCount returns the number of SendAudio calls.
func (s *Session) AudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Audio)
}

// Closes returns CloseCallCount.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ stt.SessionHandle = (*Session)(nil)
