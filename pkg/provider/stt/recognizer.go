package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// reopenBackoff is the minimum delay between attempts to reopen a failed
// stream.
const reopenBackoff = time.Second

// Recognizer adapts a streaming Provider to a synchronous, frame-at-a-time
// interface. AcceptWaveform feeds one frame and returns any final transcript
// that has arrived in the meantime; it never waits for the backend.
//
// A Recognizer is owned by a single goroutine and is not safe for concurrent
// use.
type Recognizer struct {
	ctx      context.Context
	provider Provider
	cfg      StreamConfig
	logger   *slog.Logger
	now      func() time.Time

	sess    SessionHandle
	partial string
	pending []string
	retryAt time.Time
	closed  bool
}

// NewRecognizer opens the first stream. The stream lives until ctx is
// cancelled or Close is called.
func NewRecognizer(ctx context.Context, p Provider, cfg StreamConfig, logger *slog.Logger) (*Recognizer, error) {
	if p == nil {
		return nil, errors.New("stt: recognizer: provider is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recognizer{
		ctx:      ctx,
		provider: p,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	sess, err := p.StartStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("stt: recognizer: start stream: %w", err)
	}
	r.sess = sess
	return r, nil
}

// AcceptWaveform sends frame to the stream and collects whatever transcripts
// are ready. It returns the oldest undelivered final, if any.
//
// Send failures and closed streams are logged and the stream is reopened on a
// later call; audio sent while no stream is open is lost.
func (r *Recognizer) AcceptWaveform(frame []byte) (string, bool) {
	if r.closed {
		return "", false
	}
	if r.sess == nil {
		r.reopen()
	}
	if r.sess != nil {
		if err := r.sess.SendAudio(frame); err != nil {
			r.logger.Warn("stt: send audio failed, dropping stream", "err", err)
			r.drop()
		} else {
			r.drain()
		}
	}
	return r.popFinal()
}

// Partial returns the latest interim hypothesis, or "" right after a final.
func (r *Recognizer) Partial() string { return r.partial }

// Reset closes the current stream and opens a fresh one, discarding the
// partial hypothesis. Finals already collected are kept.
func (r *Recognizer) Reset() {
	if r.closed {
		return
	}
	r.drop()
	r.partial = ""
	r.retryAt = time.Time{}
	r.reopen()
}

// Flush drains the stream once more and returns every collected final
// followed by the partial hypothesis, if non-empty. Used at shutdown.
func (r *Recognizer) Flush() []string {
	if r.sess != nil {
		r.drain()
	}
	out := r.pending
	r.pending = nil
	if r.partial != "" {
		out = append(out, r.partial)
		r.partial = ""
	}
	return out
}

// SetKeywords updates the recognition hints. Backends that cannot switch
// mid-stream pick the new list up on the next reopen.
func (r *Recognizer) SetKeywords(keywords []KeywordBoost) {
	r.cfg.Keywords = append([]KeywordBoost(nil), keywords...)
	if r.sess == nil {
		return
	}
	if err := r.sess.SetKeywords(r.cfg.Keywords); err != nil && !errors.Is(err, ErrNotSupported) {
		r.logger.Warn("stt: update keywords", "err", err)
	}
}

// Close releases the stream. Further calls to AcceptWaveform are no-ops.
func (r *Recognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.sess == nil {
		return nil
	}
	err := r.sess.Close()
	r.sess = nil
	return err
}

func (r *Recognizer) reopen() {
	if r.ctx.Err() != nil {
		return
	}
	now := r.now()
	if now.Before(r.retryAt) {
		return
	}
	sess, err := r.provider.StartStream(r.ctx, r.cfg)
	if err != nil {
		r.retryAt = now.Add(reopenBackoff)
		r.logger.Warn("stt: reopen stream failed", "err", err, "retry_in", reopenBackoff)
		return
	}
	r.sess = sess
}

func (r *Recognizer) drop() {
	if r.sess == nil {
		return
	}
	if err := r.sess.Close(); err != nil {
		r.logger.Debug("stt: close stream", "err", err)
	}
	r.sess = nil
}

// drain reads finals before partials so a hypothesis for the next utterance
// is not wiped by the final of the previous one.
func (r *Recognizer) drain() {
	finals := r.sess.Finals()
	for {
		select {
		case t, ok := <-finals:
			if !ok {
				r.logger.Debug("stt: stream ended")
				r.drop()
				return
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				r.pending = append(r.pending, text)
			}
			r.partial = ""
			continue
		default:
		}
		break
	}

	partials := r.sess.Partials()
	for {
		select {
		case t, ok := <-partials:
			if !ok {
				r.logger.Debug("stt: stream ended")
				r.drop()
				return
			}
			r.partial = strings.TrimSpace(t.Text)
			continue
		default:
		}
		return
	}
}

func (r *Recognizer) popFinal() (string, bool) {
	if len(r.pending) == 0 {
		return "", false
	}
	text := r.pending[0]
	r.pending = r.pending[1:]
	return text, true
}
