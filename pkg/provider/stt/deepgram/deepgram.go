// Package deepgram implements stt.Provider on the Deepgram live transcription
// WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en"
	defaultSampleRate  = 16000
	defaultEndpointing = 300 * time.Millisecond

	// Deepgram drops idle connections after roughly ten seconds.
	keepAliveInterval = 5 * time.Second
	closeTimeout      = 3 * time.Second
)

var (
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3".
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the default BCP-47 language. StreamConfig.Language wins
// when set.
func WithLanguage(language string) Option { return func(p *Provider) { p.language = language } }

// WithSampleRate sets the default sample rate for configs that leave it zero.
func WithSampleRate(rate int) Option { return func(p *Provider) { p.sampleRate = rate } }

// WithEndpointing sets how much trailing silence Deepgram waits for before
// finalising an utterance.
func WithEndpointing(d time.Duration) Option { return func(p *Provider) { p.endpointing = d } }

// WithEndpoint overrides the WebSocket URL. Used by tests.
func WithEndpoint(endpoint string) Option { return func(p *Provider) { p.endpoint = endpoint } }

// Provider opens Deepgram streaming sessions.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		endpointing: defaultEndpointing,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and starts the read and write loops.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	s.writeWG.Add(1)
	go s.writeLoop(ctx)
	go s.readLoop(ctx)
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ─── session ──────────────────────────────────────────────────────────────

type result struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
	writeWG  sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session closed")
	case <-s.readDone:
		return errors.New("deepgram: connection lost")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session closed")
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// SetKeywords always fails: keywords are fixed at connect time.
func (s *session) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("deepgram: set keywords: %w", stt.ErrNotSupported)
}

// Close drains queued audio, asks Deepgram to finalise, and waits briefly for
// the server to hang up before closing the socket.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.writeWG.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
		select {
		case <-s.readDone:
		case <-ctx.Done():
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.readDone
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.writeWG.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			ticker.Reset(keepAliveInterval)
		case <-ticker.C:
			if err := s.conn.Write(ctx, websocket.MessageText, keepAliveMsg); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					return
				}
			}
		case <-s.readDone:
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseResult(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		default:
			// Consumer is behind; a newer partial supersedes this one.
			if t.IsFinal {
				select {
				case out <- t:
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// parseResult decodes a Results message. Other message types and malformed
// payloads report false.
func parseResult(data []byte) (stt.Transcript, bool) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return stt.Transcript{}, false
	}
	if r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := r.Channel.Alternatives[0]
	var words []stt.WordDetail
	if len(alt.Words) > 0 {
		words = make([]stt.WordDetail, 0, len(alt.Words))
		for _, w := range alt.Words {
			words = append(words, stt.WordDetail{
				Word:       w.Word,
				Start:      seconds(w.Start),
				End:        seconds(w.End),
				Confidence: w.Confidence,
			})
		}
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  seconds(r.Start),
		Duration:   seconds(r.Duration),
	}, true
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
