// Package dataset exports stored conversations for fine-tuning and speech
// model training.
//
// An export directory holds two JSON-lines files:
//
//   - conversations.jsonl: one chat-format record per session,
//     {"messages":[{"role":…,"content":…}],"session_id":…,"rating":…}
//   - manifest.jsonl: one record per user utterance that has a recording,
//     {"audio_filepath":…,"duration":…,"text":…,"speaker":…,"session_id":…}
package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/memory"
)

// Output file names.
const (
	ConversationsFile = "conversations.jsonl"
	ManifestFile      = "manifest.jsonl"
)

// ratingRank orders feedback ratings from worst to best.
var ratingRank = map[string]int{
	"not_helpful": 0,
	"unknown":     1,
	"partial":     2,
	"helpful":     3,
}

// ErrUnknownRating is returned for a MinRating outside the rating vocabulary.
var ErrUnknownRating = errors.New("dataset: unknown rating")

// Options selects what is exported.
type Options struct {
	// Dir is the output directory. It is created if missing and existing
	// output files are overwritten.
	Dir string

	// MinRating keeps sessions whose latest rating ranks at least this high
	// (not_helpful < unknown < partial < helpful). Empty exports every
	// session, unrated ones included.
	MinRating string

	// SystemPrompt, when set, is prepended to every conversation as a system
	// message.
	SystemPrompt string
}

// Message is one chat message of a conversation record.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is one conversations.jsonl line.
type Conversation struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"session_id"`
	Rating    string    `json:"rating,omitempty"`
}

// ManifestEntry is one manifest.jsonl line. Duration is in seconds.
type ManifestEntry struct {
	AudioFilepath string  `json:"audio_filepath"`
	Duration      float64 `json:"duration"`
	Text          string  `json:"text"`
	Speaker       string  `json:"speaker,omitempty"`
	SessionID     string  `json:"session_id"`
}

// Stats summarises an export.
type Stats struct {
	Sessions      int
	Messages      int
	Utterances    int
	MissingAudio  int
	SkippedRating int
}

// Exporter reads sessions from a [memory.Store] and writes dataset files.
type Exporter struct {
	store  memory.Store
	logger *slog.Logger
}

// NewExporter returns an Exporter over store. A nil logger uses
// slog.Default().
func NewExporter(store memory.Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, logger: logger}
}

// Export writes both dataset files into opts.Dir.
func (e *Exporter) Export(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats
	minRank := -1
	if opts.MinRating != "" {
		r, ok := ratingRank[opts.MinRating]
		if !ok {
			return stats, fmt.Errorf("%w: %q", ErrUnknownRating, opts.MinRating)
		}
		minRank = r
	}
	if opts.Dir == "" {
		return stats, errors.New("dataset: output directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return stats, fmt.Errorf("dataset: create dir: %w", err)
	}

	sessions, err := e.store.ListSessions(ctx, memory.ListOpts{})
	if err != nil {
		return stats, fmt.Errorf("dataset: list sessions: %w", err)
	}

	convs, err := newLineWriter(filepath.Join(opts.Dir, ConversationsFile))
	if err != nil {
		return stats, err
	}
	defer convs.close()
	manifest, err := newLineWriter(filepath.Join(opts.Dir, ManifestFile))
	if err != nil {
		return stats, err
	}
	defer manifest.close()

	// ListSessions is newest first; datasets read better oldest first.
	for i := len(sessions) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ss := sessions[i]
		if minRank >= 0 {
			r, rated := ratingRank[ss.Rating]
			if !rated || r < minRank {
				stats.SkippedRating++
				continue
			}
		}

		turns, err := e.store.SessionTurns(ctx, ss.SessionID)
		if errors.Is(err, memory.ErrNotFound) {
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("dataset: session %q: %w", ss.SessionID, err)
		}

		conv := Conversation{SessionID: ss.SessionID, Rating: ss.Rating}
		if opts.SystemPrompt != "" {
			conv.Messages = append(conv.Messages, Message{Role: "system", Content: opts.SystemPrompt})
		}
		for _, t := range turns {
			if t.Text == "" {
				continue
			}
			conv.Messages = append(conv.Messages, Message{Role: t.Role, Content: t.Text})
			stats.Messages++

			if t.Role != memory.RoleUser || t.AudioPath == "" {
				continue
			}
			d, err := audio.WAVDuration(t.AudioPath)
			if err != nil {
				e.logger.Warn("dataset: skipping utterance audio", "session_id", t.SessionID, "path", t.AudioPath, "err", err)
				stats.MissingAudio++
				continue
			}
			if err := manifest.write(ManifestEntry{
				AudioFilepath: t.AudioPath,
				Duration:      d.Seconds(),
				Text:          t.Text,
				Speaker:       t.SpeakerLabel,
				SessionID:     t.SessionID,
			}); err != nil {
				return stats, err
			}
			stats.Utterances++
		}
		if err := convs.write(conv); err != nil {
			return stats, err
		}
		stats.Sessions++
	}

	if err := convs.close(); err != nil {
		return stats, err
	}
	if err := manifest.close(); err != nil {
		return stats, err
	}
	e.logger.Info("dataset exported",
		"dir", opts.Dir,
		"sessions", stats.Sessions,
		"messages", stats.Messages,
		"utterances", stats.Utterances,
		"missing_audio", stats.MissingAudio,
		"skipped_rating", stats.SkippedRating,
	)
	return stats, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

type lineWriter struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: create %q: %w", path, err)
	}
	return &lineWriter{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (lw *lineWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dataset: marshal: %w", err)
	}
	if _, err := lw.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("dataset: write %q: %w", lw.path, err)
	}
	return nil
}

// close flushes and closes the file; later calls are no-ops.
func (lw *lineWriter) close() error {
	if lw.closed {
		return nil
	}
	lw.closed = true
	err := lw.w.Flush()
	if cerr := lw.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("dataset: close %q: %w", lw.path, err)
	}
	return nil
}
