// Package analytics exposes the conversation store to MCP clients: session
// listings, transcripts, feedback statistics and semantic turn search.
//
// The server is read-only. It is served over stdio by "hearken mcp" and can
// be attached to any transport from the MCP Go SDK.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/memory"
	"github.com/MrWong99/hearken/pkg/provider/embeddings"
)

// ErrSearchUnavailable is returned by search_turns when no embeddings
// provider is configured.
var ErrSearchUnavailable = errors.New("analytics: search_turns needs an embeddings provider")

// Server is the analytics MCP server.
type Server struct {
	store    memory.Store
	embedder embeddings.Provider
	metrics  *observe.Metrics
	logger   *slog.Logger
	version  string
	mcp      *mcp.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithEmbedder enables search_turns.
func WithEmbedder(p embeddings.Provider) Option { return func(s *Server) { s.embedder = p } }

// WithMetrics records embedding latency and provider errors.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// NewServer builds the MCP server and registers its tools.
func NewServer(store memory.Store, opts ...Option) *Server {
	s := &Server{store: store, logger: slog.Default(), version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "hearken-analytics", Version: s.version}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List recorded conversation sessions, most recent first, with turn counts, speakers and the latest feedback rating.",
	}, s.listSessions)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_transcript",
		Description: "Return every user and assistant turn of one session in chronological order.",
	}, s.sessionTranscript)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "feedback_stats",
		Description: "Count end-of-conversation feedback ratings, optionally since a given time.",
	}, s.feedbackStats)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_turns",
		Description: "Find turns whose text is semantically similar to a query.",
	}, s.searchTurns)
	return s
}

// MCP returns the underlying SDK server, e.g. to connect an in-memory
// transport.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves one session on t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("analytics server started", "version", s.version, "search", s.embedder != nil)
	err := s.mcp.Run(ctx, t)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("analytics: run: %w", err)
	}
	return nil
}

// ─── list_sessions ───────────────────────────────────────────────────────────

// ListSessionsInput filters list_sessions.
type ListSessionsInput struct {
	Since  string `json:"since,omitempty" jsonschema:"only sessions started at or after this RFC 3339 timestamp"`
	Rating string `json:"rating,omitempty" jsonschema:"only sessions whose latest rating is helpful, not_helpful, partial or unknown"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of sessions, default all"`
}

// SessionInfo summarises one session.
type SessionInfo struct {
	SessionID string   `json:"session_id"`
	StartedAt string   `json:"started_at"`
	EndedAt   string   `json:"ended_at"`
	Turns     int      `json:"turns"`
	Speakers  []string `json:"speakers"`
	Rating    string   `json:"rating,omitempty"`
}

// ListSessionsOutput is the list_sessions result.
type ListSessionsOutput struct {
	Sessions []SessionInfo `json:"sessions"`
}

func (s *Server) listSessions(ctx context.Context, _ *mcp.CallToolRequest, in ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
	since, err := parseSince(in.Since)
	if err != nil {
		return nil, ListSessionsOutput{}, err
	}
	sessions, err := s.store.ListSessions(ctx, memory.ListOpts{Since: since, Rating: in.Rating, Limit: in.Limit})
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %w", err)
	}
	out := ListSessionsOutput{Sessions: make([]SessionInfo, 0, len(sessions))}
	for _, ss := range sessions {
		speakers := ss.Speakers
		if speakers == nil {
			speakers = []string{}
		}
		out.Sessions = append(out.Sessions, SessionInfo{
			SessionID: ss.SessionID,
			StartedAt: formatTime(ss.StartedAt),
			EndedAt:   formatTime(ss.EndedAt),
			Turns:     ss.Turns,
			Speakers:  speakers,
			Rating:    ss.Rating,
		})
	}
	return textResult(out)
}

// ─── session_transcript ──────────────────────────────────────────────────────

// TranscriptInput selects a session.
type TranscriptInput struct {
	SessionID string `json:"session_id" jsonschema:"the session to return"`
}

// TurnInfo is one transcript line.
type TurnInfo struct {
	Timestamp  string `json:"timestamp"`
	Role       string `json:"role"`
	Speaker    string `json:"speaker,omitempty"`
	Text       string `json:"text"`
	Mode       string `json:"mode,omitempty"`
	Intent     string `json:"intent,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	AudioPath  string `json:"audio_path,omitempty"`
}

// TranscriptOutput is the session_transcript result.
type TranscriptOutput struct {
	SessionID string     `json:"session_id"`
	Turns     []TurnInfo `json:"turns"`
}

func (s *Server) sessionTranscript(ctx context.Context, _ *mcp.CallToolRequest, in TranscriptInput) (*mcp.CallToolResult, TranscriptOutput, error) {
	if in.SessionID == "" {
		return nil, TranscriptOutput{}, errors.New("session_id is required")
	}
	turns, err := s.store.SessionTurns(ctx, in.SessionID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, TranscriptOutput{}, fmt.Errorf("session %q not found", in.SessionID)
	}
	if err != nil {
		return nil, TranscriptOutput{}, fmt.Errorf("session transcript: %w", err)
	}
	out := TranscriptOutput{SessionID: in.SessionID, Turns: make([]TurnInfo, 0, len(turns))}
	for _, t := range turns {
		out.Turns = append(out.Turns, turnInfo(t))
	}
	return textResult(out)
}

// ─── feedback_stats ──────────────────────────────────────────────────────────

// FeedbackStatsInput filters feedback_stats.
type FeedbackStatsInput struct {
	Since string `json:"since,omitempty" jsonschema:"only count feedback at or after this RFC 3339 timestamp"`
}

// FeedbackStatsOutput is the feedback_stats result.
type FeedbackStatsOutput struct {
	Total    int            `json:"total"`
	ByRating map[string]int `json:"by_rating"`

	// HelpfulRatio is helpful / total, or 0 without feedback.
	HelpfulRatio float64 `json:"helpful_ratio"`
}

func (s *Server) feedbackStats(ctx context.Context, _ *mcp.CallToolRequest, in FeedbackStatsInput) (*mcp.CallToolResult, FeedbackStatsOutput, error) {
	since, err := parseSince(in.Since)
	if err != nil {
		return nil, FeedbackStatsOutput{}, err
	}
	stats, err := s.store.FeedbackStats(ctx, since)
	if err != nil {
		return nil, FeedbackStatsOutput{}, fmt.Errorf("feedback stats: %w", err)
	}
	out := FeedbackStatsOutput{Total: stats.Total, ByRating: stats.ByRating}
	if out.ByRating == nil {
		out.ByRating = map[string]int{}
	}
	if stats.Total > 0 {
		out.HelpfulRatio = float64(stats.ByRating["helpful"]) / float64(stats.Total)
	}
	return textResult(out)
}

// ─── search_turns ────────────────────────────────────────────────────────────

// SearchInput is the search_turns query.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"natural-language text to match against turn text"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict results to one session"`
	Speaker   string `json:"speaker,omitempty" jsonschema:"restrict results to one speaker label, e.g. Speaker_A"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchHit is one ranked turn.
type SearchHit struct {
	Score     float64  `json:"score"`
	SessionID string   `json:"session_id"`
	Turn      TurnInfo `json:"turn"`
}

// SearchOutput is the search_turns result.
type SearchOutput struct {
	Results []SearchHit `json:"results"`
}

func (s *Server) searchTurns(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if s.embedder == nil {
		return nil, SearchOutput{}, ErrSearchUnavailable
	}
	if in.Query == "" {
		return nil, SearchOutput{}, errors.New("query is required")
	}

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, in.Query)
	if s.metrics != nil {
		observe.ObserveSince(ctx, s.metrics.EmbeddingDuration, start)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, s.embedder.ModelID(), "embeddings")
		}
		return nil, SearchOutput{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.store.SearchTurns(ctx, vec, memory.SearchOpts{
		SessionID: in.SessionID,
		Speaker:   in.Speaker,
		Limit:     in.Limit,
	})
	if err != nil {
		return nil, SearchOutput{}, fmt.Errorf("search turns: %w", err)
	}
	out := SearchOutput{Results: make([]SearchHit, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, SearchHit{
			Score:     h.Score,
			SessionID: h.Turn.SessionID,
			Turn:      turnInfo(h.Turn),
		})
	}
	return textResult(out)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// textResult mirrors the structured output as JSON text for clients that
// ignore structuredContent.
func textResult[T any](out T) (*mcp.CallToolResult, T, error) {
	data, err := json.Marshal(out)
	if err != nil {
		var zero T
		return nil, zero, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, out, nil
}

func turnInfo(t memory.Turn) TurnInfo {
	return TurnInfo{
		Timestamp:  formatTime(t.Timestamp),
		Role:       t.Role,
		Speaker:    t.SpeakerLabel,
		Text:       t.Text,
		Mode:       t.Mode,
		Intent:     t.Intent,
		DurationMs: t.Duration.Milliseconds(),
		AudioPath:  t.AudioPath,
	}
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: %w", err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
