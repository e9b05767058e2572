package speaker

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/hearken/pkg/audio"
)

// ArbiterConfig tunes the [Arbiter].
type ArbiterConfig struct {
	// SimilarityThreshold is the cosine similarity at or above which an
	// embedding confirms the best-matching profile. Default 0.40.
	SimilarityThreshold float64

	// MinFramesForNewSpeaker is the number of low-similarity frames of
	// evidence needed before a new profile is created. Default 15.
	MinFramesForNewSpeaker int

	// MinFramesForChange is the number of consecutive frames that must
	// nominate the same speaker before the reported label switches.
	// Default 4.
	MinFramesForChange int

	// MinSpeechEnergy is the RMS below which a speech frame is ignored. The
	// first profile needs twice this energy. Default 0.02.
	MinSpeechEnergy float64
}

// DefaultArbiterConfig returns the default tuning.
func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		SimilarityThreshold:    0.40,
		MinFramesForNewSpeaker: 15,
		MinFramesForChange:     4,
		MinSpeechEnergy:        0.02,
	}
}

func (c ArbiterConfig) withDefaults() ArbiterConfig {
	def := DefaultArbiterConfig()
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = def.SimilarityThreshold
	}
	if c.MinFramesForNewSpeaker <= 0 {
		c.MinFramesForNewSpeaker = def.MinFramesForNewSpeaker
	}
	if c.MinFramesForChange <= 0 {
		c.MinFramesForChange = def.MinFramesForChange
	}
	if c.MinSpeechEnergy <= 0 {
		c.MinSpeechEnergy = def.MinSpeechEnergy
	}
	return c
}

// ChangeEvent reports a confirmed switch of the current speaker.
type ChangeEvent struct {
	Previous string
	Current  string
}

// Decision is the arbiter's output for one speech frame.
type Decision struct {
	// Current is the reported current speaker, empty before the first
	// profile exists.
	Current string

	// Similarity is the cosine similarity to the best-matching profile, zero
	// when no embedding was evaluated.
	Similarity float64

	// Nominee is the speaker this frame voted for.
	Nominee string

	// Created is the id of a profile created on this frame.
	Created string

	// Change is set when the reported label switched on this frame.
	Change *ChangeEvent
}

// candidateEvidence accumulates low-similarity embeddings that may belong to
// a speaker not yet registered.
type candidateEvidence struct {
	count      int
	embeddings []Embedding
	closestID  string
}

func (c *candidateEvidence) clear() {
	c.count = 0
	c.embeddings = c.embeddings[:0]
	c.closestID = ""
}

// Arbiter turns noisy per-frame similarities into a debounced current
// speaker. Profile creation requires sustained evidence, and the reported
// label only switches after several consecutive frames agree.
type Arbiter struct {
	cfg       ArbiterConfig
	extractor *Extractor
	registry  *Registry
	logger    *slog.Logger

	current      string
	pending      string
	pendingCount int
	evidence     candidateEvidence
}

// NewArbiter creates an arbiter over extractor and registry. Zero-valued
// fields in cfg take their defaults. A nil logger uses slog.Default().
func NewArbiter(cfg ArbiterConfig, extractor *Extractor, registry *Registry, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		cfg:       cfg.withDefaults(),
		extractor: extractor,
		registry:  registry,
		logger:    logger,
	}
}

// ProcessSpeech handles one speech frame. Frames below MinSpeechEnergy are
// treated as silence, so quiet audio can never create a profile. The
// decision reports the unchanged current speaker until the extractor's
// buffer is full.
func (a *Arbiter) ProcessSpeech(samples []float64) Decision {
	if len(samples) == 0 {
		return Decision{Current: a.current}
	}
	energy := audio.RMS(samples)
	if energy < a.cfg.MinSpeechEnergy {
		a.Silence()
		return Decision{Current: a.current}
	}
	a.extractor.Push(samples)
	emb, ok := a.extractor.Embedding()
	if !ok {
		return Decision{Current: a.current}
	}
	return a.Observe(emb, energy)
}

// Observe applies the arbitration rules to one embedding. energy is the RMS
// of the frame it was taken on.
func (a *Arbiter) Observe(e Embedding, energy float64) Decision {
	if len(e) == 0 {
		return Decision{Current: a.current}
	}

	if a.registry.Len() == 0 {
		return a.bootstrap(e, energy)
	}

	d := Decision{}
	closest, sim, _ := a.registry.Match(e)
	d.Similarity = sim

	switch {
	case sim >= a.cfg.SimilarityThreshold:
		a.update(closest, e)
		a.evidence.clear()
		d.Nominee = closest

	case !a.registry.Full():
		a.evidence.count++
		a.evidence.embeddings = append(a.evidence.embeddings, e.Clone())
		a.evidence.closestID = closest
		d.Nominee = closest
		if a.evidence.count >= a.cfg.MinFramesForNewSpeaker {
			if id, ok := a.promote(); ok {
				d.Created = id
				d.Nominee = id
			}
		}

	default:
		a.update(closest, e)
		a.evidence.clear()
		d.Nominee = closest
	}

	d.Change = a.nominate(d.Nominee)
	d.Current = a.current
	return d
}

func (a *Arbiter) bootstrap(e Embedding, energy float64) Decision {
	if energy <= 2*a.cfg.MinSpeechEnergy {
		return Decision{}
	}
	id, err := a.registry.Create(e, 1)
	if err != nil {
		a.logger.Warn("speaker: create first profile", "err", err)
		return Decision{}
	}
	a.current = id
	a.logger.Info("speaker profile created", "speaker", id, "energy", energy, "first", true)
	return Decision{Current: id, Similarity: 1, Nominee: id, Created: id}
}

// promote turns the accumulated evidence into a profile seeded with its
// mean. The evidence is cleared either way.
func (a *Arbiter) promote() (string, bool) {
	defer a.evidence.clear()
	seed, err := Mean(a.evidence.embeddings)
	if err != nil {
		a.logger.Warn("speaker: average candidate evidence", "err", err)
		return "", false
	}
	id, err := a.registry.Create(seed, a.evidence.count)
	if err != nil {
		if !errors.Is(err, ErrRegistryFull) {
			a.logger.Warn("speaker: create profile", "err", err)
		}
		return "", false
	}
	a.logger.Info("speaker profile created",
		"speaker", id,
		"evidence_frames", a.evidence.count,
		"closest", a.evidence.closestID,
		"speakers", a.registry.Len(),
	)
	return id, true
}

func (a *Arbiter) update(id string, e Embedding) {
	if err := a.registry.Update(id, e); err != nil {
		a.logger.Debug("speaker: profile update", "speaker", id, "err", err)
	}
}

// nominate runs the stability gate and returns a change event if the
// reported speaker switched.
func (a *Arbiter) nominate(nominee string) *ChangeEvent {
	if nominee == "" || nominee == a.current {
		a.pending, a.pendingCount = "", 0
		return nil
	}
	if nominee == a.pending {
		a.pendingCount++
	} else {
		a.pending, a.pendingCount = nominee, 1
	}
	if a.pendingCount < a.cfg.MinFramesForChange {
		return nil
	}
	ev := &ChangeEvent{Previous: a.current, Current: nominee}
	a.current = nominee
	a.pending, a.pendingCount = "", 0
	a.logger.Info("speaker change", "from", ev.Previous, "to", ev.Current)
	return ev
}

// Silence handles a non-speech frame: pending evidence and the stability
// count are discarded. The current speaker is kept.
func (a *Arbiter) Silence() {
	a.evidence.clear()
	a.pending, a.pendingCount = "", 0
}

// Current returns the reported current speaker, empty before any profile
// exists.
func (a *Arbiter) Current() string { return a.current }

// SpeakerCount returns the number of registered profiles.
func (a *Arbiter) SpeakerCount() int { return a.registry.Len() }

// Registry returns the registry the arbiter updates.
func (a *Arbiter) Registry() *Registry { return a.registry }

// Config returns the active tuning.
func (a *Arbiter) Config() ArbiterConfig { return a.cfg }

// Reset clears every profile, the audio buffer and all debounce state.
func (a *Arbiter) Reset() {
	a.registry.Reset()
	a.extractor.Reset()
	a.current = ""
	a.Silence()
}

// SetConfig replaces the tuning. The frame loop calls it only at session
// boundaries.
func (a *Arbiter) SetConfig(cfg ArbiterConfig) {
	a.cfg = cfg.withDefaults()
}
