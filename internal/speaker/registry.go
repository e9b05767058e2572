package speaker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrRegistryFull is returned by Create once MaxSpeakers profiles exist.
	ErrRegistryFull = errors.New("speaker: registry full")

	// ErrUnknownProfile is returned for an id that is not registered.
	ErrUnknownProfile = errors.New("speaker: unknown profile")
)

// Profile is a known speaker.
type Profile struct {
	// ID is the sequential label, "Speaker_A" onwards.
	ID string

	// Embedding is the exponential moving average of matched embeddings.
	Embedding Embedding

	// Observations counts the embeddings folded into the profile, including
	// the seed evidence.
	Observations int
}

func (p *Profile) clone() Profile {
	return Profile{ID: p.ID, Embedding: p.Embedding.Clone(), Observations: p.Observations}
}

// RegistryConfig configures a [Registry].
type RegistryConfig struct {
	// MaxSpeakers caps the number of profiles. Default 8, at most 26.
	MaxSpeakers int

	// Alpha is the EMA weight of a new embedding. Default 0.05.
	Alpha float64

	// Renormalize keeps profiles unit norm after each update. Set it when the
	// backend produces normalised embeddings.
	Renormalize bool
}

// Registry holds speaker profiles for one session.
type Registry struct {
	cfg      RegistryConfig
	profiles []*Profile
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxSpeakers <= 0 {
		cfg.MaxSpeakers = 8
	}
	cfg.MaxSpeakers = min(cfg.MaxSpeakers, 26)
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.05
	}
	return &Registry{cfg: cfg}
}

// Label returns the profile id for the n-th created profile (zero based).
func Label(n int) string {
	return "Speaker_" + string(rune('A'+n))
}

// Match returns the profile most similar to e and its cosine similarity.
// ok is false when the registry is empty.
func (r *Registry) Match(e Embedding) (id string, similarity float64, ok bool) {
	for i, p := range r.profiles {
		sim := Cosine(p.Embedding, e)
		if i == 0 || sim > similarity {
			id, similarity = p.ID, sim
		}
	}
	return id, similarity, len(r.profiles) > 0
}

// Update folds e into the profile: emb = (1-alpha)*emb + alpha*e.
func (r *Registry) Update(id string, e Embedding) error {
	p := r.find(id)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	if len(e) != len(p.Embedding) {
		return fmt.Errorf("%w: profile %s has %d, got %d", ErrDimensionMismatch, id, len(p.Embedding), len(e))
	}
	floats.Scale(1-r.cfg.Alpha, p.Embedding)
	floats.AddScaled(p.Embedding, r.cfg.Alpha, e)
	if r.cfg.Renormalize {
		Normalize(p.Embedding)
	}
	p.Observations++
	return nil
}

// Create registers a new profile seeded with e, counting seedCount
// observations (at least one).
func (r *Registry) Create(e Embedding, seedCount int) (string, error) {
	if len(r.profiles) >= r.cfg.MaxSpeakers {
		return "", ErrRegistryFull
	}
	p := &Profile{
		ID:           Label(len(r.profiles)),
		Embedding:    e.Clone(),
		Observations: max(seedCount, 1),
	}
	if r.cfg.Renormalize {
		Normalize(p.Embedding)
	}
	r.profiles = append(r.profiles, p)
	return p.ID, nil
}

// Len returns the number of profiles.
func (r *Registry) Len() int { return len(r.profiles) }

// Full reports whether Create would fail.
func (r *Registry) Full() bool { return len(r.profiles) >= r.cfg.MaxSpeakers }

// MaxSpeakers returns the profile cap.
func (r *Registry) MaxSpeakers() int { return r.cfg.MaxSpeakers }

// Get returns a copy of the profile with the given id.
func (r *Registry) Get(id string) (Profile, bool) {
	if p := r.find(id); p != nil {
		return p.clone(), true
	}
	return Profile{}, false
}

// Profiles returns copies of all profiles in creation order.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, len(r.profiles))
	for i, p := range r.profiles {
		out[i] = p.clone()
	}
	return out
}

// Reset removes every profile. Labels restart at Speaker_A.
func (r *Registry) Reset() { r.profiles = nil }

// SetConfig replaces the tuning. Existing profiles are kept; a lower cap only
// prevents further creation.
func (r *Registry) SetConfig(cfg RegistryConfig) {
	*r = Registry{cfg: NewRegistry(cfg).cfg, profiles: r.profiles}
}

func (r *Registry) find(id string) *Profile {
	for _, p := range r.profiles {
		if p.ID == id {
			return p
		}
	}
	return nil
}
