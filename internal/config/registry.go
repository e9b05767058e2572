package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/embeddings"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name-keyed set of constructors for one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	stt        factories[stt.Provider]
	embeddings factories[embeddings.Provider]
	vad        factories[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		stt:        newFactories[stt.Provider]("stt"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
		vad:        newFactories[vad.Engine]("vad"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.m[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// Names lists the registered provider names of kind ("llm", "stt",
// "embeddings" or "vad") in sorted order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "embeddings":
		return r.embeddings.names()
	case "vad":
		return r.vad.names()
	}
	return nil
}
