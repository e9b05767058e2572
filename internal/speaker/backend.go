package speaker

// Backend turns a buffer of normalised samples into an [Embedding].
//
// A backend is chosen once per [Extractor]; embeddings from different
// backends are never compared.
type Backend interface {
	// Name identifies the backend in logs ("neural", "spectral").
	Name() string

	// Dim is the embedding dimension.
	Dim() int

	// Normalized reports whether embeddings are unit norm, in which case the
	// registry re-normalises profiles after every EMA update.
	Normalized() bool

	// Embed computes the embedding of samples.
	Embed(samples []float64) (Embedding, error)
}
