// Package embed defines the contract for the external embedding model. The
// model itself (CLAP or similar) runs out of process; the catalog only ever
// consumes vectors through this interface.
package embed

import "context"

type Embedder interface {
	// EmbedAudio turns raw audio samples into a single fixed-dimension
	// vector for the model this embedder serves.
	EmbedAudio(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)
	// EmbedText embeds a free-text query into the same space as the audio
	// vectors, enabling text-to-music similarity search.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// ModelName identifies the model, e.g. "laion/clap-htsat-unfused".
	// Embeddings are stored and queried per model name.
	ModelName() string
	// Dim is the vector dimension every output of this embedder has.
	Dim() int
}
