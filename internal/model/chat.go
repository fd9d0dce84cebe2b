package model

// ChatRequest is a fully resolved completion request against one
// provider. The router fills the descriptor fields before handing the
// request to the invoker.
type ChatRequest struct {
	RequestID string
	// Provider is the descriptor id the request resolved to.
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	ProxyURL string

	Prompt  string
	Quality string
	Urgency string
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Content string `json:"content"`
	// Model echoes the upstream model name on chunks that carry it.
	Model string `json:"model,omitempty"`
}

// ChunkStream yields the chunks of one streamed completion. Recv
// returns io.EOF after the final chunk. Close releases the underlying
// connection and is safe to call more than once.
type ChunkStream interface {
	Recv() (*StreamChunk, error)
	Close() error
}
