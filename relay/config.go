package relay

import "time"

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// UpstreamURL is the chat provider base URL (e.g., "https://api.openai.com").
	// The request path is appended to it.
	UpstreamURL string

	// ProviderType selects the stream payload schema ("openai" or "anthropic").
	ProviderType string

	// ChunkSize is the upstream read size. Zero uses the engine default.
	ChunkSize int

	// MaxPending bounds a pending malformed frame in bytes. Zero uses the
	// engine default.
	MaxPending int

	// NumWorkers and QueueSize size the persistence worker pool.
	NumWorkers uint
	QueueSize  uint

	// ShutdownTimeout bounds how long Close waits for open streams before
	// canceling them. Defaults to 5s.
	ShutdownTimeout time.Duration
}
