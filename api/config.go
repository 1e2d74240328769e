// Package api provides an HTTP API for reading the transcripts stored by the
// relay.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string
}
