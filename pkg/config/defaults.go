package config

const (
	defaultProvider = "openai"
	defaultEndpoint = "http://localhost:8080/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"

	defaultChunkSize       = 4096
	defaultMaxPendingBytes = 1 << 20

	defaultRelayListen   = ":8080"
	defaultRelayUpstream = "https://api.openai.com"

	defaultAPIListen = ":8081"

	// Empty lets the storage layer infer sqlite from a configured path.
	defaultStorageDriver = ""

	defaultKafkaTopic = "chatstream.messages"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Client: ClientConfig{
			Endpoint: defaultEndpoint,
			Model:    defaultModel,
			Provider: defaultProvider,
		},
		Stream: StreamConfig{
			ChunkSize:       defaultChunkSize,
			MaxPendingBytes: defaultMaxPendingBytes,
		},
		Relay: RelayConfig{
			Listen:   defaultRelayListen,
			Upstream: defaultRelayUpstream,
			Provider: defaultProvider,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Events: EventsConfig{
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
