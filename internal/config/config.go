package config

type Config struct {
	Server       ServerConfig
	Ollama       OllamaConfig
	Storage      StorageConfig
	Retrieval    RetrievalConfig
	Chunker      ChunkerConfig
	Conversation ConversationConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL     string
	FastModel   string
	AnswerModel string
	EmbedModel  string
	EmbedDims   int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK          int
	MinSimilarity float64
}

type ChunkerConfig struct {
	Budget  int
	Overlap int
}

type ConversationConfig struct {
	Window string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			FastModel:   "phi3.5",
			AnswerModel: "mistral-nemo",
			EmbedModel:  "nomic-embed-text",
			EmbedDims:   768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.25,
		},
		Chunker: ChunkerConfig{
			Budget:  1000,
			Overlap: 200,
		},
		Conversation: ConversationConfig{
			Window: "30m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/lore/config.json, then applies LORE_* environment
// variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
