package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LORE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "LORE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "LORE_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.answer_model", typ: kString, env: "LORE_OLLAMA_ANSWER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.AnswerModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.AnswerModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "LORE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.embed_dims", typ: kInt, env: "LORE_OLLAMA_EMBED_DIMS",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedDims = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedDims },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LORE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "LORE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.min_similarity", typ: kFloat, env: "LORE_RETRIEVAL_MIN_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinSimilarity = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinSimilarity },
	},
	{
		key: "chunker.budget", typ: kInt, env: "LORE_CHUNKER_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Chunker.Budget = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunker.Budget },
	},
	{
		key: "chunker.overlap", typ: kInt, env: "LORE_CHUNKER_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunker.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunker.Overlap },
	},
	{
		key: "conversation.window", typ: kString, env: "LORE_CONVERSATION_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Conversation.Window = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.Window },
	},
	{
		key: "log.level", typ: kString, env: "LORE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
