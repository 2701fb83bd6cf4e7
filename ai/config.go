// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"errors"
	"strings"
)

// Config holds configuration for the embedding service and for the
// chunking that feeds it.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string `toml:"embedding_host" yaml:"embedding_host"`

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string `toml:"embedding_model" yaml:"embedding_model"`

	// Token authenticates against hosted APIs. Local servers accept "none".
	Token string `toml:"token" yaml:"token"`

	// ChunkSize is the maximum number of characters per embedded chunk.
	// Default: 1000
	ChunkSize int `toml:"chunk_size" yaml:"chunk_size"`

	// ChunkOverlap is the number of characters shared by adjacent chunks.
	// Must be smaller than ChunkSize. Default: 100
	ChunkOverlap int `toml:"chunk_overlap" yaml:"chunk_overlap"`

	// BatchSize caps the texts sent in one embedding request.
	// Default: 32
	BatchSize int `toml:"batch_size" yaml:"batch_size"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithToken sets the API token.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithChunking sets the chunk size and overlap.
func WithChunking(size, overlap int) ConfigOption {
	return func(c *Config) {
		c.ChunkSize = size
		c.ChunkOverlap = overlap
	}
}

// WithBatchSize sets the number of texts per embedding request.
func WithBatchSize(size int) ConfigOption {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// DefaultConfig returns a Config with sensible defaults for a local
// OpenAI-compatible service.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  "http://localhost:11434/v1",
		EmbeddingModel: "embeddinggemma",
		Token:          "none",
		ChunkSize:      1000,
		ChunkOverlap:   100,
		BatchSize:      32,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("https://api.openai.com/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	    WithToken(os.Getenv("OPENAI_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to the host if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/") + "/v1"
	}
	if c.Token == "" {
		c.Token = "none"
	}
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.ChunkSize < 1 {
		return errors.New("ai config: ChunkSize must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return errors.New("ai config: ChunkOverlap must be between 0 and ChunkSize")
	}
	if c.BatchSize < 1 {
		return errors.New("ai config: BatchSize must be positive")
	}
	return nil
}
