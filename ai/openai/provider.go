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


package openai

import (
	"log/slog"

	"github.com/poiesic/tributary/ai"
)

// Provider owns the embedder built from one ai.Config.
type Provider struct {
	config   *ai.Config
	embedder *Embedder
	logger   *slog.Logger
}

var _ ai.Provider = (*Provider)(nil)

// NewProvider validates cfg and builds the embedder. Validation normalizes
// the host, so cfg may be modified.
func NewProvider(cfg *ai.Config) (ai.Provider, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "embedding-provider", "model", cfg.EmbeddingModel)
	logger.Debug("embedding provider ready", "host", cfg.EmbeddingHost)
	return &Provider{config: cfg, embedder: embedder, logger: logger}, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close is a no-op; langchaingo's HTTP client holds nothing to release.
func (p *Provider) Close() error {
	p.logger.Debug("embedding provider closed")
	return nil
}
