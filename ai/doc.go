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


// Package ai provides the embedding abstraction used by the indexer and
// by semantic search.
//
// The core interface is Embedder. Provider owns an Embedder together with
// its lifecycle. Two implementation packages exist:
//
//   - ai/openai: OpenAI-compatible APIs through langchaingo
//   - ai/mock: deterministic test doubles
//
// Public production constructors return interfaces; mock constructors
// return concrete types so tests can inspect call counts and inject
// behavior.
//
//	cfg := ai.NewConfig(ai.WithEmbeddingModel("text-embedding-3-small"))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "quarterly revenue by region")
package ai
