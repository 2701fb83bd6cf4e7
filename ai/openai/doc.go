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


// Package openai embeds chunk text through any server that speaks the
// OpenAI embeddings API. Requests go through langchaingo; hosted OpenAI,
// Ollama and vLLM have all been used behind it.
//
// Chunk embeddings are requested in groups of Config.BatchSize and the
// number of returned vectors is checked against the input. Query text is
// embedded one string at a time.
//
//	cfg := ai.NewConfig(
//	    ai.WithEmbeddingHost(os.Getenv("TRIBUTARY_EMBEDDING_HOST")),
//	    ai.WithEmbeddingModel("nomic-embed-text"),
//	)
//	p, err := openai.NewProvider(cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	vectors, err := p.Embedder().EmbedTexts(ctx, chunks)
package openai
