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


package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/poiesic/tributary/ai"
)

// Dimensions is the length of the vectors produced by default.
const Dimensions = 64

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	mu        sync.Mutex
	callCount int
	texts     int
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.record(1)

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return Vector(text), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.record(len(texts))

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = Vector(text)
	}
	return vectors, nil
}

func (m *MockEmbedder) record(texts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.texts += texts
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// TextCount returns the number of texts embedded across all calls.
func (m *MockEmbedder) TextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Reset clears the counters and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.texts = 0
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

// Vector returns the deterministic unit vector the mock produces for text.
// The same text always produces the same vector.
func Vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, Dimensions)
	var sumSquares float64
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 - 0.5
		sumSquares += float64(vector[i]) * float64(vector[i])
	}
	if sumSquares > 0 {
		norm := float32(1 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
