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


// Package search provides semantic search over a tenant's indexed documents.
//
// The Searcher embeds the query, ranks the tenant's chunks by cosine
// similarity, keeps the best chunk of each document and boosts documents
// whose title or content contains every significant query word. Results
// can be restricted to a set of sources.
package search
