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


// Package storage declares the repositories the ingestion jobs write
// through. Implementations live in sub-packages:
//
//   - storage/badger keeps artifacts, documents, progress, claims and
//     cursors in one embedded BadgerDB.
//   - storage/postgres keeps progress counters and claims in a shared
//     database so several worker processes agree on backfill completion.
//
// Every key is scoped by tenant. Artifact writes overwrite by entity id
// unless the stored copy is newer (see ArtifactRepository.StoreArtifacts).
// Progress counters are incremented atomically, and a claim succeeds for
// exactly one caller per (scope, key).
//
// Implementations are safe for concurrent use.
package storage
