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


package storage

import "errors"

// Sentinel errors shared by every repository implementation. Backends wrap
// them with context, so compare with errors.Is.
var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("not found")

	// ErrTransactionFailed is returned when a write could not commit,
	// typically after exhausting conflict retries.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStorageClosed is returned by writes on a closed backend.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery is returned for unusable search parameters such as a
	// non-positive limit or an empty vector.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed wraps encode and decode failures of stored values.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData is returned when a fixed-width value is too short.
	ErrTruncatedData = errors.New("truncated data")
)
