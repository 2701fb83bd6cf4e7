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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidJobConfig indicates a job configuration failed validation.
	ErrInvalidJobConfig = errors.New("invalid job config")

	// ErrInvalidArtifact indicates an Artifact failed validation.
	ErrInvalidArtifact = errors.New("invalid artifact")

	// ErrEmptyTenantID indicates the tenant id is missing.
	ErrEmptyTenantID = errors.New("tenant id cannot be empty")

	// ErrInvalidTenantID indicates the tenant id contains reserved characters.
	ErrInvalidTenantID = errors.New("tenant id contains reserved characters")

	// ErrUnknownVendor indicates a vendor value outside the known set.
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrUnknownSource indicates a source value outside the known set.
	ErrUnknownSource = errors.New("unknown source")

	// ErrEmptyRecordIDs indicates a batch without record ids.
	ErrEmptyRecordIDs = errors.New("record ids cannot be empty")

	// ErrEmptyEntityID indicates the entity id is missing.
	ErrEmptyEntityID = errors.New("entity id cannot be empty")
)
