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

import (
	"fmt"
	"strings"
)

// ValidateTenantID validates a tenant id.
//
// Tenant ids are embedded in storage keys, so they must be non-empty and
// must not contain ':'.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return ErrEmptyTenantID
	}
	if strings.ContainsRune(tenantID, ':') {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}
	return nil
}

// ValidateVendor validates that a Vendor has a known value.
func ValidateVendor(v Vendor) error {
	if _, ok := vendorSources[v]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVendor, v)
	}
	return nil
}

// ValidateSource validates that a Source has a known value.
func ValidateSource(s Source) error {
	if s.Vendor() == "" {
		return fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
	return nil
}

// ValidateBatchJobConfig validates a BatchJobConfig.
//
// Validation rules:
//   - TenantID must be valid
//   - Source must be known and belong to Vendor
//   - RecordIDs must not be empty and may not exceed maxBatchSize when positive
func ValidateBatchJobConfig(cfg *BatchJobConfig, maxBatchSize int) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidJobConfig)
	}
	if err := ValidateTenantID(cfg.TenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJobConfig, err)
	}
	if err := ValidateSource(cfg.Source); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJobConfig, err)
	}
	if cfg.Source.Vendor() != cfg.Vendor {
		return fmt.Errorf("%w: source %s does not belong to vendor %s", ErrInvalidJobConfig, cfg.Source, cfg.Vendor)
	}
	if len(cfg.RecordIDs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidJobConfig, ErrEmptyRecordIDs)
	}
	if maxBatchSize > 0 && len(cfg.RecordIDs) > maxBatchSize {
		return fmt.Errorf("%w: %d record ids exceed batch size %d", ErrInvalidJobConfig, len(cfg.RecordIDs), maxBatchSize)
	}
	return nil
}

// ValidateConnection validates a tenant/vendor pair carried by root,
// incremental, webhook and prune jobs.
func ValidateConnection(tenantID string, vendor Vendor) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJobConfig, err)
	}
	if err := ValidateVendor(vendor); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJobConfig, err)
	}
	return nil
}

// ValidateArtifact validates an Artifact before it is persisted.
func ValidateArtifact(a *Artifact) error {
	if a == nil {
		return fmt.Errorf("%w: artifact is nil", ErrInvalidArtifact)
	}
	if a.EntityID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, ErrEmptyEntityID)
	}
	if err := ValidateTenantID(a.TenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if err := ValidateSource(a.Source); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	return nil
}
