package core

import (
	"errors"
	"testing"
)

func TestValidateTenantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "valid", id: "acme", wantErr: nil},
		{name: "empty", id: "", wantErr: ErrEmptyTenantID},
		{name: "reserved separator", id: "ac:me", wantErr: ErrInvalidTenantID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenantID(tt.id)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateTenantID() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTenantID() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBatchJobConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *BatchJobConfig
		max     int
		wantErr error
	}{
		{
			name: "valid",
			cfg:  &BatchJobConfig{TenantID: "t1", Vendor: VendorAttio, Source: SourceAttioPerson, RecordIDs: []string{"a"}},
			max:  100,
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: ErrInvalidJobConfig,
		},
		{
			name:    "missing tenant",
			cfg:     &BatchJobConfig{Vendor: VendorAttio, Source: SourceAttioPerson, RecordIDs: []string{"a"}},
			wantErr: ErrEmptyTenantID,
		},
		{
			name:    "unknown source",
			cfg:     &BatchJobConfig{TenantID: "t1", Vendor: VendorAttio, Source: "attio_list", RecordIDs: []string{"a"}},
			wantErr: ErrUnknownSource,
		},
		{
			name:    "source of another vendor",
			cfg:     &BatchJobConfig{TenantID: "t1", Vendor: VendorAttio, Source: SourcePostHogInsight, RecordIDs: []string{"a"}},
			wantErr: ErrInvalidJobConfig,
		},
		{
			name:    "empty batch",
			cfg:     &BatchJobConfig{TenantID: "t1", Vendor: VendorAttio, Source: SourceAttioPerson},
			wantErr: ErrEmptyRecordIDs,
		},
		{
			name:    "oversized batch",
			cfg:     &BatchJobConfig{TenantID: "t1", Vendor: VendorAttio, Source: SourceAttioPerson, RecordIDs: []string{"a", "b", "c"}},
			max:     2,
			wantErr: ErrInvalidJobConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchJobConfig(tt.cfg, tt.max)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateBatchJobConfig() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBatchJobConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateArtifact(t *testing.T) {
	valid := &Artifact{EntityID: "attio_deal_1", TenantID: "t1", Source: SourceAttioDeal}
	if err := ValidateArtifact(valid); err != nil {
		t.Errorf("ValidateArtifact() unexpected error = %v", err)
	}
	if err := ValidateArtifact(&Artifact{TenantID: "t1", Source: SourceAttioDeal}); !errors.Is(err, ErrEmptyEntityID) {
		t.Errorf("ValidateArtifact() error = %v, want %v", err, ErrEmptyEntityID)
	}
	if err := ValidateArtifact(nil); !errors.Is(err, ErrInvalidArtifact) {
		t.Errorf("ValidateArtifact() error = %v, want %v", err, ErrInvalidArtifact)
	}
}

func TestValidateConnection(t *testing.T) {
	if err := ValidateConnection("t1", VendorPostHog); err != nil {
		t.Errorf("ValidateConnection() unexpected error = %v", err)
	}
	if err := ValidateConnection("t1", "hubspot"); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("ValidateConnection() error = %v, want %v", err, ErrUnknownVendor)
	}
}
