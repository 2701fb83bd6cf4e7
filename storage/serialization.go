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

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/poiesic/tributary/core"
)

// MarshalCounter serializes a counter value to 8 big-endian bytes.
func MarshalCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// UnmarshalCounter deserializes a counter value.
func UnmarshalCounter(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: counter has %d bytes", ErrTruncatedData, len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// MarshalArtifact serializes an Artifact to bytes.
func MarshalArtifact(a *core.Artifact) ([]byte, error) {
	return marshal(a)
}

// UnmarshalArtifact deserializes an Artifact from bytes.
func UnmarshalArtifact(data []byte) (*core.Artifact, error) {
	var a core.Artifact
	if err := unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(d *core.Document) ([]byte, error) {
	return marshal(d)
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	var d core.Document
	if err := unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// MarshalSyncCursor serializes a SyncCursor to bytes.
func MarshalSyncCursor(c *core.SyncCursor) ([]byte, error) {
	return marshal(c)
}

// UnmarshalSyncCursor deserializes a SyncCursor from bytes.
func UnmarshalSyncCursor(data []byte) (*core.SyncCursor, error) {
	var c core.SyncCursor
	if err := unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty value", ErrTruncatedData)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return nil
}
