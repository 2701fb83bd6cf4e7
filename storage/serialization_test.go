package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalCounter(t *testing.T) {
	for _, v := range []int64{0, 1, 42, -3, 1 << 40} {
		decoded, err := UnmarshalCounter(MarshalCounter(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestUnmarshalCounter_Truncated(t *testing.T) {
	_, err := UnmarshalCounter([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestArtifactRoundTripKeepsSubResources(t *testing.T) {
	a := &core.Artifact{
		EntityID:        "attio_deal_d1",
		TenantID:        "t1",
		Source:          core.SourceAttioDeal,
		RecordID:        "d1",
		Content:         json.RawMessage(`{"name":"Big deal"}`),
		SubResources:    map[string][]json.RawMessage{"notes": {json.RawMessage(`{"title":"call"}`)}},
		SourceUpdatedAt: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	data, err := MarshalArtifact(a)
	require.NoError(t, err)

	decoded, err := UnmarshalArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, a.EntityID, decoded.EntityID)
	assert.JSONEq(t, `{"name":"Big deal"}`, string(decoded.Content))
	require.Len(t, decoded.SubResources["notes"], 1)
	assert.True(t, a.SourceUpdatedAt.Equal(decoded.SourceUpdatedAt))
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := UnmarshalDocument(nil)
	assert.ErrorIs(t, err, ErrTruncatedData)

	_, err = UnmarshalSyncCursor([]byte("{not json"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
