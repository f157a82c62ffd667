package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

func TestDecodeRoundTrip(t *testing.T) {
	msg := NewUpdate("task:t1", "update",
		&Data{Primary: map[string]any{"status": "done"}},
		Metadata{Source: SourceUser, Owner: "default"})

	raw, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, TypeUpdate, got.Type)
	assert.Equal(t, "task:t1", got.Payload.Entity)
	assert.Equal(t, SourceUser, got.Metadata.Source)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","version":2,"type":"update"}`))
	require.Error(t, err)

	var cerr *ferrors.ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ferrors.CategoryValidation, cerr.Category())
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","version":1,"type":"gossip"}`))
	require.Error(t, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
}

func TestBulkPreservesOrder(t *testing.T) {
	changes := []Payload{
		{Entity: "task:t1", Action: "update"},
		{Entity: "task:t2", Action: "update"},
		{Entity: "task:t1", Action: "delete"},
	}
	msg := NewBulk(changes, Metadata{Source: SourceAutomation})

	raw, err := Encode(msg)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)

	require.Len(t, got.Payload.Changes, 3)
	assert.Equal(t, "task:t1", got.Payload.Changes[0].Entity)
	assert.Equal(t, "delete", got.Payload.Changes[2].Action)
}

func TestHeartbeatHasNoPayload(t *testing.T) {
	raw, err := Encode(NewHeartbeat())
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, got.Type)
	assert.Empty(t, got.Payload.Entity)
}
