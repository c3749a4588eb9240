package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKeepsKindAndTimestamp(t *testing.T) {
	e := Interrupted()
	b, err := EncodeEntry(e)
	require.NoError(t, err)

	got, err := DecodeEntry(b)
	require.NoError(t, err)
	assert.Equal(t, KindInterrupted, got.Kind)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))

	ts, ok := entryTimestampMs(b)
	require.True(t, ok)
	assert.Equal(t, e.Timestamp.UnixMilli(), ts)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	b, err := EncodeEntry(NoOp())
	require.NoError(t, err)
	b[len(b)-5] ^= 0xff
	_, err = DecodeEntry(b)
	require.ErrorIs(t, err, ErrCorruptRecord)

	_, err = DecodeEntry([]byte{1})
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestHintKinds(t *testing.T) {
	hints := []Kind{KindSuspend, KindError, KindInterrupted, KindExited, KindJump, KindNoOp, KindChangeRetryPolicy}
	for _, k := range hints {
		assert.True(t, k.IsHint(), k.String())
	}
	for _, k := range []Kind{KindCreate, KindExportedFunctionInvoked, KindExportedFunctionCompleted, KindImportedFunctionInvoked} {
		assert.False(t, k.IsHint(), k.String())
	}
}
