package redis_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "techgenie/adapters/redis"
)

type testPayload struct {
	Room   string
	Event  string
	Amount int64
	At     time.Time
}

func TestEncodeDecodeMessage(t *testing.T) {
	original := testPayload{
		Room:   "auction:123",
		Event:  "bidUpdate",
		Amount: 1500,
		At:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	message, err := redisadapter.EncodeMessage(original)
	require.NoError(t, err)
	require.Contains(t, message, "data")

	decoded, err := redisadapter.DecodeMessage[testPayload](message)
	require.NoError(t, err)
	assert.Equal(t, original.Room, decoded.Room)
	assert.Equal(t, original.Event, decoded.Event)
	assert.Equal(t, original.Amount, decoded.Amount)
	assert.True(t, original.At.Equal(decoded.At))
}

func TestEncodeMessageRejectsPointer(t *testing.T) {
	_, err := redisadapter.EncodeMessage(&testPayload{})
	assert.ErrorIs(t, err, redisadapter.ErrPointerType)
}

func TestDecodeMessageEmpty(t *testing.T) {
	decoded, err := redisadapter.DecodeMessage[testPayload](map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, testPayload{}, decoded)
}

func TestDecodeMessageInvalidField(t *testing.T) {
	_, err := redisadapter.DecodeMessage[testPayload](map[string]any{"data": 42})
	assert.Error(t, err)

	_, err = redisadapter.DecodeMessage[testPayload](map[string]any{"data": "not-base64!!!"})
	assert.Error(t, err)
}
