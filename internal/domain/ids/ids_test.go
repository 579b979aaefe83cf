package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testULID = "01HYX3KQW7ERTV9XNBM2P8QJZF"

func TestNewULID(t *testing.T) {
	value, err := NewULID()

	require.NoError(t, err)
	assert.True(t, IsULID(value))
}

func TestNewULID_SortsInMintingOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev, err := newULIDAt(at)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		next, err := newULIDAt(at)
		require.NoError(t, err)
		require.Less(t, prev, next, "same-millisecond ids must keep increasing")
		prev = next
	}

	later, err := newULIDAt(at.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Less(t, prev, later)
}

func TestIsULID(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{testULID, true},
		{" " + testULID + " ", true},
		{"01hyx3kqw7ertv9xnbm2p8qjzf", true},
		{"not-a-ulid", false},
		{testULID[:25], false},
		{"01HYX3KQW7ERTV9XNBM2P8QJZU", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, IsULID(tt.value))
		})
	}
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()

	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}
