package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeError(t *testing.T) {
	t.Run("formats code and message", func(t *testing.T) {
		err := New(ErrCodeNotConnected, "Not connected")
		assert.Equal(t, "not_connected: Not connected", err.Error())
	})

	t.Run("includes detail when present", func(t *testing.T) {
		err := NewWithDetail(ErrCodeSignerFailure, "Fail to get signedCmd", "missing signingCmd")
		assert.Equal(t, "signer_failure: Fail to get signedCmd (missing signingCmd)", err.Error())
	})

	t.Run("wire messages stay stable", func(t *testing.T) {
		assert.Equal(t, "Invalid network", ErrInvalidNetwork.Message)
		assert.Equal(t, "Not connected", ErrNotConnected.Message)
		assert.Equal(t, "Fail to get signedCmd", ErrSignerFailure.Message)
	})
}

func TestSignerFailure(t *testing.T) {
	cause := errors.New("bad key material")
	err := SignerFailure(cause)

	assert.Equal(t, ErrCodeSignerFailure, err.Code)
	assert.Equal(t, "Fail to get signedCmd", err.Message)
	assert.Equal(t, "bad key material", err.Detail)
}

func TestIsBridgeError(t *testing.T) {
	t.Run("unwraps a wrapped bridge error", func(t *testing.T) {
		wrapped := fmt.Errorf("handling request: %w", ErrNotConnected)

		bridgeErr, ok := IsBridgeError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNotConnected, bridgeErr.Code)
	})

	t.Run("rejects a plain error", func(t *testing.T) {
		_, ok := IsBridgeError(errors.New("plain"))
		assert.False(t, ok)
	})
}
