package transport

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownTransportError_Error(t *testing.T) {
	err := &UnknownTransportError{
		Type:      "carrier_pigeon",
		Available: []string{"http", "memory"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "carrier_pigeon", "error should mention the unknown type")
	assert.Contains(t, msg, "leapref.yaml", "error should mention config file")
}

func TestRegister(t *testing.T) {
	Register("test_transport_internal", func(_ core.TransportConfig, _ *slog.Logger) (core.Transport, error) {
		return nil, nil
	})

	assert.True(t, IsRegistered("test_transport_internal"))
	factory, ok := Get("test_transport_internal")
	assert.True(t, ok)
	assert.NotNil(t, factory)
	assert.Contains(t, List(), "test_transport_internal")
}

func TestNew(t *testing.T) {
	t.Run("empty type", func(t *testing.T) {
		_, err := New(core.TransportConfig{}, nil)
		require.Error(t, err)
		assert.Equal(t, "transport type not specified", err.Error())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(core.TransportConfig{Type: "nope"}, nil)
		var unknown *UnknownTransportError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "nope", unknown.Type)
	})

	t.Run("factory error", func(t *testing.T) {
		boom := errors.New("boom")
		Register("test_transport_failing", func(core.TransportConfig, *slog.Logger) (core.Transport, error) {
			return nil, boom
		})
		_, err := New(core.TransportConfig{Type: "test_transport_failing"}, nil)
		assert.ErrorIs(t, err, boom)
	})
}
