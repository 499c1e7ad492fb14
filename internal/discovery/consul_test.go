package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistration(t *testing.T) {
	reg := registration("sortie-chat", "host-1", "10.0.0.4", 8085)
	assert.Equal(t, "sortie-chat-host-1", reg.ID)
	assert.Equal(t, "sortie-chat", reg.Name)
	require.NotNil(t, reg.Check)
	assert.Equal(t, "http://10.0.0.4:8085/health", reg.Check.HTTP)
}

func TestDeregisterWithoutRegisterIsNoop(t *testing.T) {
	r, err := NewRegistrar("127.0.0.1:1", zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.NoError(t, r.Deregister())
}
