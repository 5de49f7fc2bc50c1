package providers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
)

func TestNewMockProvider(t *testing.T) {
	provider := NewMockProvider("test")

	assert.NotNil(t, provider)
	assert.Equal(t, "test", provider.Name())
}

func TestMockProvider_Send_Success(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithFailureRate(0.0))

	result, err := provider.Send(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "sent", result.Status)
	assert.Contains(t, result.MessageID, "@test.mock>")
	assert.Equal(t, int64(1), provider.Calls())
}

func TestMockProvider_Send_Failure(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithFailureRate(1.0))

	result, err := provider.Send(context.Background(), testPayload())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, domainErrors.StatusCode(err))
	assert.True(t, domainErrors.IsRetriable(err))
}

func TestMockProvider_Send_FailureStatus(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithFailureRate(1.0), WithFailureStatus(http.StatusUnauthorized))

	_, err := provider.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, domainErrors.IsClientError(err))
}

func TestMockProvider_Send_Timeout(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithTimeoutRate(1.0))

	_, err := provider.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
	assert.Equal(t, http.StatusRequestTimeout, domainErrors.StatusCode(err))
}

func TestMockProvider_Send_ContextCancelled(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Send(ctx, testPayload())
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestTimeout, domainErrors.StatusCode(err))
}
