package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	endpoint string
	data     map[string]interface{}
	err      error
	pingErr  error
	calls    int
	lastTool string
	lastArgs map[string]interface{}
}

func (f *fakeCaller) CallTool(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	f.calls++
	f.lastTool = tool
	f.lastArgs = args
	return f.data, f.err
}

func (f *fakeCaller) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeCaller) Endpoint() string { return f.endpoint }

func TestMCPCapability_Call(t *testing.T) {
	caller := &fakeCaller{endpoint: "http://search", data: map[string]interface{}{"results": []interface{}{}}}
	capability := NewMCPCapability(caller, nil)

	data, err := capability.Call(context.Background(), "duckduckgo_search", map[string]interface{}{"query": "go"})
	require.NoError(t, err)
	assert.Contains(t, data, "results")
	assert.Equal(t, "duckduckgo_search", caller.lastTool)
	assert.Equal(t, "go", caller.lastArgs["query"])
}

func TestMCPCapability_BreakerOpensAfterFailures(t *testing.T) {
	caller := &fakeCaller{endpoint: "http://image", err: errors.New("connection refused")}
	capability := NewMCPCapability(caller, NewCircuitBreakerManager(DefaultBreakerSettings()))

	for i := 0; i < 5; i++ {
		_, err := capability.Call(context.Background(), "flux_imagegen", nil)
		require.Error(t, err)
	}
	assert.Equal(t, 5, caller.calls)

	_, err := capability.Call(context.Background(), "flux_imagegen", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, caller.calls)
	assert.Equal(t, "circuit_open", capability.Status(context.Background()))
}

func TestMCPCapability_Status(t *testing.T) {
	caller := &fakeCaller{endpoint: "http://search"}
	capability := NewMCPCapability(caller, nil)
	assert.Equal(t, "connected", capability.Status(context.Background()))

	caller.pingErr = errors.New("dial tcp: refused")
	assert.Equal(t, "disconnected", capability.Status(context.Background()))
	assert.Equal(t, "http://search", capability.Endpoint())
}
