package docker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// EngineError Tests
// =============================================================================

func TestEngineError_Format(t *testing.T) {
	cause := errors.New("Error response from daemon: No such container: abc")
	err := NewEngineError("start container", "abc", cause)

	assert.Equal(t, "start container abc: Error response from daemon: No such container: abc", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.NotFound())

	noID := NewEngineError("list images", "", errors.New("daemon unreachable"))
	assert.Equal(t, "list images: daemon unreachable", noID.Error())
	assert.False(t, noID.NotFound())
}

func TestWrap_NilPassesThrough(t *testing.T) {
	assert.NoError(t, wrap("ping", "", nil))

	err := wrap("ping", "", errors.New("refused"))
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "refused", engineErr.Message)
}

// =============================================================================
// Translate Tests
// =============================================================================

func TestTranslate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    string
		message string
	}{
		{
			name:    "port allocated",
			raw:     "driver failed programming external connectivity: Bind for 0.0.0.0:8080 failed: port is already allocated",
			kind:    "port_in_use",
			message: "Port 8080 is already in use by another process or container",
		},
		{
			name:    "address in use",
			raw:     "listen tcp4 0.0.0.0:443: bind: address already in use",
			kind:    "port_in_use",
			message: "Port 443 is already in use by another process or container",
		},
		{name: "image", raw: "No such image: nginx:nope", kind: "image_missing"},
		{name: "network", raw: "network not found: backend", kind: "network_missing"},
		{name: "oom", raw: "cannot allocate memory", kind: "out_of_memory"},
		{name: "permission", raw: "open /data: permission denied", kind: "permission_denied"},
		{name: "mount", raw: "error mounting \"/srv\" to rootfs: not a directory", kind: "bad_mount"},
		{name: "missing container", raw: "No such container: 123", kind: "container_missing"},
		{name: "running", raw: "container 123 is already running", kind: "already_running"},
		{name: "not running", raw: "Container 123 is not running", kind: "not_running"},
		{name: "stopped", raw: "container already stopped", kind: "already_stopped"},
		{name: "driver", raw: "volume driver not found: foo", kind: "driver_unavailable"},
		{name: "fallback", raw: "something unexpected", kind: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(NewEngineError("start container", "123", errors.New(tt.raw)))

			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.raw, got.Details)
			assert.NotEmpty(t, got.Error)
			assert.NotEmpty(t, got.Suggestion)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Error)
			}
		})
	}
}

func TestTranslate_FirstMatchWins(t *testing.T) {
	// mentions both a mount and a missing container; mount comes first
	got := Translate(errors.New("No such container while preparing mount"))
	assert.Equal(t, "bad_mount", got.Kind)
}

func TestTranslate_WrappedEngineError(t *testing.T) {
	inner := NewEngineError("stop container", "x", errors.New("container already stopped"))
	got := Translate(fmt.Errorf("failed to stop: %w", inner))

	assert.Equal(t, "already_stopped", got.Kind)
	assert.Equal(t, "container already stopped", got.Details)
}

func TestTranslate_Nil(t *testing.T) {
	assert.Equal(t, Translation{}, Translate(nil))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", ShortID("sha256:0123456789abcdef"))
	assert.Equal(t, "abc", ShortID("abc"))
}
