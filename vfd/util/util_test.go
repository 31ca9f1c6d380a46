package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDebugEnabled_False(t *testing.T) {
	t.Setenv("VFD_DEBUG", "")
	res := DebugEnabled()
	assert.False(t, res, "debug should be false")
}

func TestIsDebugEnabled_True(t *testing.T) {

	t.Setenv("VFD_DEBUG", "true")

	res := DebugEnabled()
	assert.True(t, res, "debug should be true")
}

func TestHttpTraceEnabled_Garbage(t *testing.T) {
	t.Setenv("VFD_HTTP_TRACE", "yes please")
	assert.False(t, HttpTraceEnabled())
}

func TestGetEnvOrDefault(t *testing.T) {

	t.Setenv("VFD_SOMETHING", "")
	assert.Equal(t, "fallback", GetEnvOrDefault("VFD_SOMETHING", "fallback"))

	t.Setenv("VFD_SOMETHING", "value")
	assert.Equal(t, "value", GetEnvOrDefault("VFD_SOMETHING", "fallback"))
}
