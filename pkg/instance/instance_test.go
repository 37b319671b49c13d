package instance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv(idEnvVar, "api-7")
	assert.Equal(t, "api-7", GetID("api"))
}

func TestGetIDFallsBackToHostname(t *testing.T) {
	t.Setenv(idEnvVar, "")
	restore := hostname
	t.Cleanup(func() { hostname = restore })

	hostname = func() (string, error) { return "pod-abc", nil }
	assert.Equal(t, "pod-abc", GetID("worker"))

	hostname = func() (string, error) { return "", errors.New("no host") }
	assert.Equal(t, "worker-0", GetID("worker"))
	assert.Equal(t, "shopfront-0", GetID(""))
}
