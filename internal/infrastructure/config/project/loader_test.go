package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/config"
)

func TestLoadReturnsDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv(config.ProjectEnvVar, "")
	l := New()
	p, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultProject().SSHUser, p.SSHUser)
}

func TestLoadAppliesRegisteredOverride(t *testing.T) {
	l := New()
	l.Register("staging", func(p config.Project) config.Project {
		p.SSHUser = "deploy"
		p.FinishOnError = true
		return p
	})
	t.Setenv(config.ProjectEnvVar, "staging")

	p, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deploy", p.SSHUser)
	assert.True(t, p.FinishOnError)
}

func TestLoadUnknownOverrideErrors(t *testing.T) {
	l := New()
	t.Setenv(config.ProjectEnvVar, "does-not-exist")
	_, err := l.Load(context.Background())
	require.Error(t, err)
}
