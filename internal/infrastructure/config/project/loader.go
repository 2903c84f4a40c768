// Package project implements ports.ProjectLoader, resolving the single
// FLEETCTL_PROJECT environment-variable override onto a Go plugin-style
// registry of named overrides, falling back to config.DefaultProject.
// Overrides are registered ahead of time by name and looked up by the
// environment variable's value, since Go has no equivalent to loading an
// arbitrary module path at runtime.
package project

import (
	"context"
	"os"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// Override is a named, partial set of Project field values applied over
// config.DefaultProject() when FLEETCTL_PROJECT selects it.
type Override func(config.Project) config.Project

// Loader implements ports.ProjectLoader.
type Loader struct {
	overrides map[string]Override
}

// New constructs a Loader with no registered overrides; Load then always
// returns config.DefaultProject() unless overrides are registered via
// Register first.
func New() *Loader {
	return &Loader{overrides: make(map[string]Override)}
}

// Register names an override so FLEETCTL_PROJECT=name selects it.
func (l *Loader) Register(name string, override Override) {
	l.overrides[name] = override
}

// Load resolves config.ProjectEnvVar against the registered overrides,
// applying it on top of the defaults. An unset environment variable is
// not an error; an unknown non-empty value is.
func (l *Loader) Load(ctx context.Context) (config.Project, error) {
	base := config.DefaultProject()
	name := os.Getenv(config.ProjectEnvVar)
	if name == "" {
		return base, nil
	}
	override, ok := l.overrides[name]
	if !ok {
		return config.Project{}, ferrors.New(ferrors.CodeConfig,
			"unknown project override \""+name+"\" named by "+config.ProjectEnvVar)
	}
	return override(base), nil
}
