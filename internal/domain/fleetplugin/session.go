package fleetplugin

import (
	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/manifest"
)

// Session is the scoped registry threaded into plan steps, replacing the
// module-level manifest and data-file libraries the installer's original
// design used. Plugins never touch process-wide state directly; the
// controller owns one Session per run and hands it to each plan step.
type Session struct {
	Config    *config.Config
	Manifests *manifest.Library
	Hosts     []string
}

// NewSession constructs a Session wired to cfg and a freshly created
// manifest library rooted at scratchDir.
func NewSession(cfg *config.Config, scratchDir string) *Session {
	return NewSessionWithLibrary(cfg, manifest.New(scratchDir))
}

// NewSessionWithLibrary constructs a Session wired to cfg and an
// already-existing manifest library, so the plan step and the drones
// rendering its fragments later share the same in-memory registry.
func NewSessionWithLibrary(cfg *config.Config, lib *manifest.Library) *Session {
	return &Session{
		Config:    cfg,
		Manifests: lib,
		Hosts:     cfg.Hosts(),
	}
}
