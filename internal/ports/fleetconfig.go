package ports

import (
	"context"

	domainconfig "github.com/fleetctl/fleetctl/internal/domain/config"
)

// FleetConfigLoader reads the installer's INI-like configuration file and
// produces a validated domain Config, given already-merged metadata.
type FleetConfigLoader interface {
	// Load parses path into raw key/value pairs (section/name → value),
	// honouring comments and the configured multi-value separator.
	Load(ctx context.Context, path string) (map[string]string, error)
}

// ProjectLoader resolves project-wide settings, honouring the single
// environment variable override and otherwise returning defaults.
type ProjectLoader interface {
	Load(ctx context.Context) (domainconfig.Project, error)
}
