package main

import (
	"context"

	"github.com/fleetctl/fleetctl/internal/infrastructure/fleetplugin"
	"github.com/fleetctl/fleetctl/internal/ports"
	pluginsql "github.com/fleetctl/fleetctl/internal/plugins/sql"
)

// registerBuiltinPlugins declares every plugin fleetctl ships with. Third
// party plugins would register here too, in the order they should be
// applied.
func registerBuiltinPlugins(registry *fleetplugin.Registry, logger ports.Logger) {
	ctx := context.Background()
	if err := registry.Register(pluginsql.Plugin()); err != nil && logger != nil {
		logger.Warn(ctx, "failed to register builtin plugin", "plugin", "sql", "error", err)
	}
}
