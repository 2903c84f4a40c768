package main

import (
	"context"
	"fmt"
	"os"

	logginginfra "github.com/fleetctl/fleetctl/internal/infrastructure/logging"
)

func main() {
	appLogger, err := logginginfra.New(logginginfra.Options{
		Level:     "info",
		Component: "cli",
		Layer:     "infrastructure",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application logger: %v\n", err)
		os.Exit(1)
	}

	correlationID := logginginfra.GenerateCorrelationID()
	ctx := logginginfra.WithCorrelationID(context.Background(), correlationID)

	app := newProductionAppContext(appLogger)

	rootCmd := newRootCmd(app)
	appLogger.Info(ctx, "starting fleetctl command", "pid", os.Getpid())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
