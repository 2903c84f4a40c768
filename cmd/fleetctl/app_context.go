package main

import (
	"context"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/fleetctl/fleetctl/internal/application/controller"
	domainconfig "github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	"github.com/fleetctl/fleetctl/internal/domain/logcheck"
	"github.com/fleetctl/fleetctl/internal/domain/manifest"
	inifleetconfig "github.com/fleetctl/fleetctl/internal/infrastructure/config/ini"
	projectconfig "github.com/fleetctl/fleetctl/internal/infrastructure/config/project"
	"github.com/fleetctl/fleetctl/internal/infrastructure/drone"
	"github.com/fleetctl/fleetctl/internal/infrastructure/events"
	"github.com/fleetctl/fleetctl/internal/infrastructure/fleetplugin"
	"github.com/fleetctl/fleetctl/internal/infrastructure/metrics"
	"github.com/fleetctl/fleetctl/internal/infrastructure/ssh"
	"github.com/fleetctl/fleetctl/internal/ports"
)

// AppContext bundles the long-lived services created at startup: the
// logger, event publisher, plugin registry, and the two loaders a
// configuration path is resolved through. A Controller is built fresh
// per invocation, once a --config path and its flags are known.
type AppContext struct {
	Logger   ports.Logger
	Events   ports.EventPublisher
	Metrics  ports.MetricsCollector
	Registry *fleetplugin.Registry

	FleetConfig *inifleetconfig.Loader
	Project     *projectconfig.Loader
}

// CommandContext returns the command's context (falling back to
// Background) together with a component-scoped logger.
func (a *AppContext) CommandContext(cmd *cobra.Command, component string) (context.Context, ports.Logger) {
	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}
	return ctx, a.LoggerFor(component)
}

// LoggerFor derives a child logger scoped to component.
func (a *AppContext) LoggerFor(component string) ports.Logger {
	if a == nil || a.Logger == nil {
		return nil
	}
	return a.Logger.With("component", component)
}

// buildInfo bundles everything resolved while wiring a Controller for a
// single invocation, so subcommands can reach into it for things the
// Controller itself doesn't expose (e.g. the resolved Project, to size a
// --timeout default).
type buildInfo struct {
	controller *controller.Controller
	project    domainconfig.Project
	cfg        *domainconfig.Config
}

// buildController loads the fleet configuration file at path, merges it
// against every registered plugin's declared parameters, resolves
// project settings, and wires a Controller ready to run: config file →
// plugin metadata → project defaults → drone factory.
func buildController(ctx context.Context, app *AppContext, path string, finishOnError bool) (*buildInfo, error) {
	project, err := app.Project.Load(ctx)
	if err != nil {
		return nil, err
	}
	if finishOnError {
		project.FinishOnError = true
	}

	raw, err := app.FleetConfig.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	cfg := domainconfig.New(project.MultiSep)
	if err := app.Registry.MergeParameters(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Hydrate(raw); err != nil {
		return nil, err
	}

	surrogates := make([]logcheck.Surrogate, 0, len(project.ErrorSurrogates))
	for _, rule := range project.ErrorSurrogates {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.CodeConfig, "compile error surrogate pattern", err)
		}
		surrogates = append(surrogates, logcheck.Surrogate{Pattern: re, Template: rule.Template})
	}
	checker, err := logcheck.New(project.ErrorPatterns, project.ErrorIgnore, surrogates)
	if err != nil {
		return nil, err
	}

	dialer, err := ssh.NewDialer(ssh.Options{
		User:       project.SSHUser,
		Port:       project.SSHPort,
		PrivateKey: project.SSHPrivateKey,
		MaskList:   []string{project.SSHPrivateKey},
		Logger:     app.LoggerFor("ssh"),
	})
	if err != nil {
		return nil, err
	}

	lib := manifest.New(project.TempDir)

	factory := &drone.Factory{
		Dialer:    dialer,
		Manifests: lib,
		Config:    cfg,
		Project:   project,
		Checker:   checker,
		BaseDir:   project.TempDir,
	}

	ctrl := &controller.Controller{
		Plugins:       app.Registry.Plugins(),
		Config:        cfg,
		Project:       project,
		Drones:        factory,
		Metrics:       app.Metrics,
		Logger:        app.LoggerFor("controller"),
		Events:        app.Events,
		Manifests:     lib,
		FinishOnError: project.FinishOnError,
	}

	return &buildInfo{controller: ctrl, project: project, cfg: cfg}, nil
}

// newProductionAppContext wires every infrastructure adapter used outside
// of tests: charmbracelet/log logging, the logging-backed event
// publisher, the Prometheus metrics collector, the INI fleet-config
// loader, and the environment-variable project loader.
func newProductionAppContext(logger ports.Logger) *AppContext {
	registry := fleetplugin.NewRegistry()
	registerBuiltinPlugins(registry, logger)

	collector := metrics.New()

	return &AppContext{
		Logger:      logger,
		Events:      events.NewLoggingPublisher(logger.With("component", "event_publisher")),
		Metrics:     collector,
		Registry:    registry,
		FleetConfig: inifleetconfig.New(),
		Project:     projectconfig.New(),
	}
}
