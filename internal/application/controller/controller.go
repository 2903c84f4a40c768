// Package controller implements the orchestrator: it loads plugins,
// constructs one drone per distinct host, runs the ordered
// init/prep/plan/deploy/clean phases, and schedules marker execution
// against the plan's dependency DAG.
package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	"github.com/fleetctl/fleetctl/internal/domain/fleetplugin"
	"github.com/fleetctl/fleetctl/internal/domain/manifest"
	"github.com/fleetctl/fleetctl/internal/domain/plan"
	"github.com/fleetctl/fleetctl/internal/ports"
)

// Controller owns one installer run: the set of loaded plugins, the
// configuration and project settings, the drones constructed for each
// distinct host, and the plan built up during planning.
type Controller struct {
	Plugins []fleetplugin.Plugin
	Config  *config.Config
	Project config.Project

	Drones    ports.DroneFactory
	Metrics   ports.MetricsCollector
	Logger    ports.Logger
	Events    ports.EventPublisher
	Manifests *manifest.Library // shared with the drone factory so rendered fragments match what gets built

	FinishOnError bool

	drones  map[string]ports.Drone
	plan    *plan.Plan
	session *fleetplugin.Session
}

// shellAdapter bridges a ports.RemoteShell into fleetplugin.RemoteShell,
// translating ports.CommandResult into fleetplugin.CommandResult since
// the two packages intentionally don't share a type to keep the domain
// layer free of a ports import.
type shellAdapter struct {
	shell ports.RemoteShell
}

func (a shellAdapter) Execute(ctx context.Context, cmd string, canFail bool) (fleetplugin.CommandResult, error) {
	r, err := a.shell.Execute(ctx, cmd, canFail)
	return fleetplugin.CommandResult{ExitCode: r.ExitCode, Stdout: r.Stdout, Stderr: r.Stderr}, err
}

func (a shellAdapter) RunScript(ctx context.Context, lines []string, canFail bool) (fleetplugin.CommandResult, error) {
	r, err := a.shell.RunScript(ctx, lines, canFail)
	return fleetplugin.CommandResult{ExitCode: r.ExitCode, Stdout: r.Stdout, Stderr: r.Stderr}, err
}

func (a shellAdapter) Host() string { return a.shell.Host() }

// Run executes the full install lifecycle: init, deployment, and
// cleanup, in that order. Cleanup always runs, even when init or
// deployment fail, mirroring the installer's always-attempt-clean
// policy.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.runInit(ctx); err != nil {
		c.runCleanup(context.Background())
		return err
	}
	deployErr := c.runDeployment(ctx)
	cleanErr := c.runCleanup(context.Background())
	if deployErr != nil {
		return deployErr
	}
	return cleanErr
}

// Plan constructs one drone per host, runs init and prep, then builds
// and finalizes the marker dependency DAG without staging or deploying
// any manifest, returning the plan for inspection.
func (c *Controller) Plan(ctx context.Context) (*plan.Plan, error) {
	hosts := c.Config.Hosts()
	sort.Strings(hosts)
	c.drones = make(map[string]ports.Drone, len(hosts))
	for _, host := range hosts {
		d, err := c.Drones.NewDrone(host)
		if err != nil {
			return nil, err
		}
		c.drones[host] = d
	}

	if err := c.runPerDroneSteps(ctx, "init", func(d ports.Drone) error { return d.InitHost(ctx) }); err != nil {
		return nil, err
	}
	if err := c.runPerDroneSteps(ctx, "prep", func(d ports.Drone) error {
		f, err := d.Discover(ctx)
		if err != nil {
			return err
		}
		return d.Configure(ctx, f)
	}); err != nil {
		return nil, err
	}

	return c.buildPlan(ctx)
}

// Clean connects to every configured host and runs cleanup only,
// without running init, planning, or deployment. It is used to recover
// state after an aborted run.
func (c *Controller) Clean(ctx context.Context) error {
	hosts := c.Config.Hosts()
	c.drones = make(map[string]ports.Drone, len(hosts))
	for _, host := range hosts {
		d, err := c.Drones.NewDrone(host)
		if err != nil {
			return err
		}
		c.drones[host] = d
	}
	return c.runCleanup(ctx)
}

func (c *Controller) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, ports.FleetEvent{Type: eventType, Data: data}); err != nil && c.Logger != nil {
		c.Logger.Warn(ctx, "failed to publish event", "event_type", eventType, "error", err)
	}
}

// runInit constructs one drone per distinct host, runs every plugin's
// init steps concurrently across drones, discovers facts and writes
// agent configuration (prep), then runs every plugin's plan step
// sequentially, finalizing the Plan and triggering each drone's build.
func (c *Controller) runInit(ctx context.Context) error {
	c.publish(ctx, ports.EventPhaseStarted, map[string]interface{}{"phase": "init"})

	hosts := c.Config.Hosts()
	sort.Strings(hosts)
	c.drones = make(map[string]ports.Drone, len(hosts))
	for _, host := range hosts {
		d, err := c.Drones.NewDrone(host)
		if err != nil {
			c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "init", "error": err.Error()})
			return err
		}
		c.drones[host] = d
	}

	if err := c.runPerDroneSteps(ctx, "init", func(d ports.Drone) error { return d.InitHost(ctx) }); err != nil {
		c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "init", "error": err.Error()})
		return err
	}

	if c.Project.RegisterWithMaster {
		if err := c.registerDrones(ctx); err != nil {
			c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "init", "error": err.Error()})
			return err
		}
	}

	facts := make(map[string]map[string]string, len(hosts))
	var factsMu sync.Mutex
	if err := c.runPerDroneSteps(ctx, "prep", func(d ports.Drone) error {
		f, err := d.Discover(ctx)
		if err != nil {
			return err
		}
		factsMu.Lock()
		facts[d.Host()] = f
		factsMu.Unlock()
		return d.Configure(ctx, f)
	}); err != nil {
		c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "prep", "error": err.Error()})
		return err
	}

	thePlan, err := c.buildPlan(ctx)
	if err != nil {
		return err
	}

	if err := c.populateBuilds(ctx, thePlan); err != nil {
		c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "build", "error": err.Error()})
		return err
	}

	c.publish(ctx, ports.EventPhaseCompleted, map[string]interface{}{"phase": "init"})
	return nil
}

// buildPlan runs every plugin's plan step in declaration order,
// accumulating plan records into a fresh Session-scoped Plan and
// finalizing its dependency DAG. It does not build or transfer anything
// to drones; callers that need manifests staged remotely must follow up
// with populateBuilds.
func (c *Controller) buildPlan(ctx context.Context) (*plan.Plan, error) {
	lib := c.Manifests
	if lib == nil {
		lib = manifest.New(c.Project.TempDir)
	}
	session := fleetplugin.NewSessionWithLibrary(c.Config, lib)
	thePlan := plan.New()
	for _, p := range c.Plugins {
		for _, step := range p.Plan {
			c.publish(ctx, ports.EventFleetStepStarted, map[string]interface{}{"phase": "plan", "step": step.Name()})
			records, err := step.RunPlan(ctx, session)
			if err != nil {
				c.publish(ctx, ports.EventFleetStepFailed, map[string]interface{}{"phase": "plan", "step": step.Name(), "error": err.Error()})
				c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "plan", "error": err.Error()})
				return nil, err
			}
			for _, rec := range records {
				if err := thePlan.AddRecord(rec.Host, rec.Manifest, rec.Marker, rec.Prerequisites); err != nil {
					return nil, err
				}
			}
			c.publish(ctx, ports.EventFleetStepCompleted, map[string]interface{}{"phase": "plan", "step": step.Name()})
		}
	}
	if err := thePlan.Finalize(); err != nil {
		c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "plan", "error": err.Error()})
		return nil, err
	}
	c.plan = thePlan
	c.session = session
	return thePlan, nil
}

// populateBuilds re-renders every manifest a marker's units reference
// onto their owning drones, then builds and transfers each drone
// concurrently. Data files are not staged: AddDataFile is not called.
func (c *Controller) populateBuilds(ctx context.Context, p *plan.Plan) error {
	for _, marker := range p.Markers() {
		for _, unit := range p.Units(marker) {
			d, ok := c.drones[unit.Host]
			if !ok {
				return ferrors.New(ferrors.CodeConfig, fmt.Sprintf("plan references unknown host %q", unit.Host))
			}
			if err := d.AddManifest(ctx, unit.Manifest); err != nil {
				return err
			}
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(c.drones))
	for _, d := range c.drones {
		wg.Add(1)
		go func(d ports.Drone) {
			defer wg.Done()
			if err := d.MakeBuild(ctx); err != nil {
				errCh <- err
			}
		}(d)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// registerDrones runs every drone's agent registration against the
// configured master concurrently, publishing the resulting certificate
// fingerprint through the Status Callback. Only invoked when the
// installer-wide register_with_master flag is set.
func (c *Controller) registerDrones(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.drones))
	for host, d := range c.drones {
		wg.Add(1)
		go func(host string, d ports.Drone) {
			defer wg.Done()
			fingerprint, err := d.Register(ctx, c.Project.MasterHost)
			if err != nil {
				errCh <- ferrors.Wrap(ferrors.CodeInstall, fmt.Sprintf("registering host %q with master %q", host, c.Project.MasterHost), err)
				return
			}
			c.publish(ctx, ports.EventDroneRegistered, map[string]interface{}{"host": host, "fingerprint": fingerprint})
		}(host, d)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// runPerDroneSteps fans a plugin step list out across every drone
// concurrently, running each drone's base operation (fn) followed by
// every registered init/prep step for that phase, and waits for all to
// finish before returning the first recorded error.
func (c *Controller) runPerDroneSteps(ctx context.Context, phase string, fn func(ports.Drone) error) error {
	c.publish(ctx, ports.EventFleetStepStarted, map[string]interface{}{"phase": phase})

	var wg sync.WaitGroup
	errCh := make(chan error, len(c.drones))
	for host, d := range c.drones {
		wg.Add(1)
		go func(host string, d ports.Drone) {
			defer wg.Done()
			if err := fn(d); err != nil {
				errCh <- ferrors.Wrap(ferrors.CodeInstall, fmt.Sprintf("phase %q failed on host %q", phase, host), err)
				return
			}
			messages := []string{}
			env := fleetplugin.DroneEnv{Host: host, Shell: shellAdapter{shell: d.Shell()}, Messages: &messages}
			for _, p := range c.Plugins {
				switch phase {
				case "init":
					for _, step := range p.Init {
						if err := step.RunInit(ctx, env); err != nil {
							errCh <- err
							return
						}
					}
				case "prep":
					for _, step := range p.Prep {
						if err := step.RunPrep(ctx, env); err != nil {
							errCh <- err
							return
						}
					}
				}
			}
		}(host, d)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			c.publish(ctx, ports.EventFleetStepFailed, map[string]interface{}{"phase": phase, "error": err.Error()})
			return err
		}
	}
	c.publish(ctx, ports.EventFleetStepCompleted, map[string]interface{}{"phase": phase})
	return nil
}

// runDeployment walks the plan's unblocked markers, running each newly
// unblocked marker in its own goroutine; within a marker, runMarker
// applies each host's units sequentially in registration order, with
// different hosts in parallel. Peers are cancelled on the first error
// unless FinishOnError is set.
func (c *Controller) runDeployment(ctx context.Context) error {
	c.publish(ctx, ports.EventPhaseStarted, map[string]interface{}{"phase": "deploy"})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	aggregate := &ferrors.Aggregate{}
	var aggregateMu sync.Mutex
	var firstErr error
	var firstErrOnce sync.Once

	for c.plan.Pending() {
		ready := c.plan.Unblocked()
		if len(ready) == 0 {
			break
		}
		var wg sync.WaitGroup
		for _, marker := range ready {
			c.plan.MarkInProgress(marker)
			wg.Add(1)
			go func(marker string) {
				defer wg.Done()
				c.runMarker(ctx, marker, aggregate, &aggregateMu, &firstErr, &firstErrOnce, cancel)
			}(marker)
		}
		wg.Wait()
		if firstErr != nil && !c.FinishOnError {
			break
		}
	}

	if c.FinishOnError {
		if err := aggregate.ErrOrNil(); err != nil {
			c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "deploy", "error": err.Error()})
			return err
		}
		c.publish(ctx, ports.EventPhaseCompleted, map[string]interface{}{"phase": "deploy"})
		return nil
	}
	if firstErr != nil {
		c.publish(ctx, ports.EventPhaseFailed, map[string]interface{}{"phase": "deploy", "error": firstErr.Error()})
		return firstErr
	}
	c.publish(ctx, ports.EventPhaseCompleted, map[string]interface{}{"phase": "deploy"})
	return nil
}

func (c *Controller) runMarker(
	ctx context.Context,
	marker string,
	aggregate *ferrors.Aggregate,
	aggregateMu *sync.Mutex,
	firstErr *error,
	firstErrOnce *sync.Once,
	cancel context.CancelFunc,
) {
	c.publish(ctx, ports.EventMarkerStarted, map[string]interface{}{"marker": marker})
	start := time.Now()

	units := c.plan.Units(marker)
	var wg sync.WaitGroup
	failed := false
	var failedMu sync.Mutex

	// Group units by host, preserving registration order within each
	// host's list, so manifests for the same host in this marker apply
	// sequentially in one goroutine while different hosts run in
	// parallel.
	order := make([]string, 0, len(units))
	byHost := make(map[string][]plan.Unit, len(units))
	for _, unit := range units {
		if _, seen := byHost[unit.Host]; !seen {
			order = append(order, unit.Host)
		}
		byHost[unit.Host] = append(byHost[unit.Host], unit)
	}

	for _, host := range order {
		wg.Add(1)
		go func(host string, hostUnits []plan.Unit) {
			defer wg.Done()
			d, ok := c.drones[host]
			if !ok {
				return
			}
			for _, unit := range hostUnits {
				select {
				case <-ctx.Done():
					return
				default:
				}
				result, err := d.Deploy(ctx, unit.Manifest, 0)
				if err != nil || result.Outcome != "ok" {
					if err == nil {
						err = ferrors.New(ferrors.CodeLog, fmt.Sprintf("manifest %q failed on host %q", unit.Manifest, unit.Host))
					}
					failedMu.Lock()
					failed = true
					failedMu.Unlock()
					if c.FinishOnError {
						aggregateMu.Lock()
						aggregate.Add(err)
						aggregateMu.Unlock()
					} else {
						firstErrOnce.Do(func() {
							*firstErr = err
							cancel()
						})
						return
					}
				}
			}
		}(host, byHost[host])
	}
	wg.Wait()

	c.plan.MarkFinished(marker)
	if c.Metrics != nil {
		outcome := "ok"
		if failed {
			outcome = "fail"
		}
		c.Metrics.ObserveHistogram(ctx, "marker_duration_seconds", time.Since(start).Seconds(), map[string]string{"marker": marker, "outcome": outcome})
		c.Metrics.IncCounter(ctx, "markers_finished_total", map[string]string{"outcome": outcome})
	}
	if failed {
		c.publish(ctx, ports.EventMarkerFailed, map[string]interface{}{"marker": marker})
	} else {
		c.publish(ctx, ports.EventMarkerCompleted, map[string]interface{}{"marker": marker})
	}
}

// runCleanup always runs every plugin clean step and every drone's
// Clean, regardless of earlier phase outcomes. Errors from either are
// logged as warnings and never fail the run: it always returns nil.
func (c *Controller) runCleanup(ctx context.Context) error {
	c.publish(ctx, ports.EventPhaseStarted, map[string]interface{}{"phase": "clean"})

	for _, p := range c.Plugins {
		for _, step := range p.Clean {
			if c.session == nil {
				continue
			}
			if err := step.RunClean(ctx, c.session); err != nil && c.Logger != nil {
				c.Logger.Warn(ctx, "clean step failed", "step", step.Name(), "error", err)
			}
		}
	}

	var wg sync.WaitGroup
	for _, d := range c.drones {
		wg.Add(1)
		go func(d ports.Drone) {
			defer wg.Done()
			if err := d.Clean(ctx); err != nil && c.Logger != nil {
				c.Logger.Warn(ctx, "drone cleanup failed", "host", d.Host(), "error", err)
			}
		}(d)
	}
	wg.Wait()

	c.publish(ctx, ports.EventPhaseCompleted, map[string]interface{}{"phase": "clean"})
	return nil
}
