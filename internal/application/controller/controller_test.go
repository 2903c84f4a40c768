package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/fleetplugin"
	"github.com/fleetctl/fleetctl/internal/ports"
)

// fakeShell is a no-op ports.RemoteShell sufficient for controller tests,
// which exercise scheduling rather than transport behavior.
type fakeShell struct{ host string }

func (f fakeShell) Host() string { return f.host }
func (f fakeShell) Execute(ctx context.Context, cmd string, canFail bool) (ports.CommandResult, error) {
	return ports.CommandResult{}, nil
}
func (f fakeShell) RunScript(ctx context.Context, lines []string, canFail bool) (ports.CommandResult, error) {
	return ports.CommandResult{}, nil
}
func (f fakeShell) Put(ctx context.Context, localPath, remotePath string) error { return nil }
func (f fakeShell) Get(ctx context.Context, remotePath, localPath string) error { return nil }
func (f fakeShell) Close() error                                               { return nil }

// fakeDrone records which manifests it was asked to deploy and lets the
// test script which ones should fail.
type fakeDrone struct {
	mu            sync.Mutex
	host          string
	deployed      []string
	fail          map[string]bool
	delay         map[string]time.Duration
	registeredFor string
	registerFail  bool
}

func (d *fakeDrone) Host() string                  { return d.host }
func (d *fakeDrone) Shell() ports.RemoteShell       { return fakeShell{host: d.host} }
func (d *fakeDrone) InitHost(ctx context.Context) error { return nil }
func (d *fakeDrone) Discover(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}
func (d *fakeDrone) Configure(ctx context.Context, facts map[string]string) error { return nil }
func (d *fakeDrone) AddModule(path string) error                                 { return nil }
func (d *fakeDrone) AddResource(path string) error                               { return nil }
func (d *fakeDrone) AddManifest(ctx context.Context, name string) error          { return nil }
func (d *fakeDrone) AddDataFile(ctx context.Context, name string) error          { return nil }
func (d *fakeDrone) MakeBuild(ctx context.Context) error                         { return nil }
func (d *fakeDrone) Deploy(ctx context.Context, manifest string, timeoutSeconds int) (ports.DeployResult, error) {
	d.mu.Lock()
	wait := d.delay[manifest]
	d.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	d.mu.Lock()
	d.deployed = append(d.deployed, manifest)
	shouldFail := d.fail[manifest]
	d.mu.Unlock()
	if shouldFail {
		return ports.DeployResult{Manifest: manifest, Host: d.host, Outcome: "fail"}, nil
	}
	return ports.DeployResult{Manifest: manifest, Host: d.host, Outcome: "ok"}, nil
}
func (d *fakeDrone) Register(ctx context.Context, master string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registerFail {
		return "", fmt.Errorf("registration refused")
	}
	d.registeredFor = master
	return "fingerprint-" + d.host, nil
}
func (d *fakeDrone) Clean(ctx context.Context) error                             { return nil }

type fakeFactory struct {
	mu     sync.Mutex
	drones map[string]*fakeDrone
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{drones: make(map[string]*fakeDrone)}
}

func (f *fakeFactory) NewDrone(host string) (ports.Drone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDrone{host: host, fail: make(map[string]bool), delay: make(map[string]time.Duration)}
	f.drones[host] = d
	return d, nil
}

// planStep emits a single fixed PlanRecord.
type planStep struct {
	name   string
	record fleetplugin.PlanRecord
}

func (s planStep) Name() string { return s.name }
func (s planStep) RunPlan(ctx context.Context, session *fleetplugin.Session) ([]fleetplugin.PlanRecord, error) {
	return []fleetplugin.PlanRecord{s.record}, nil
}

func newTestConfig(t *testing.T, hosts ...string) *config.Config {
	t.Helper()
	cfg := config.New(",")
	for i, h := range hosts {
		key := fmt.Sprintf("main/node%d_host", i)
		require.NoError(t, cfg.Declare(config.Metadata{Key: key}))
		require.NoError(t, cfg.Set(key, h))
	}
	return cfg
}

func TestRunDeploysIndependentMarkersThenDependent(t *testing.T) {
	factory := newFakeFactory()
	cfg := newTestConfig(t, "h1", "h2")

	plugins := []fleetplugin.Plugin{
		{
			Name: "fixture",
			Plan: []fleetplugin.PlanStep{
				planStep{name: "p1", record: fleetplugin.PlanRecord{Host: "h1", Manifest: "m1", Marker: "prerequisite_1"}},
				planStep{name: "p2", record: fleetplugin.PlanRecord{Host: "h2", Manifest: "m2", Marker: "prerequisite_2"}},
				planStep{name: "p3", record: fleetplugin.PlanRecord{Host: "h1", Manifest: "m3", Marker: "final", Prerequisites: []string{"prerequisite_1", "prerequisite_2"}}},
			},
		},
	}

	c := &Controller{
		Plugins: plugins,
		Config:  cfg,
		Project: config.DefaultProject(),
		Drones:  factory,
	}

	err := c.Run(context.Background())
	require.NoError(t, err)

	d1 := factory.drones["h1"]
	d2 := factory.drones["h2"]
	assert.Contains(t, d1.deployed, "m1")
	assert.Contains(t, d1.deployed, "m3")
	assert.Contains(t, d2.deployed, "m2")
}

func TestRunDeploysSameHostManifestsInRegistrationOrder(t *testing.T) {
	factory := newFakeFactory()
	cfg := newTestConfig(t, "h1", "h2")

	plugins := []fleetplugin.Plugin{
		{
			Name: "fixture",
			Plan: []fleetplugin.PlanStep{
				// m1 is registered first but sleeps longer than m2, so if
				// the two ran concurrently instead of in registration
				// order, m2 would be observed completing first.
				planStep{name: "p1", record: fleetplugin.PlanRecord{Host: "h1", Manifest: "m1", Marker: "same-host"}},
				planStep{name: "p2", record: fleetplugin.PlanRecord{Host: "h1", Manifest: "m2", Marker: "same-host"}},
				planStep{name: "p3", record: fleetplugin.PlanRecord{Host: "h2", Manifest: "m3", Marker: "same-host"}},
			},
		},
	}

	c := &Controller{
		Plugins: plugins,
		Config:  cfg,
		Project: config.DefaultProject(),
		Drones:  factory,
	}

	require.NoError(t, c.runInit(context.Background()))
	factory.drones["h1"].delay["m1"] = 20 * time.Millisecond

	require.NoError(t, c.runDeployment(context.Background()))

	assert.Equal(t, []string{"m1", "m2"}, factory.drones["h1"].deployed)
	assert.Equal(t, []string{"m3"}, factory.drones["h2"].deployed)
}

func TestRunFinishOnErrorAggregatesFailures(t *testing.T) {
	factory := newFakeFactory()
	cfg := newTestConfig(t, "h1", "h2")

	plugins := []fleetplugin.Plugin{
		{
			Name: "fixture",
			Plan: []fleetplugin.PlanStep{
				planStep{name: "p1", record: fleetplugin.PlanRecord{Host: "h1", Manifest: "bad", Marker: "one"}},
				planStep{name: "p2", record: fleetplugin.PlanRecord{Host: "h2", Manifest: "good", Marker: "two"}},
			},
		},
	}

	c := &Controller{
		Plugins:       plugins,
		Config:        cfg,
		Project:       config.DefaultProject(),
		Drones:        factory,
		FinishOnError: true,
	}

	// inject the failure after construction, once drones exist
	err := c.runInit(context.Background())
	require.NoError(t, err)
	factory.drones["h1"].fail["bad"] = true

	deployErr := c.runDeployment(context.Background())
	require.Error(t, deployErr)
	assert.Contains(t, factory.drones["h2"].deployed, "good")
}

// fakeEventPublisher records every published event's type for assertions,
// discarding subscriptions since nothing in these tests needs them.
type fakeEventPublisher struct {
	mu     sync.Mutex
	events []ports.FleetEvent
}

func (p *fakeEventPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fe, ok := event.(ports.FleetEvent); ok {
		p.events = append(p.events, fe)
	}
	return nil
}

func (p *fakeEventPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func (p *fakeEventPublisher) byType(eventType string) []ports.FleetEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ports.FleetEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestRunInitRegistersDronesWhenEnabled(t *testing.T) {
	factory := newFakeFactory()
	cfg := newTestConfig(t, "h1", "h2")
	events := &fakeEventPublisher{}

	project := config.DefaultProject()
	project.RegisterWithMaster = true
	project.MasterHost = "puppetmaster.example.com"

	c := &Controller{
		Config:  cfg,
		Project: project,
		Drones:  factory,
		Events:  events,
	}

	require.NoError(t, c.runInit(context.Background()))

	assert.Equal(t, "puppetmaster.example.com", factory.drones["h1"].registeredFor)
	assert.Equal(t, "puppetmaster.example.com", factory.drones["h2"].registeredFor)

	registered := events.byType(ports.EventDroneRegistered)
	assert.Len(t, registered, 2)
	for _, e := range registered {
		assert.Contains(t, e.Data["fingerprint"], "fingerprint-")
	}
}

func TestRegisterDronesSurfacesFailure(t *testing.T) {
	project := config.DefaultProject()
	project.RegisterWithMaster = true
	project.MasterHost = "puppetmaster.example.com"

	failing := &fakeDrone{host: "h1", fail: make(map[string]bool), registerFail: true}
	c := &Controller{
		Project: project,
		drones:  map[string]ports.Drone{"h1": failing},
	}

	err := c.registerDrones(context.Background())
	require.Error(t, err)
}
