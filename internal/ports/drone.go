package ports

import "context"

// DeployResult is the outcome of applying one manifest on one host.
type DeployResult struct {
	Manifest string
	Host     string
	Outcome  string // "ok" or "fail"
	Err      error
}

// Drone owns the lifecycle of a single host: prerequisite installation,
// fact discovery, agent configuration, build assembly and transfer,
// manifest application with log polling, and cleanup.
type Drone interface {
	Host() string

	// Shell exposes the drone's underlying remote shell so plugin
	// init/prep steps can execute host-specific setup commands.
	Shell() RemoteShell

	InitHost(ctx context.Context) error
	Discover(ctx context.Context) (map[string]string, error)
	Configure(ctx context.Context, facts map[string]string) error

	AddModule(path string) error
	AddResource(path string) error
	AddManifest(ctx context.Context, name string) error
	AddDataFile(ctx context.Context, name string) error

	MakeBuild(ctx context.Context) error
	Deploy(ctx context.Context, manifest string, timeoutSeconds int) (DeployResult, error)

	Register(ctx context.Context, master string) (string, error)
	Clean(ctx context.Context) error
}

// DroneFactory constructs a Drone for host, wired to the shared manifest
// library and configuration.
type DroneFactory interface {
	NewDrone(host string) (Drone, error)
}
