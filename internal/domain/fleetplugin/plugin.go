// Package fleetplugin defines the plugin contract that supplies parameter
// specs, module/resource paths, and phase-keyed step callables consumed
// by the controller's init/prep/plan/clean phases.
package fleetplugin

import "context"

// ParameterSpec describes one configuration key a plugin contributes.
// It is merged into configuration metadata at load time; a key already
// declared by an earlier plugin is a fatal duplicate.
type ParameterSpec struct {
	Key        string
	Default    string
	IsMulti    bool
	Options    []string
	Usage      string
	Validators []string // validator names: not_empty, integer, float, ip, port; other names impose no check
}

// PlanRecord is one (host, manifest-name, marker, prerequisites) tuple a
// plan step contributes to the deployment Plan.
type PlanRecord struct {
	Host         string
	Manifest     string
	Marker       string
	Prerequisites []string
}

// Step is one phase-scoped unit of work a plugin contributes.
type Step interface {
	// Name identifies the step for status callback reporting.
	Name() string
}

// InitStep runs once per drone during the init phase, concurrently across
// drones, with an empty facts mapping (facts are not yet discovered).
type InitStep interface {
	Step
	RunInit(ctx context.Context, env DroneEnv) error
}

// PrepStep runs once per drone during the prep phase, concurrently, after
// that drone's fact discovery and agent configuration. The discovered
// facts are not passed in DroneEnv.Facts.
type PrepStep interface {
	Step
	RunPrep(ctx context.Context, env DroneEnv) error
}

// PlanStep runs sequentially (it may consult state left by earlier plan
// steps) and returns the plan records and manifest/data-file
// registrations it contributes.
type PlanStep interface {
	Step
	RunPlan(ctx context.Context, session *Session) ([]PlanRecord, error)
}

// CleanStep runs once, not scoped to any drone, during the cleanup phase.
type CleanStep interface {
	Step
	RunClean(ctx context.Context, session *Session) error
}

// CommandResult is the outcome of a single remote command, structurally
// identical to ports.RemoteShell's result type so infrastructure shells
// satisfy RemoteShell without this package importing ports.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RemoteShell is the subset of the remote shell capability an init/prep
// step needs. Any ports.RemoteShell implementation satisfies it
// structurally.
type RemoteShell interface {
	Execute(ctx context.Context, cmd string, canFail bool) (CommandResult, error)
	RunScript(ctx context.Context, lines []string, canFail bool) (CommandResult, error)
	Host() string
}

// DroneEnv is the argument surface passed to init/prep steps: a drone's
// remote shell, a facts map, and a message sink for human-readable
// progress notes. The controller leaves Facts nil in both phases.
type DroneEnv struct {
	Host     string
	Shell    RemoteShell
	Facts    map[string]string
	Messages *[]string
}

// Plugin is the fixed shape every plugin exposes. Missing lists are
// empty; the zero value is a valid no-op plugin.
type Plugin struct {
	Name       string
	Parameters []ParameterSpec
	Modules    []string
	Resources  []string
	Init       []InitStep
	Prep       []PrepStep
	Plan       []PlanStep
	Clean      []CleanStep
}
