// Package drone implements the per-host worker: prerequisite
// installation, fact discovery, agent configuration, build assembly and
// transfer, manifest application with log polling, and cleanup.
package drone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	"github.com/fleetctl/fleetctl/internal/domain/logcheck"
	"github.com/fleetctl/fleetctl/internal/domain/manifest"
	"github.com/fleetctl/fleetctl/internal/infrastructure/transfer"
	"github.com/fleetctl/fleetctl/internal/ports"
)

var requiredModuleSubdirs = map[string]struct{}{
	"lib":       {},
	"manifests": {},
	"templates": {},
}

// Factory constructs Drones wired to a shared manifest library, project
// settings, and configuration, dialing a RemoteShell per host via
// dialer.
type Factory struct {
	Dialer    ports.ShellDialer
	Manifests *manifest.Library
	Config    *config.Config
	Project   config.Project
	Checker   *logcheck.Checker
	BaseDir   string // local base temp directory; per-host subdirs are created beneath it
}

// NewDrone implements ports.DroneFactory.
func (f *Factory) NewDrone(host string) (ports.Drone, error) {
	shell, err := f.Dialer.Dial(context.Background(), host)
	if err != nil {
		return nil, err
	}
	base := f.BaseDir
	if base == "" {
		base = f.Project.TempDir
	}
	runID := fmt.Sprintf("%s-%s", host, f.Project.RunID)
	local := filepath.Join(base, runID)
	remote := filepath.Join(f.Project.TempDir, runID)

	stage := transfer.New(shell, filepath.Join(local, ".stage"), filepath.Join(remote, ".stage"))

	return &Drone{
		host:      host,
		shell:     shell,
		transfer:  stage,
		cfg:       f.Config,
		project:   f.Project,
		manifests: f.Manifests,
		checker:   f.Checker,
		localDir:  local,
		remoteDir: remote,
		modules:   make(map[string]struct{}),
		resources: make(map[string]struct{}),
		dataFiles: make(map[string]struct{}),
	}, nil
}

// Drone owns the lifecycle of a single host, implementing ports.Drone.
type Drone struct {
	mu sync.Mutex

	host     string
	shell    ports.RemoteShell
	transfer ports.TarballTransfer
	cfg      *config.Config
	project  config.Project

	manifests *manifest.Library
	checker   *logcheck.Checker

	facts         map[string]string
	modules       map[string]struct{}
	resources     map[string]struct{}
	manifestNames []string
	dataFiles     map[string]struct{}

	localDir  string
	remoteDir string

	fingerprint string
}

// Host implements ports.Drone.
func (d *Drone) Host() string { return d.host }

// Shell implements ports.Drone.
func (d *Drone) Shell() ports.RemoteShell { return d.shell }

// InitHost iterates the project's install-command candidates, trying
// each with canFail=false; the first zero-exit wins. Repeats for
// dependency commands. Exhaustion is an install-error.
func (d *Drone) InitHost(ctx context.Context) error {
	if err := d.tryCandidates(ctx, d.project.InstallCommands, "agent"); err != nil {
		return err
	}
	return d.tryCandidates(ctx, d.project.DependencyCommands, "dependencies")
}

func (d *Drone) tryCandidates(ctx context.Context, candidates []string, what string) error {
	for _, cmd := range candidates {
		result, err := d.shell.Execute(ctx, cmd, false)
		if err != nil {
			return err
		}
		if result.ExitCode == 0 {
			return nil
		}
	}
	return ferrors.New(ferrors.CodeInstall, fmt.Sprintf(
		"failed to install %s on host %s: none of %d candidate command(s) succeeded", what, d.host, len(candidates)))
}

// Discover runs the project's fact-discovery tool and parses its
// "key => value" output, skipping non-conforming lines.
func (d *Drone) Discover(ctx context.Context) (map[string]string, error) {
	result, err := d.shell.Execute(ctx, d.project.FactToolCommand, true)
	if err != nil {
		return nil, err
	}
	facts := make(map[string]string)
	for _, line := range strings.Split(result.Stdout, "\n") {
		parts := strings.SplitN(line, "=>", 2)
		if len(parts) != 2 {
			continue
		}
		facts[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	d.mu.Lock()
	d.facts = facts
	d.mu.Unlock()
	return facts, nil
}

// Configure formats the project's agent configuration template from a
// context containing host identity, facts, configuration, and the
// drone's remote build directory, and writes it remotely with a single
// script. Only the agent configuration file is written; no manifest or
// data file is sent with it.
func (d *Drone) Configure(ctx context.Context, facts map[string]string) error {
	vars := d.configSnapshot()
	for k, v := range facts {
		vars[k] = v
	}
	for k, v := range map[string]string{
		"host":         d.host,
		"moduledir":    filepath.Join(d.remoteDir, "modules"),
		"logdir":       filepath.Join(d.remoteDir, "logs"),
		"datadir":      filepath.Join(d.remoteDir),
		"hiera_config": filepath.Join(d.remoteDir, "hieradata", "hiera.yaml"),
	} {
		vars[k] = v
	}
	rendered := formatPlaceholders(d.project.AgentConfigTemplate, vars)

	script := []string{
		fmt.Sprintf("mkdir -p %s", shellQuote(filepath.Dir(d.project.AgentConfigPath))),
		fmt.Sprintf("cat > %s <<'FLEETCTL_EOF'\n%s\nFLEETCTL_EOF", shellQuote(d.project.AgentConfigPath), rendered),
	}
	_, err := d.shell.RunScript(ctx, script, true)
	return err
}

// AddModule registers a local module path. The path must exist as a
// directory and contain at least one of the known Puppet module
// subdirectories (lib, manifests, templates); otherwise it's a
// structure-error.
func (d *Drone) AddModule(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return ferrors.New(ferrors.CodeStructure, fmt.Sprintf("module path %q does not exist or is not a directory", path))
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeStructure, fmt.Sprintf("reading module path %q", path), err)
	}
	found := false
	for _, e := range entries {
		if _, ok := requiredModuleSubdirs[e.Name()]; ok {
			found = true
			break
		}
	}
	if !found {
		return ferrors.New(ferrors.CodeStructure, fmt.Sprintf("module %q is not a valid module: expected one of lib/manifests/templates", path))
	}
	d.mu.Lock()
	d.modules[path] = struct{}{}
	d.mu.Unlock()
	return nil
}

// AddResource registers a local resource path, which must exist.
func (d *Drone) AddResource(path string) error {
	if _, err := os.Stat(path); err != nil {
		return ferrors.Wrap(ferrors.CodeStructure, fmt.Sprintf("resource %q does not exist", path), err)
	}
	d.mu.Lock()
	d.resources[path] = struct{}{}
	d.mu.Unlock()
	return nil
}

// AddManifest rerenders name from the shared manifest library into the
// local build directory's manifests/ area and appends it to the
// drone's manifest list, preserving call order.
func (d *Drone) AddManifest(ctx context.Context, name string) error {
	globalConfig := d.configSnapshot()
	if _, err := d.manifests.Render(name, filepath.Join(d.localDir, "manifests"), globalConfig); err != nil {
		return err
	}
	d.mu.Lock()
	d.manifestNames = append(d.manifestNames, name)
	d.mu.Unlock()
	return nil
}

// AddDataFile rerenders name's data-file library entry into
// hieradata/<name>.yaml in the local build directory.
func (d *Drone) AddDataFile(ctx context.Context, name string) error {
	text, err := d.manifests.DataFiles().Dump(name)
	if err != nil {
		return err
	}
	dir := filepath.Join(d.localDir, "hieradata")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "creating hieradata directory", err)
	}
	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("writing data file %q", name), err)
	}
	d.mu.Lock()
	d.dataFiles[name] = struct{}{}
	d.mu.Unlock()
	return nil
}

// MakeBuild creates the local build directory tree, copies registered
// modules and resources in, then transfers the whole tree to the
// remote build directory. A cooperative suspension point follows tree
// creation so other drones' builds may interleave.
func (d *Drone) MakeBuild(ctx context.Context) error {
	for _, sub := range []string{"manifests", "modules", "resources", "logs", "hieradata"} {
		if err := os.MkdirAll(filepath.Join(d.localDir, sub), 0o700); err != nil {
			return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("creating build directory %q", sub), err)
		}
	}

	d.mu.Lock()
	modules := sortedKeys(d.modules)
	resources := sortedKeys(d.resources)
	d.mu.Unlock()

	for _, module := range modules {
		dest := filepath.Join(d.localDir, "modules", filepath.Base(module))
		if err := copyTree(module, dest); err != nil {
			return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("copying module %q into build", module), err)
		}
	}
	for _, resource := range resources {
		dest := filepath.Join(d.localDir, "resources", filepath.Base(resource))
		if err := copyTree(resource, dest); err != nil {
			return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("copying resource %q into build", resource), err)
		}
	}

	yieldToScheduler(ctx)

	return d.transfer.Send(ctx, d.localDir, d.remoteDir)
}

// Deploy constructs and runs the apply command for manifest, polls for
// its completion log at a fixed cadence, and classifies the result with
// the Log Checker.
func (d *Drone) Deploy(ctx context.Context, manifestName string, timeoutSeconds int) (ports.DeployResult, error) {
	timeout := d.project.DeployDefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	remoteManifest := filepath.Join(d.remoteDir, "manifests", manifestName+".pp")
	remoteLog := filepath.Join(d.remoteDir, "logs", manifestName+".log")

	vars := map[string]string{
		"manifest": remoteManifest,
		"log":      remoteLog,
		"debug":    "",
	}
	applyCmd := formatPlaceholders(d.project.ApplyCommandTemplate, vars)
	if _, err := d.shell.Execute(ctx, applyCmd, true); err != nil {
		return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "fail", Err: err}, err
	}

	localLog := filepath.Join(d.localDir, "logs", manifestName+".log")
	deadline := time.Now().Add(timeout)
	poll := d.project.DeployPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	for {
		if time.Now().After(deadline) {
			err := ferrors.New(ferrors.CodeTimeout, fmt.Sprintf("manifest %q on host %s exceeded deploy timeout of %s", manifestName, d.host, timeout))
			return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "fail", Err: err}, err
		}

		fetchErr := d.shell.Get(ctx, remoteLog, localLog)
		if fetchErr == nil {
			content, readErr := os.ReadFile(localLog)
			if readErr != nil {
				return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "fail", Err: readErr}, readErr
			}
			if d.checker == nil {
				return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "ok"}, nil
			}
			if err := d.checker.Validate(string(content)); err != nil {
				return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "fail", Err: err}, err
			}
			return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "ok"}, nil
		}

		yieldToScheduler(ctx)
		select {
		case <-ctx.Done():
			return ports.DeployResult{Manifest: manifestName, Host: d.host, Outcome: "fail", Err: ctx.Err()}, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Register authenticates the host as an agent against master, caching
// the resulting certificate fingerprint on the first call.
func (d *Drone) Register(ctx context.Context, master string) (string, error) {
	d.mu.Lock()
	cached := d.fingerprint
	d.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	result, err := d.shell.Execute(ctx, fmt.Sprintf("puppet agent --test --server=%s", shellQuote(master)), true)
	if err != nil {
		return "", err
	}
	fingerprint := parseFingerprint(result.Stdout)
	d.mu.Lock()
	d.fingerprint = fingerprint
	d.mu.Unlock()
	return fingerprint, nil
}

// Clean best-effort removes the remote and local build directories.
func (d *Drone) Clean(ctx context.Context) error {
	_, _ = d.shell.Execute(ctx, fmt.Sprintf("rm -fr %s", shellQuote(d.remoteDir)), false)
	_ = os.RemoveAll(d.localDir)
	return nil
}

func (d *Drone) configSnapshot() map[string]string {
	out := make(map[string]string)
	if d.cfg == nil {
		return out
	}
	for _, key := range d.cfg.Keys() {
		if v, ok := d.cfg.Get(key); ok {
			out[key] = v
		}
	}
	return out
}

func parseFingerprint(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "fingerprint") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return strings.TrimSpace(stdout)
}

func formatPlaceholders(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// copyTree recursively copies src (file or directory) to dst, preserving
// file modes.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, info.Mode())
	}
	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// yieldToScheduler is a named cooperative suspension point: with real
// goroutine concurrency a channel receive or select already yields, so
// this is a deliberate no-op hook kept as an explicit marker for where
// a cooperative scheduler would hand off control.
func yieldToScheduler(ctx context.Context) {}
