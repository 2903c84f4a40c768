package config

import "time"

// Project carries installer-wide defaults that sit below per-key
// configuration metadata: SSH defaults, temp directory roots, the
// install-candidate command lists, and the log-classification rule
// lists, with an environment-variable override mechanism (ProjectEnvVar).
type Project struct {
	Name     string
	TempDir  string
	RunID    string
	MultiSep string

	SSHUser       string
	SSHPort       int
	SSHPrivateKey string

	InstallCommands    []string
	DependencyCommands []string
	FactToolCommand    string

	AgentConfigPath     string
	AgentConfigTemplate string

	ApplyCommandTemplate string
	DeployPollInterval   time.Duration
	DeployDefaultTimeout time.Duration

	ErrorPatterns      []string
	ErrorIgnore        []string
	ErrorSurrogates    []SurrogateRule
	FinishOnError      bool
	RegisterWithMaster bool
	MasterHost         string

	PluginPaths []string
	Plugins     []string
}

// SurrogateRule pairs an error-matching regex with a rewrite template
// interpolated from the regex's positional capture groups.
type SurrogateRule struct {
	Pattern  string
	Template string
}

// DefaultProject returns the built-in installer defaults.
func DefaultProject() Project {
	return Project{
		Name:          "fleetctl",
		TempDir:       "/var/tmp/fleetctl",
		RunID:         time.Now().UTC().Format("20060102T150405"),
		MultiSep:      ",",
		SSHUser:       "root",
		SSHPort:       22,
		SSHPrivateKey: "~/.ssh/id_rsa",
		InstallCommands: []string{
			"yum install -y puppet tar && rpm -q puppet",
			"apt-get update && apt-get install -y puppet tar && dpkg -s puppet",
		},
		DependencyCommands: []string{
			"yum install -y facter",
			"apt-get install -y facter",
		},
		FactToolCommand: "facter -p",

		AgentConfigPath: "/etc/puppet/puppet.conf",
		AgentConfigTemplate: "[main]\n" +
			"certname={host}\n" +
			"modulepath={moduledir}\n" +
			"logdir={logdir}\n" +
			"hiera_config={hiera_config}\n" +
			"[agent]\n" +
			"server={host}\n" +
			"vardir={datadir}\n",

		ApplyCommandTemplate: "(flock -n /tmp/fleetctl-{manifest}.lock -c '" +
			"puppet apply {debug} --detailed-exitcodes {manifest} " +
			"> {log}.running 2>&1; mv {log}.running {log}') " +
			"</dev/null >/dev/null 2>&1 &",
		DeployPollInterval:   2 * time.Second,
		DeployDefaultTimeout: 10 * time.Minute,

		ErrorPatterns: []string{
			`(?i)err:`,
			`(?i)could not`,
			`(?i)failed to`,
		},
		ErrorIgnore:        nil,
		ErrorSurrogates:    nil,
		FinishOnError:      false,
		RegisterWithMaster: false,
		MasterHost:         "",
		PluginPaths:        []string{"/usr/share/fleetctl/plugins"},
		Plugins:            nil,
	}
}

// ProjectEnvVar is the single environment variable naming an alternate
// project module path; its absence is acceptable and DefaultProject
// applies.
const ProjectEnvVar = "FLEETCTL_PROJECT"
