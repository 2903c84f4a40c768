package ports

import "context"

// CommandResult is the outcome of a single remote command execution.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RemoteShell is the per-host authenticated connection capability: exec,
// script execution with a trap-on-error prologue, and a file-level
// put/get pair. Implementations pool connections by host identity and
// reconnect-and-retry on transport failure up to a configured bound.
type RemoteShell interface {
	// Execute runs cmd remotely. When canFail is false, a non-zero exit
	// is returned as data; when true, a non-zero exit raises an
	// exec-error carrying masked command text.
	Execute(ctx context.Context, cmd string, canFail bool) (CommandResult, error)

	// RunScript executes a multi-line script with a trap-on-error
	// prologue so any failing line aborts with that line's exit code.
	RunScript(ctx context.Context, lines []string, canFail bool) (CommandResult, error)

	// Put streams local file content to a remote destination path.
	Put(ctx context.Context, localPath, remotePath string) error

	// Get streams a remote file's content to a local destination path.
	Get(ctx context.Context, remotePath, localPath string) error

	// Host returns the identity this shell is connected to.
	Host() string

	// Close releases the underlying connection.
	Close() error
}

// ShellDialer constructs (or reuses a pooled) RemoteShell for host.
type ShellDialer interface {
	Dial(ctx context.Context, host string) (RemoteShell, error)
}
