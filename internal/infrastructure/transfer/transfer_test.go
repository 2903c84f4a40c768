package transfer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	"github.com/fleetctl/fleetctl/internal/ports"
)

// localShell is a loopback fake of ports.RemoteShell that runs commands
// on the local machine via /bin/sh and implements Put/Get as plain file
// copies, standing in for a real SSH session in tests.
type localShell struct{}

func (localShell) Host() string { return "loopback" }

func (localShell) Execute(ctx context.Context, cmd string, canFail bool) (ports.CommandResult, error) {
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", cmd).CombinedOutput()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ports.CommandResult{}, err
		}
	}
	result := ports.CommandResult{ExitCode: exitCode, Stdout: string(out)}
	if exitCode != 0 && canFail {
		return result, ferrors.New(ferrors.CodeExec, "loopback command failed: "+cmd)
	}
	return result, nil
}

func (localShell) RunScript(ctx context.Context, lines []string, canFail bool) (ports.CommandResult, error) {
	return ports.CommandResult{}, nil
}

func (localShell) Put(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return os.WriteFile(remotePath, data, 0o600)
}

func (localShell) Get(ctx context.Context, remotePath, localPath string) error {
	data, err := os.ReadFile(remotePath)
	if err != nil {
		return ferrors.New(ferrors.CodeNotFound, "missing: "+remotePath)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (localShell) Close() error { return nil }

func TestSendReceiveDirectoryRoundTrip(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("world"), 0o644))

	remoteRoot := filepath.Join(root, "remote-stage")
	localStage := filepath.Join(root, "local-stage")
	dst := filepath.Join(root, "dst")

	tr := New(localShell{}, localStage, remoteRoot)
	require.NoError(t, tr.Send(context.Background(), src, dst))

	gotA, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotA))
	gotB, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(gotB))

	// receive it back out to a new local destination
	dst2 := filepath.Join(root, "dst2")
	require.NoError(t, tr.Receive(context.Background(), dst, dst2))
	gotA2, err := os.ReadFile(filepath.Join(dst2, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotA2))
}

func TestReceiveMissingRemotePathNotFound(t *testing.T) {
	root := t.TempDir()
	tr := New(localShell{}, filepath.Join(root, "local-stage"), filepath.Join(root, "remote-stage"))
	err := tr.Receive(context.Background(), filepath.Join(root, "does-not-exist"), filepath.Join(root, "dst"))
	require.Error(t, err)
	var fe *ferrors.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ferrors.CodeNotFound, fe.Code)
}

func TestReceiveFileIntoExistingDirectoryPlacesFileWithOriginalBasename(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "remote-resource.pem")
	require.NoError(t, os.WriteFile(src, []byte("cert-data"), 0o600))

	dst := filepath.Join(root, "existing-dst")
	require.NoError(t, os.MkdirAll(dst, 0o755))

	tr := New(localShell{}, filepath.Join(root, "local-stage"), filepath.Join(root, "remote-stage"))
	require.NoError(t, tr.Receive(context.Background(), src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "remote-resource.pem"))
	require.NoError(t, err)
	assert.Equal(t, "cert-data", string(got))

	// dst itself must remain the directory, not be replaced by the file.
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSendFileDestinationBasenamePreserved(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "resource.pem")
	require.NoError(t, os.WriteFile(src, []byte("cert-data"), 0o600))

	dst := filepath.Join(root, "dstdir", "resource.pem")
	tr := New(localShell{}, filepath.Join(root, "local-stage"), filepath.Join(root, "remote-stage"))
	require.NoError(t, tr.Send(context.Background(), src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "cert-data", string(got))
}
