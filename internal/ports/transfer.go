package ports

import "context"

// TarballTransfer moves a directory or single file between local and
// remote filesystems over a RemoteShell, packing and unpacking a gzipped
// archive through a per-host staging directory.
type TarballTransfer interface {
	// Send packs src locally, transfers it, and unpacks it at dst on the
	// remote host.
	Send(ctx context.Context, src, dst string) error

	// Receive probes the remote src for existence and type, packs it
	// remotely, transfers it, and unpacks it at dst locally. A missing
	// remote src raises not-found.
	Receive(ctx context.Context, src, dst string) error
}
