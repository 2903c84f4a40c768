// Package transfer implements the Tarball Transfer capability: packing a
// local or remote directory/file into a gzipped archive, moving it
// through per-host staging directories, and unpacking it at the
// destination. File put/get is layered on the RemoteShell's cat-based
// Put/Get (see internal/infrastructure/ssh) rather than a dedicated SFTP
// client.
package transfer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	"github.com/fleetctl/fleetctl/internal/ports"
)

// Transfer implements ports.TarballTransfer for one host, staging
// archives under localDir (mode 0700) locally and remoteDir (mode 0700)
// remotely.
type Transfer struct {
	shell     ports.RemoteShell
	localDir  string
	remoteDir string
}

// New constructs a Transfer bound to shell, staging under the given
// local and remote directories.
func New(shell ports.RemoteShell, localDir, remoteDir string) *Transfer {
	return &Transfer{shell: shell, localDir: localDir, remoteDir: remoteDir}
}

// Send packs src (file or directory, branch decided by a local type
// probe) into a gzipped archive, transfers it to the remote staging
// directory, and unpacks it at dst.
func (t *Transfer) Send(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("local path %q does not exist", src), err)
	}
	isDir := info.IsDir()

	if err := os.MkdirAll(t.localDir, 0o700); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "creating local staging directory", err)
	}
	archive := filepath.Join(t.localDir, fmt.Sprintf("transfer-%s.tar.gz", shortID()))
	if err := packLocal(src, archive, isDir); err != nil {
		return err
	}
	defer os.Remove(archive)

	if _, err := t.shell.Execute(ctx, fmt.Sprintf("mkdir -p --mode=0700 %s", shellQuote(t.remoteDir)), true); err != nil {
		return err
	}
	remoteArchive := filepath.Join(t.remoteDir, filepath.Base(archive))
	if err := t.shell.Put(ctx, archive, remoteArchive); err != nil {
		return err
	}
	defer t.shell.Execute(ctx, fmt.Sprintf("rm -f %s", shellQuote(remoteArchive)), false)

	unpackDir := dst
	if !isDir {
		unpackDir = filepath.Dir(dst)
	}
	if _, err := t.shell.Execute(ctx, fmt.Sprintf("mkdir -p --mode=0700 %s", shellQuote(unpackDir)), true); err != nil {
		return err
	}
	_, err = t.shell.Execute(ctx, fmt.Sprintf("tar -C %s -xpzf %s", shellQuote(unpackDir), shellQuote(remoteArchive)), true)
	return err
}

// Receive probes src's remote existence and type, packs it remotely,
// transfers it, and unpacks it at dst locally. A missing remote src
// raises not-found.
func (t *Transfer) Receive(ctx context.Context, src, dst string) error {
	exists, err := t.shell.Execute(ctx, fmt.Sprintf("[ -e %s ]", shellQuote(src)), false)
	if err != nil {
		return err
	}
	if exists.ExitCode != 0 {
		return ferrors.New(ferrors.CodeNotFound, fmt.Sprintf("remote path %q does not exist on host %s", src, t.shell.Host()))
	}
	dirCheck, err := t.shell.Execute(ctx, fmt.Sprintf("[ -d %s ]", shellQuote(src)), false)
	if err != nil {
		return err
	}
	isDir := dirCheck.ExitCode == 0

	if _, err := t.shell.Execute(ctx, fmt.Sprintf("mkdir -p --mode=0700 %s", shellQuote(t.remoteDir)), true); err != nil {
		return err
	}
	remoteArchive := filepath.Join(t.remoteDir, fmt.Sprintf("transfer-%s.tar.gz", shortID()))

	var packCmd string
	if isDir {
		packCmd = fmt.Sprintf("tar -C %s -cpzf %s .", shellQuote(src), shellQuote(remoteArchive))
	} else {
		packCmd = fmt.Sprintf("tar -C %s -cpzf %s %s",
			shellQuote(filepath.Dir(src)), shellQuote(remoteArchive), shellQuote(filepath.Base(src)))
	}
	if _, err := t.shell.Execute(ctx, packCmd, true); err != nil {
		return err
	}
	defer t.shell.Execute(ctx, fmt.Sprintf("rm -f %s", shellQuote(remoteArchive)), false)

	if err := os.MkdirAll(t.localDir, 0o700); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "creating local staging directory", err)
	}
	localArchive := filepath.Join(t.localDir, filepath.Base(remoteArchive))
	if err := t.shell.Get(ctx, remoteArchive, localArchive); err != nil {
		return err
	}
	defer os.Remove(localArchive)

	return unpackLocal(localArchive, dst, isDir)
}

func packLocal(src, archivePath string, isDir bool) error {
	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "creating archive", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var walkErr error
	if isDir {
		entries, err := os.ReadDir(src)
		if err != nil {
			return ferrors.Wrap(ferrors.CodeConfig, "listing directory to pack", err)
		}
		for _, entry := range entries {
			walkErr = addToTar(tw, filepath.Join(src, entry.Name()), entry.Name())
			if walkErr != nil {
				break
			}
		}
	} else {
		walkErr = addToTar(tw, src, filepath.Base(src))
	}

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gz.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "packing local archive", walkErr)
	}
	return nil
}

func addToTar(tw *tar.Writer, path, arcname string) error {
	return filepath.Walk(path, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(filepath.Dir(path), file)
		if err != nil {
			return err
		}
		name := filepath.Join(filepath.Dir(arcname), rel)
		if filepath.Dir(arcname) == "." {
			name = rel
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(name)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func unpackLocal(archivePath, dst string, isDir bool) error {
	destDir := dst
	base := ""
	if !isDir {
		// If dst already exists as a directory, the file lands inside it
		// under its original archived basename rather than being renamed
		// to dst's own basename.
		if info, err := os.Stat(dst); err == nil && info.IsDir() {
			destDir = dst
		} else {
			destDir = filepath.Dir(dst)
			base = filepath.Base(dst)
		}
	}
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "creating local destination directory", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "opening received archive", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "reading gzip archive", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var firstEntry string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ferrors.Wrap(ferrors.CodeConfig, "reading tar archive", err)
		}
		if firstEntry == "" {
			firstEntry = strings.SplitN(header.Name, "/", 2)[0]
		}
		target := filepath.Join(destDir, header.Name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return ferrors.Wrap(ferrors.CodeConfig, "creating extracted directory", err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return ferrors.Wrap(ferrors.CodeConfig, "creating extracted parent directory", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return ferrors.Wrap(ferrors.CodeConfig, "creating extracted file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return ferrors.Wrap(ferrors.CodeConfig, "writing extracted file", err)
			}
			out.Close()
		}
	}

	if !isDir && firstEntry != "" && base != "" {
		extracted := filepath.Join(destDir, firstEntry)
		final := filepath.Join(destDir, base)
		if extracted != final {
			if err := os.Rename(extracted, final); err != nil {
				return ferrors.Wrap(ferrors.CodeConfig, "renaming extracted file to destination basename", err)
			}
		}
	}
	return nil
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func shortID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x", os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
