package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// testServer is a minimal in-process SSH server: it accepts any public
// key and answers every "exec" request with a fixed exit status and
// output, enough to exercise the Shell's transport retry logic without
// a real host.
type testServer struct {
	ln net.Listener
}

func startTestServer(t *testing.T) (*testServer, int) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testServer{ln: ln}
	go srv.acceptLoop(config)
	return srv, ln.Addr().(*net.TCPAddr).Port
}

func (s *testServer) acceptLoop(config *ssh.ServerConfig) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn, config)
	}
}

func (s *testServer) handleConn(nc net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go handleSession(channel, requests)
	}
}

func handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			_, _ = channel.Write([]byte("ok\n"))
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{Status: 0}))
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) stop() { _ = s.ln.Close() }

func newTestDialer(t *testing.T, port int) *Dialer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	clientSigner, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	return &Dialer{
		pool:   make(map[string]*ssh.Client),
		opts:   Options{User: "root", Port: port, MaxRetries: 3},
		signer: clientSigner,
	}
}

func TestShellExecuteReconnectsAfterTransportFailure(t *testing.T) {
	srv, port := startTestServer(t)
	defer srv.stop()
	d := newTestDialer(t, port)

	ctx := context.Background()
	client, err := d.connect(ctx, "127.0.0.1")
	require.NoError(t, err)
	// Break the first connection before use, simulating a transport
	// failure on the very first Execute attempt.
	require.NoError(t, client.Close())

	shell := &Shell{host: "127.0.0.1", dialer: d, client: client}
	result, err := shell.Execute(ctx, "true", false)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "ok\n", result.Stdout)
}

func TestShellExecuteExhaustsRetriesAsTransportError(t *testing.T) {
	srv, port := startTestServer(t)
	d := newTestDialer(t, port)

	ctx := context.Background()
	client, err := d.connect(ctx, "127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, client.Close())
	srv.stop() // every reconnect attempt will now fail to dial

	shell := &Shell{host: "127.0.0.1", dialer: d, client: client}
	_, err = shell.Execute(ctx, "true", false)
	require.Error(t, err)
	require.True(t, errors.Is(err, ferrors.New(ferrors.CodeTransport, "")))
}

func TestShellExecuteSucceedsOnHealthyConnection(t *testing.T) {
	srv, port := startTestServer(t)
	defer srv.stop()
	d := newTestDialer(t, port)

	ctx := context.Background()
	client, err := d.connect(ctx, "127.0.0.1")
	require.NoError(t, err)
	d.pool["127.0.0.1"] = client

	shell := &Shell{host: "127.0.0.1", dialer: d, client: client}
	result, err := shell.Execute(ctx, "true", false)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "ok\n", result.Stdout)
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	require.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestExpandHomeLeavesAbsolutePathUntouched(t *testing.T) {
	require.Equal(t, "/etc/fleetctl/key", expandHome("/etc/fleetctl/key"))
}
