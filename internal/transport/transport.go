// Package transport is the only component that crosses the machine
// boundary. It offers exactly two primitives over one SSH connection:
// single-shot remote command execution and bulk file upload. There is no
// persistent session state between calls; every call opens its own SSH
// session on the shared connection.
//
// Any transport-level failure (unreachable host, authentication, broken
// connection) is terminal for the whole run. A remote command that merely
// exits non-zero is not a transport failure; callers get the exit code.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrUnreachable wraps every transport-level failure so the engine can
// abort the run with errors.Is.
var ErrUnreachable = errors.New("remote unreachable")

// Config carries everything needed to reach the remote host.
type Config struct {
	// Host is the remote address (name or IP).
	Host string

	// Port is the SSH port; 22 when zero.
	Port int

	// User is the remote login.
	User string

	// KeyPath is the private key file used for authentication.
	KeyPath string

	// KnownHostsPath verifies the host key when set; when empty the
	// host key is accepted blindly, which is only acceptable for
	// disposable lab targets.
	KnownHostsPath string

	// DialTimeout bounds connection establishment; 15s when zero.
	DialTimeout time.Duration
}

// Result is the outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SSH is a live connection to the remote host.
type SSH struct {
	client *ssh.Client
	logger *log.Logger

	// zstdProbed / zstdAvailable cache the one-time remote probe for a
	// zstd binary; uploads stream compressed when it is present.
	zstdProbed    bool
	zstdAvailable bool
}

// Dial connects and authenticates. If logger is nil, a default logger
// writing to stderr is used.
func Dial(ctx context.Context, cfg Config, logger *log.Logger) (*SSH, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read key %s: %v", ErrUnreachable, cfg.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse key %s: %v", ErrUnreachable, cfg.KeyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load known hosts %s: %v", ErrUnreachable, cfg.KnownHostsPath, err)
		}
		hostKeyCallback = cb
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}

	return &SSH{
		client: ssh.NewClient(sshConn, chans, reqs),
		logger: logger,
	}, nil
}

// Close tears down the connection.
func (t *SSH) Close() error {
	return t.client.Close()
}

// Exec runs one command remotely and captures its output. A non-zero exit
// is reported through Result.ExitCode, not through the error; the error is
// reserved for transport-level failures.
func (t *SSH) Exec(ctx context.Context, command string) (Result, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to open session: %v", ErrUnreachable, err)
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{}, fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("%w: remote exec failed: %v", ErrUnreachable, err)
	}

	return result, nil
}

// Upload streams a local file to remotePath, creating parent directories.
// When the remote has a zstd binary the stream travels compressed.
func (t *SSH) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	compress := t.remoteHasZstd(ctx)

	session, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: failed to open session: %v", ErrUnreachable, err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var stderr strings.Builder
	session.Stderr = &stderr

	if err := session.Start(UploadCommand(remotePath, compress)); err != nil {
		return fmt.Errorf("%w: failed to start upload: %v", ErrUnreachable, err)
	}

	copyErr := streamFile(stdin, f, compress)
	stdin.Close()

	if err := session.Wait(); err != nil {
		return fmt.Errorf("%w: upload to %s failed: %v: %s", ErrUnreachable, remotePath, err, strings.TrimSpace(stderr.String()))
	}
	if copyErr != nil {
		return fmt.Errorf("%w: upload to %s failed: %v", ErrUnreachable, remotePath, copyErr)
	}

	return nil
}

// streamFile copies f into w, optionally through a zstd encoder.
func streamFile(w io.WriteCloser, f *os.File, compress bool) error {
	if !compress {
		_, err := io.Copy(w, f)
		return err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, f); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// remoteHasZstd probes once per connection for a remote zstd binary.
func (t *SSH) remoteHasZstd(ctx context.Context) bool {
	if t.zstdProbed {
		return t.zstdAvailable
	}
	t.zstdProbed = true

	result, err := t.Exec(ctx, "command -v zstd >/dev/null 2>&1")
	t.zstdAvailable = err == nil && result.ExitCode == 0
	if t.zstdAvailable {
		t.logger.Printf("remote has zstd; uploads will be compressed")
	}

	return t.zstdAvailable
}

// UploadCommand builds the remote side of an upload: create the parent
// directory, then write stdin (possibly decompressing) to the target.
func UploadCommand(remotePath string, compressed bool) string {
	dir := remoteDir(remotePath)
	write := "cat > " + ShellQuote(remotePath)
	if compressed {
		write = "zstd -q -d -f - -o " + ShellQuote(remotePath)
	}
	return "mkdir -p " + ShellQuote(dir) + " && " + write
}

// remoteDir returns the slash-separated parent of a remote path.
func remoteDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	switch {
	case i < 0:
		return "."
	case i == 0:
		return "/"
	}
	return p[:i]
}

// ShellQuote wraps s in single quotes, escaping any embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
