package ops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

// Runner executes a shell command on a host and returns its stdout.
type Runner interface {
	Run(ctx context.Context, host, command string) (string, error)
}

// CommandError is a remote command that exited non-zero. Its message carries stderr so
// that failures can be classified.
type CommandError struct {
	Host    string
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %q failed: %v", e.Host, e.Command, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// SSHRunner runs commands over SSH with public key authentication.
type SSHRunner struct {
	user        string
	signer      ssh.Signer
	hostKeys    ssh.HostKeyCallback
	dialTimeout time.Duration
}

// NewSSHRunner loads the private key and the known_hosts file named in cfg.
func NewSSHRunner(cfg config.OpsConfig) (*SSHRunner, error) {
	keyPath, err := expandHome(cfg.SSHKey)
	if err != nil {
		return nil, err
	}
	pem, err := os.ReadFile(keyPath) // #nosec G304 -- operator-configured key path
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}

	var hostKeys ssh.HostKeyCallback
	if cfg.InsecureIgnoreHostKey {
		slog.Warn("ssh host key verification disabled (ops.insecure_ignore_host_key)")
		hostKeys = ssh.InsecureIgnoreHostKey() // #nosec G106 -- explicit operator opt-out
	} else {
		khPath, err := expandHome(cfg.KnownHosts)
		if err != nil {
			return nil, err
		}
		hostKeys, err = knownhosts.New(khPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", khPath, err)
		}
	}

	user := cfg.SSHUser
	if user == "" {
		user = "root"
	}
	return &SSHRunner{user: user, signer: signer, hostKeys: hostKeys, dialTimeout: 10 * time.Second}, nil
}

// Run implements Runner. Cancelling ctx closes the connection.
func (r *SSHRunner) Run(ctx context.Context, host, command string) (string, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	d := net.Dialer{Timeout: r.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            r.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: r.hostKeys,
		Timeout:         r.dialTimeout,
	})
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sc, chans, reqs)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session on %s: %w", addr, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	slog.Debug("ssh exec", "host", host, "command", command)
	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = client.Close()
		return stdout.String(), fmt.Errorf("%s: %q: %w", host, command, ctx.Err())
	case err := <-done:
		if err != nil {
			return stdout.String(), &CommandError{Host: host, Command: command, Stderr: stderr.String(), Err: err}
		}
		return stdout.String(), nil
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
