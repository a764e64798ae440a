// Package ssh runs commands and writes files on remote hosts.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort           = "22"
	defaultConnectTimeout = 10 * time.Second
)

// Target describes how to reach one host
type Target struct {
	Address               string
	Port                  string
	User                  string
	KeyPath               string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	ConnectTimeout        time.Duration
}

// Addr returns host:port
func (t Target) Addr() string {
	host := strings.TrimSpace(t.Address)
	if t.Port != "" {
		return net.JoinHostPort(host, t.Port)
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

// Runner executes commands on a connected host
type Runner interface {
	// Run executes cmd with stdin and returns its stdout. Stderr is folded
	// into the error on failure.
	Run(ctx context.Context, cmd string, stdin []byte) (string, error)
	Close() error
}

// Dialer opens runners
type Dialer interface {
	Dial(ctx context.Context, target Target) (Runner, error)
}

// ClientDialer dials real SSH connections
type ClientDialer struct{}

// NewDialer creates the production dialer
func NewDialer() Dialer {
	return ClientDialer{}
}

// Dial connects and authenticates. Host keys are verified against
// known_hosts unless InsecureIgnoreHostKey is set.
func (ClientDialer) Dial(ctx context.Context, target Target) (Runner, error) {
	if strings.TrimSpace(target.Address) == "" {
		return nil, failure.Validation("set address on every injection host", "ssh host is required")
	}
	config, err := clientConfig(target)
	if err != nil {
		return nil, err
	}

	timeout := target.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := target.Addr()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, failure.Classify(errors.Wrapf(err, "ssh dial %s", addr))
	}

	// The handshake is bounded by the same deadline as the dial
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, classifyHandshake(err, addr)
	}
	_ = conn.SetDeadline(time.Time{})

	return &clientRunner{addr: addr, client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

func clientConfig(target Target) (*ssh.ClientConfig, error) {
	user := target.User
	if user == "" {
		return nil, failure.Validation("set user on the host or ssh.user in the global config",
			"ssh user is required for %s", target.Address)
	}

	signer, err := signer(target.KeyPath)
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if target.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		hostKeyCallback, err = knownHostsCallback(target.KnownHostsPath)
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         target.ConnectTimeout,
	}, nil
}

func signer(keyPath string) (ssh.Signer, error) {
	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, failure.Precondition("set ssh.key_path", "ssh key path not set and home dir unavailable")
		}
		keyPath = filepath.Join(home, ".ssh", "id_ed25519")
	}

	privateKey, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, failure.Precondition("set ssh.key_path to a readable private key",
			"failed to read ssh key %s: %v", keyPath, err)
	}
	s, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, failure.Mark(errors.Wrapf(err, "parse ssh key %s", keyPath), failure.ErrAuth)
	}
	return s, nil
}

func knownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, failure.Precondition("set ssh.known_hosts", "known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, failure.Precondition(
			"create "+path+" (ssh-keyscan <host> >> "+path+") or set ssh.known_hosts",
			"failed to load known hosts %s: %v", path, err)
	}
	return cb, nil
}

func classifyHandshake(err error, addr string) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		hint := "add the host key of " + addr + " to known_hosts"
		if len(keyErr.Want) > 0 {
			hint = "the host key of " + addr + " changed; verify the host and update known_hosts"
		}
		return errors.WithHint(failure.Mark(errors.Wrapf(err, "host key check failed for %s", addr), failure.ErrAuth), hint)
	}
	return failure.Classify(errors.Wrapf(err, "ssh handshake %s", addr))
}

type clientRunner struct {
	addr   string
	client *ssh.Client
}

// Run starts cmd and races completion against ctx. A cancelled ctx closes
// the session, which terminates the remote process.
func (r *clientRunner) Run(ctx context.Context, cmd string, stdin []byte) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", failure.Classify(errors.Wrapf(err, "create ssh session on %s", r.addr))
	}
	defer session.Close()

	var out, errOut bytes.Buffer
	session.Stdout = &out
	session.Stderr = &errOut
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	if err := session.Start(cmd); err != nil {
		return out.String(), failure.Classify(errors.Wrapf(err, "start command on %s", r.addr))
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-waitDone
		return out.String(), failure.Mark(errors.Wrapf(ctx.Err(), "command on %s", r.addr), failure.ErrTimeout)
	case err := <-waitDone:
		if err != nil {
			return out.String(), failure.Mark(
				errors.Wrapf(err, "command on %s failed (%s)", r.addr, stderrSummary(errOut.Bytes())),
				failure.ErrUnreachable)
		}
		return out.String(), nil
	}
}

// stderrSummary describes a failed command's stderr without its content,
// which may echo the environment being injected
func stderrSummary(stderr []byte) string {
	trimmed := strings.TrimSpace(string(stderr))
	if trimmed == "" {
		return "no stderr"
	}
	lines := strings.Count(trimmed, "\n") + 1
	return fmt.Sprintf("%d line(s) of stderr withheld; run the command on the host to see them", lines)
}

func (r *clientRunner) Close() error {
	return r.client.Close()
}

// Quote single-quotes value for a POSIX shell
func Quote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// WriteFileCommand returns a command writing stdin to path atomically under
// umask 077, then setting mode
func WriteFileCommand(path, mode string) string {
	dir := filepath.Dir(path)
	tmp := path + ".envctl-tmp"
	return fmt.Sprintf("umask 077 && mkdir -p %s && cat > %s && chmod %s %s && mv -f %s %s",
		Quote(dir), Quote(tmp), Quote(mode), Quote(tmp), Quote(tmp), Quote(path))
}

const presentMarker = "envctl:present"

// ReadFileCommand returns a command printing a marker line followed by the
// content of path, or nothing when path does not exist
func ReadFileCommand(path string) string {
	return fmt.Sprintf("if [ -f %s ]; then printf '%s\\n'; cat %s; fi", Quote(path), presentMarker, Quote(path))
}
