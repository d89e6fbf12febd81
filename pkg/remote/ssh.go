package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/types"
)

// SSHConfig configures the SSH executor
type SSHConfig struct {
	User           string
	Port           int
	Password       string
	PrivateKeyPath string

	// StrictHostKeyChecking verifies hosts against KnownHostsFile
	// (default ~/.ssh/known_hosts) instead of accepting any key.
	StrictHostKeyChecking bool
	KnownHostsFile        string

	// Timeout bounds the TCP dial, the handshake and every command.
	Timeout time.Duration

	// Sudo wraps escalated commands in sudo. Disable it when connecting as root.
	Sudo bool

	Retry RetryPolicy
}

// SSHConfigFromSpec maps the topology's remote access policy
func SSHConfigFromSpec(spec types.SSHSpec) SSHConfig {
	return SSHConfig{
		User:                  spec.User,
		Port:                  spec.Port,
		Password:              spec.Password,
		PrivateKeyPath:        spec.PrivateKey,
		StrictHostKeyChecking: spec.StrictHostKeyChecking,
		KnownHostsFile:        spec.KnownHostsFile,
		Timeout:               spec.TimeoutDuration(),
		Sudo:                  spec.Sudo,
		Retry: RetryPolicy{
			MaxAttempts: spec.ConnectionRetries,
			BaseDelay:   spec.RetryBaseDelay,
			Multiplier:  spec.RetryMultiplier,
		},
	}
}

// SSHExecutor opens SSH sessions to hosts
type SSHExecutor struct {
	cfg       SSHConfig
	clientCfg *ssh.ClientConfig
	logger    zerolog.Logger
}

// NewSSHExecutor parses credentials once and returns an executor
func NewSSHExecutor(cfg SSHConfig, logger zerolog.Logger) (*SSHExecutor, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var auth []ssh.AuthMethod
	if cfg.PrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", cfg.PrivateKeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh authentication method configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.StrictHostKeyChecking {
		file := cfg.KnownHostsFile
		if file == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
			}
			file = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", file, err)
		}
		hostKeyCallback = cb
	}

	return &SSHExecutor{
		cfg: cfg,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		},
		logger: logger.With().Str("component", "ssh").Logger(),
	}, nil
}

// Connect dials host, retrying with exponential backoff per the retry policy
func (e *SSHExecutor) Connect(ctx context.Context, host string) (Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(e.cfg.Port))
	attempts := 0

	var client *ssh.Client
	err := retry.Do(
		func() error {
			attempts++
			metrics.ConnectAttempts.Inc()
			c, err := e.dial(ctx, addr)
			if err != nil {
				if isAuthError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			client = c
			return nil
		},
		append(e.cfg.Retry.options(),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				e.logger.Warn().
					Err(err).
					Str("host", host).
					Uint("attempt", n+1).
					Dur("backoff", e.cfg.Retry.Delay(n)).
					Msg("SSH connect failed, retrying")
			}),
		)...,
	)
	if err != nil {
		metrics.ConnectFailures.Inc()
		return nil, &ConnectionError{Host: host, Attempts: attempts, Err: err}
	}

	e.logger.Debug().Str("host", host).Int("attempts", attempts).Msg("SSH connected")
	return &sshSession{
		host:    host,
		client:  client,
		sudo:    e.cfg.Sudo,
		timeout: e.cfg.Timeout,
		logger:  e.logger.With().Str("host", host).Logger(),
	}, nil
}

func (e *SSHExecutor) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	dialer := &net.Dialer{Timeout: e.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake has no context; bound it with a deadline instead.
	_ = conn.SetDeadline(time.Now().Add(e.cfg.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, e.clientCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func isAuthError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

type sshSession struct {
	host    string
	client  *ssh.Client
	sudo    bool
	timeout time.Duration
	logger  zerolog.Logger
}

func (s *sshSession) Host() string {
	return s.host
}

func (s *sshSession) Run(ctx context.Context, command string, escalate bool) (Result, error) {
	return s.exec(ctx, s.wrap(command, escalate), nil)
}

func (s *sshSession) WriteFile(ctx context.Context, p string, content []byte, mode os.FileMode) error {
	tmp := p + ".rcluster-tmp"
	script := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s && mv -f %s %s",
		Quote(path.Dir(p)), Quote(tmp), mode.Perm(), Quote(tmp), Quote(tmp), Quote(p))

	res, err := s.exec(ctx, s.wrap(script, true), bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to write %s: exit status %d: %s", p, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (s *sshSession) PathExists(ctx context.Context, p string) (bool, error) {
	res, err := s.exec(ctx, s.wrap("test -e "+Quote(p), true), nil)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: exit status %d: %s", p, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

func (s *sshSession) wrap(command string, escalate bool) string {
	if escalate && s.sudo {
		return "sudo -n -H bash -lc " + Quote(command)
	}
	return command
}

// exec runs one command in a fresh SSH channel. The call is bounded by the
// session timeout and by ctx; on expiry the remote process is signalled.
// killGrace bounds how long a killed command may take to release its channel
var killGrace = 5 * time.Second

// abort kills the running command and waits for sess.Run to return so
// nothing writes into the output buffers afterwards. A peer that never
// acknowledges the close loses the whole connection.
func (s *sshSession) abort(sess *ssh.Session, done <-chan error) {
	_ = sess.Signal(ssh.SIGKILL)
	_ = sess.Close()

	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn().Msg("Killed command did not release its channel, dropping connection")
		_ = s.client.Close()
		<-done
	}
}

func (s *sshSession) exec(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open ssh channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	ctx, cancel := context.WithTimeout(ctx, CommandTimeout(ctx, s.timeout))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		s.abort(sess, done)
		return Result{}, fmt.Errorf("command timed out: %w", ctx.Err())
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
