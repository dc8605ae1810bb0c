package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is the remote control channel for one machine. It connects
// lazily: the first operation after a disconnect re-establishes the
// connection.
type Client struct {
	config Config
	log    zerolog.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

// NewClient creates a client for one machine.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{
		config: cfg,
		log:    log.With().Str("component", "ssh").Str("host", cfg.Host).Logger(),
	}, nil
}

// Connect establishes the SSH connection if not already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connLocked(ctx)
	return err
}

// connLocked returns the live connection, dialing if needed. Callers must
// hold c.mu.
func (c *Client) connLocked(ctx context.Context) (*ssh.Client, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", c.config.Address(), clientConfig)
		ch <- dialResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case res := <-ch:
		if res.err != nil {
			return nil, &TransportError{Op: "connect", Err: res.err, IsTemporary: true}
		}
		c.conn = res.conn
		c.log.Debug().Msg("ssh connection established")
		return c.conn, nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// WaitReady blocks until the machine accepts an SSH connection and answers
// a trivial command, retrying until the ready timeout elapses.
func (c *Client) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(c.config.ReadyTimeout)
	c.log.Debug().Msg("waiting for machine to accept connections")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, err := c.Run(ctx, "true"); err == nil {
			c.log.Debug().Msg("machine is reachable")
			return nil
		} else if time.Now().After(deadline) {
			return &TransportError{
				Op:  "wait-ready",
				Err: fmt.Errorf("machine not reachable within %s: %w", c.config.ReadyTimeout, err),
			}
		}
		c.dropConn()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ReadyInterval):
		}
	}
}

// dropConn discards a connection that failed so the next operation
// redials.
func (c *Client) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// Run executes a command on the machine, returning trimmed stdout and
// stderr. A non-zero exit status is returned as a *TransportError wrapping
// the ssh.ExitError.
func (c *Client) Run(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return "", "", err
	}

	session, err := conn.NewSession()
	if err != nil {
		c.dropConn()
		return "", "", &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	c.log.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(started)).
		Err(runErr).
		Msg("command completed")

	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return stdout, stderr, &TransportError{
				Op:  "exec",
				Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
			}
		}
		return stdout, stderr, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}
	return stdout, stderr, nil
}

// StartService starts a named system service.
func (c *Client) StartService(ctx context.Context, name string) error {
	if _, stderr, err := c.Run(ctx, "systemctl start "+name); err != nil {
		return fmt.Errorf("starting service %s: %w (%s)", name, err, stderr)
	}
	c.log.Info().Str("service", name).Msg("service started")
	return nil
}

// StopService stops a named system service.
func (c *Client) StopService(ctx context.Context, name string) error {
	if _, stderr, err := c.Run(ctx, "systemctl stop "+name); err != nil {
		return fmt.Errorf("stopping service %s: %w (%s)", name, err, stderr)
	}
	c.log.Info().Str("service", name).Msg("service stopped")
	return nil
}

// ServiceActive reports whether a named service is active.
func (c *Client) ServiceActive(ctx context.Context, name string) (bool, error) {
	stdout, _, err := c.Run(ctx, "systemctl is-active "+name)
	if err != nil {
		// is-active exits non-zero for inactive units.
		if stdout == "inactive" || stdout == "failed" || stdout == "unknown" {
			return false, nil
		}
		return false, err
	}
	return stdout == "active", nil
}
