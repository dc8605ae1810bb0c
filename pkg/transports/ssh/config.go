package ssh

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config holds the connection settings for one machine.
type Config struct {
	// Host is the machine's address.
	Host string

	// Port is the SSH port. Defaults to 22.
	Port int

	// User is the SSH user.
	User string

	// PrivateKeyPath is the path to the private key used for
	// authentication. Password is used instead when set.
	PrivateKeyPath string
	Password       string

	// ConnectionTimeout bounds a single connection attempt.
	ConnectionTimeout time.Duration

	// ReadyTimeout bounds WaitReady's retry loop; ReadyInterval is the
	// delay between attempts.
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration

	// CommandTimeout bounds a single remote command. Zero means the
	// caller's context is the only bound.
	CommandTimeout time.Duration
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPath == "" && c.Password == "" {
		return fmt.Errorf("either a private key or a password is required")
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 10 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 5 * time.Minute
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = 5 * time.Second
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BuildClientConfig builds the ssh.ClientConfig for this machine.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if c.PrivateKeyPath != "" {
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	return &ssh.ClientConfig{
		User: c.User,
		Auth: auth,
		// Test environment machines are short-lived and regenerated
		// per prefix; their host keys are never stable.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         c.ConnectionTimeout,
	}, nil
}
