package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"

	// AuthMethodAgent uses the agent listening on AgentSocket or SSH_AUTH_SOCK.
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds the connection settings of a remote check host.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod AuthMethod
	Password   string

	// PrivateKeyPath defaults to the first of ~/.ssh/id_ed25519, id_rsa and id_ecdsa that
	// exists.
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// AgentSocket overrides SSH_AUTH_SOCK.
	AgentSocket string

	// KnownHostsPath is consulted when StrictHostKeyChecking is set; otherwise any host key
	// is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration

	// KeepAliveInterval enables keep-alive requests; the connection is dropped after
	// MaxKeepAliveRetries unanswered ones. Zero disables them.
	KeepAliveInterval   time.Duration
	MaxKeepAliveRetries int

	// GracePeriod is how long a cancelled remote command may take to exit after SIGTERM
	// before its session is closed.
	GracePeriod time.Duration

	// Jump is an optional bastion the connection is tunnelled through.
	Jump *Config
}

// DefaultConfig returns key authentication on port 22 with strict host key checking
// against ~/.ssh/known_hosts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		MaxKeepAliveRetries:   3,
		GracePeriod:           5 * time.Second,
	}
}

// JumpConfig returns a bastion config that inherits the auth and host key settings of c.
func (c *Config) JumpConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            c.AuthMethod,
		Password:              c.Password,
		PrivateKeyPath:        c.PrivateKeyPath,
		PrivateKeyPassphrase:  c.PrivateKeyPassphrase,
		AgentSocket:           c.AgentSocket,
		KnownHostsPath:        c.KnownHostsPath,
		StrictHostKeyChecking: c.StrictHostKeyChecking,
		ConnectionTimeout:     c.ConnectionTimeout,
	}
}

// Validate checks the settings and fills in a default private key.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case c.ConnectionTimeout <= 0:
		return errors.New("connection timeout must be positive")
	case c.GracePeriod < 0:
		return errors.New("grace period must not be negative")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = defaultPrivateKey()
		}
		if c.PrivateKeyPath == "" {
			return errors.New("private key path is required for key authentication and no default key found")
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		if c.agentSocket() == "" {
			return errors.New("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.Jump != nil {
		if err := c.Jump.Validate(); err != nil {
			return fmt.Errorf("jump host: %w", err)
		}
	}
	return nil
}

func defaultPrivateKey() string {
	home := os.Getenv("HOME")
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// BuildSSHClientConfig creates the client configuration. The returned closer releases the
// agent connection, if any, and must be called once the client is closed.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, io.Closer, error) {
	auth, closer, err := c.authMethods()
	if err != nil {
		return nil, nil, err
	}

	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, closer, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Many servers only prompt through keyboard-interactive.
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nopCloser{}, nil

	case AuthMethodKey:
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nopCloser{}, nil

	case AuthMethodAgent:
		conn, err := net.Dial("unix", c.agentSocket())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, conn, nil

	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) agentSocket() string {
	if c.AgentSocket != "" {
		return c.AgentSocket
	}
	return os.Getenv("SSH_AUTH_SOCK")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
