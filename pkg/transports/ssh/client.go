// Package ssh runs toolchain commands on a remote build host over SSH.
package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is a connection to a remote check host. It is safe for concurrent use; every
// command runs in its own session on the shared connection.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	closers     []io.Closer
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time
	stopKeep    chan struct{}
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
	ViaJump      bool
}

// NewClient creates a client. No connection is made until Connect or the first Run.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection to the remote host.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("Existing SSH connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, closer, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}
	c.closers = append(c.closers, closer)

	if c.config.Jump != nil {
		err = c.connectViaJump(ctx, clientConfig)
	} else {
		err = c.connectDirect(ctx, clientConfig)
	}
	if err != nil {
		c.closeLocked()
		return err
	}

	c.isConnected = true
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt

	if c.config.KeepAliveInterval > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.client, c.stopKeep)
	}

	return nil
}

func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	client, err := handshake(ctx, conn, address, clientConfig)
	if err != nil {
		return err
	}
	c.client = client

	log.Info().Str("address", address).Msg("SSH connection established")
	return nil
}

func (c *Client) connectViaJump(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	jump := c.config.Jump
	jumpConfig, closer, err := jump.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect-jump", Err: fmt.Errorf("jump host config: %w", err), IsAuthError: true}
	}
	c.closers = append(c.closers, closer)

	log.Debug().Str("jump", jump.Address()).Msg("Connecting to jump host")

	dialer := net.Dialer{Timeout: jump.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", jump.Address())
	if err != nil {
		return &TransportError{Op: "connect-jump", Err: err, IsTemporary: true}
	}
	jumpClient, err := handshake(ctx, conn, jump.Address(), jumpConfig)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, jumpClient)

	target := c.config.Address()
	tunnel, err := jumpClient.DialContext(ctx, "tcp", target)
	if err != nil {
		return &TransportError{Op: "connect-via-jump", Err: err, IsTemporary: true}
	}

	client, err := handshake(ctx, tunnel, target, targetConfig)
	if err != nil {
		return err
	}
	c.client = client

	log.Info().Str("target", target).Str("jump", jump.Address()).Msg("SSH connection established via jump host")
	return nil
}

// handshake runs the SSH handshake on conn, abandoning it when ctx is done.
func handshake(ctx context.Context, conn net.Conn, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
		}
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: false, IsAuthError: true}
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

// Disconnect closes the SSH connection and releases all resources.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("Closing SSH connection")

	if err := c.closeLocked(); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) closeLocked() error {
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}

	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
	c.closers = nil
	c.isConnected = false
	return err
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}

	return c.healthCheckInternal()
}

// healthCheckInternal must be called with connMu held.
func (c *Client) healthCheckInternal() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}

	return nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("SSH keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Str("host", c.config.Host).Msg("SSH keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// GetConnectionInfo returns information about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
		ViaJump:      c.config.Jump != nil,
	}
}

// session opens a session, connecting first if needed.
func (c *Client) session(ctx context.Context) (*ssh.Session, error) {
	c.connMu.RLock()
	client := c.client
	c.connMu.RUnlock()

	if client == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		c.connMu.RLock()
		client = c.client
		c.connMu.RUnlock()
		if client == nil {
			return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected"), IsTemporary: true}
		}
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}

	c.connMu.Lock()
	c.lastUsedAt = time.Now()
	c.connMu.Unlock()

	return session, nil
}
