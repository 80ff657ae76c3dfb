// Package remote pushes rendered bundles onto worker hosts over SSH.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/moby/go-archive"
	"golang.org/x/crypto/ssh"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/retry"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultTimeout     = 2 * time.Minute
	defaultRetryDelay  = time.Second
	defaultMaxDelay    = 10 * time.Second
)

// Config holds SSH client configuration. Either Password or PrivateKey must
// be set; both may be.
type Config struct {
	Port       int
	User       string
	Password   string
	PrivateKey []byte

	// DialTimeout bounds the TCP connect and handshake.
	DialTimeout time.Duration

	// Timeout bounds one whole command or copy, connection included.
	Timeout time.Duration

	// MaxRetries is the number of extra dial attempts; zero dials once.
	MaxRetries int
	RetryDelay time.Duration

	// HostKeyCallback defaults to ssh.InsecureIgnoreHostKey().
	HostKeyCallback ssh.HostKeyCallback
}

// Client runs commands and copies directories on arbitrary hosts with one
// set of credentials. Connections are opened per call.
type Client struct {
	config *Config
	auth   []ssh.AuthMethod
	logger *slog.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.User == "" {
		return nil, errors.New("config user cannot be empty")
	}

	configCopy := *cfg
	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.Timeout == 0 {
		configCopy.Timeout = defaultTimeout
	}
	if configCopy.MaxRetries < 0 {
		configCopy.MaxRetries = 0
	}
	if configCopy.RetryDelay == 0 {
		configCopy.RetryDelay = defaultRetryDelay
	}
	if configCopy.HostKeyCallback == nil {
		configCopy.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // cluster workers are reached on a private network
	}

	var auth []ssh.AuthMethod
	if len(configCopy.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if configCopy.Password != "" {
		auth = append(auth, ssh.Password(configCopy.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("config needs a password or a private key")
	}

	return &Client{
		config: &configCopy,
		auth:   auth,
		logger: logger.Named("ssh_client"),
	}, nil
}

// NewClientFromConfig builds a client from the remote configuration section,
// reading the private key file when one is configured.
func NewClientFromConfig(cfg configs.Remote) (*Client, error) {
	var key []byte
	if cfg.PrivateKeyPath != "" {
		var err error
		key, err = os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key '%s': %w", cfg.PrivateKeyPath, err)
		}
	}

	return NewClient(&Config{
		Port:       cfg.Port,
		User:       cfg.User,
		Password:   cfg.Password,
		PrivateKey: key,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.DialRetries,
	})
}

// CopyDir replaces remoteParent/<base of localDir> on host with the contents
// of localDir, streamed as a tar archive into a remote tar process.
func (c *Client) CopyDir(ctx context.Context, host, localDir, remoteParent string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	src, err := filepath.Abs(localDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", localDir, err)
	}
	base := filepath.Base(src)

	stream, err := archive.TarWithOptions(filepath.Dir(src), &archive.TarOptions{IncludeFiles: []string{base}})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", src, err)
	}
	defer func() { _ = stream.Close() }()

	client, err := c.connect(ctx, host)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session on %s: %w", host, err)
	}
	defer func() { _ = session.Close() }()

	var output strings.Builder
	session.Stdin = stream
	session.Stdout = &output
	session.Stderr = &output

	command := fmt.Sprintf("rm -rf %s && mkdir -p %s && tar -xf - -C %s",
		shellQuote(filepath.Join(remoteParent, base)), shellQuote(remoteParent), shellQuote(remoteParent))

	if err := c.wait(ctx, host, session, func() error { return session.Run(command) }); err != nil {
		return fmt.Errorf("failed to copy %s to %s:%s: %w, output: %s", src, host, remoteParent, err, output.String())
	}

	c.logger.With("host", host, "src", src, "dest", remoteParent).Debug("directory copied")
	return nil
}

// wait runs fn and closes the session when ctx ends first.
func (c *Client) wait(ctx context.Context, host string, session *ssh.Session, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return fmt.Errorf("ssh call on %s aborted: %w", host, ctx.Err())
	}
}

func (c *Client) connect(ctx context.Context, host string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            c.auth,
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(c.config.Port))
	var client *ssh.Client

	err := retry.WithExponentialBackoff(ctx, func() error {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", addr, config)
		return dialErr
	},
		retry.WithMaxRetries(c.config.MaxRetries),
		retry.WithInitialDelay(c.config.RetryDelay),
		retry.WithMaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}

	return client, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
