// Package sshexec is the remote-execution abstraction the Builder Pool
// and the Installer both sit on top of: a Client that can run a
// command on a remote host and transfer files to it over SFTP. It
// plays the role the teacher's internal/container.ContainerManager
// interface plays for container backends — one seam, swappable for a
// fake in tests — generalized from "exec in a container" to "exec over
// SSH" because build dispatch and artifact installation both talk to
// real machines, not containers, in this domain.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pkg/sftp"

	"github.com/abogani/inau/internal/errs"
)

// ExecResult mirrors container.ExecResult's shape: captured stdout,
// stderr, and exit code from one remote command.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Client is the seam both the Builder Pool and the Installer use.
// Implementations must be safe for one goroutine at a time per host;
// callers serialize calls to the same host themselves (the Builder
// Pool does this per-Builder, the Installer does this per-Server).
type Client interface {
	Run(ctx context.Context, host, cmd string, timeout time.Duration) (ExecResult, error)
	Upload(ctx context.Context, host string, r io.Reader, remotePath string, mode os.FileMode) error
	Remove(ctx context.Context, host, remotePath string) error
}

// SSHClient is the production Client, authenticating with a single
// private key the way inau-dispatcher.py's paramiko client and
// inau.py's install() both connect as root with a key file.
type SSHClient struct {
	user    string
	signer  ssh.Signer
	timeout time.Duration
}

func NewSSHClient(user, keyPath string, dialTimeout time.Duration) (*SSHClient, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errs.FatalInternal("read ssh private key", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errs.FatalInternal("parse ssh private key", err)
	}
	return &SSHClient{user: user, signer: signer, timeout: dialTimeout}, nil
}

func (c *SSHClient) dial(host string) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // fleet hosts are not pre-enrolled in a known_hosts file
		Timeout:         c.timeout,
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errs.TransientRemote(fmt.Sprintf("dial %s", host), err)
	}
	return client, nil
}

// Run opens a session on host and runs cmd, honoring ctx cancellation
// by closing the underlying connection (ssh.Session has no native
// context support).
func (c *SSHClient) Run(ctx context.Context, host, cmd string, timeout time.Duration) (ExecResult, error) {
	client, err := c.dial(host)
	if err != nil {
		return ExecResult{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, errs.TransientRemote("open ssh session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	if timeout <= 0 {
		timeout = c.timeout
	}
	select {
	case <-ctx.Done():
		client.Close()
		return ExecResult{}, errs.TransientRemote("remote command cancelled", ctx.Err())
	case <-time.After(timeout):
		client.Close()
		return ExecResult{}, errs.TransientRemote(fmt.Sprintf("remote command timed out after %s", timeout), nil)
	case runErr := <-done:
		res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if runErr == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if asExitError(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil // a nonzero exit is a BuildFailed outcome, not an infrastructure error
		}
		return res, errs.TransientRemote("run remote command", runErr)
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if ee, ok := err.(*ssh.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Upload streams r to remotePath on host over SFTP with the given
// mode, mirroring inau.py's sftpClient.putfo staging step.
func (c *SSHClient) Upload(ctx context.Context, host string, r io.Reader, remotePath string, mode os.FileMode) error {
	client, err := c.dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return errs.TransientRemote("open sftp client", err)
	}
	defer sc.Close()

	f, err := sc.Create(remotePath)
	if err != nil {
		return errs.TransientRemote("create remote file "+remotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return errs.TransientRemote("upload to "+remotePath, err)
	}
	if err := f.Chmod(mode); err != nil {
		return errs.TransientRemote("chmod remote file "+remotePath, err)
	}
	return nil
}

// Remove deletes remotePath on host, used by the Installer to clear
// the /tmp staging copy of an artifact once it has been placed.
func (c *SSHClient) Remove(ctx context.Context, host, remotePath string) error {
	client, err := c.dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return errs.TransientRemote("open sftp client", err)
	}
	defer sc.Close()

	if err := sc.Remove(remotePath); err != nil && !os.IsNotExist(err) {
		return errs.TransientRemote("remove remote path "+remotePath, err)
	}
	return nil
}
