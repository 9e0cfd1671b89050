package sshexec

import (
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// Fake is a mock Client for testing the Builder Pool and Installer
// without real SSH/SFTP connections, in the spirit of the teacher's
// container.DummyContainerManager.
type Fake struct {
	mu sync.Mutex

	// RunFunc, if set, is called for every Run; otherwise Run returns
	// a canned success with no output.
	RunFunc func(host, cmd string) (ExecResult, error)

	Uploaded []FakeUpload
	Removed  []string
	Commands []string // every cmd passed to Run, in order, for assertions on what was executed remotely
}

type FakeUpload struct {
	Host       string
	RemotePath string
	Mode       os.FileMode
	Contents   []byte
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Run(ctx context.Context, host, cmd string, timeout time.Duration) (ExecResult, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	f.mu.Unlock()
	if f.RunFunc != nil {
		return f.RunFunc(host, cmd)
	}
	return ExecResult{ExitCode: 0}, nil
}

func (f *Fake) Upload(ctx context.Context, host string, r io.Reader, remotePath string, mode os.FileMode) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploaded = append(f.Uploaded, FakeUpload{Host: host, RemotePath: remotePath, Mode: mode, Contents: data})
	return nil
}

func (f *Fake) Remove(ctx context.Context, host, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, remotePath)
	return nil
}

var _ Client = (*Fake)(nil)
