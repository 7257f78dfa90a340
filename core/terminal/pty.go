package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTYSpawner starts the host shell attached to a pseudo-terminal.
type PTYSpawner struct {
	Shell string
	Dir   string
}

// NewPTYSpawner creates a spawner for shell. An empty shell means /bin/bash.
func NewPTYSpawner(shell string) *PTYSpawner {
	if shell == "" {
		shell = "/bin/bash"
	}
	return &PTYSpawner{Shell: shell}
}

// Spawn implements ShellSpawner. Closing the returned stream kills the shell.
func (p *PTYSpawner) Spawn(ctx context.Context) (io.ReadWriteCloser, error) {
	cmd := exec.CommandContext(ctx, p.Shell)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.Shell, err)
	}
	return &ptySession{cmd: cmd, pty: f}, nil
}

// ptySession owns the shell process and its pseudo-terminal.
type ptySession struct {
	cmd  *exec.Cmd
	pty  *os.File
	once sync.Once
}

func (s *ptySession) Read(p []byte) (int, error) {
	return s.pty.Read(p)
}

func (s *ptySession) Write(p []byte) (int, error) {
	return s.pty.Write(p)
}

func (s *ptySession) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pty.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return err
}
