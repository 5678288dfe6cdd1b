// Package ptyhelper implements the pty helper's core: spawning a shell
// under a real pseudo-terminal, funneling its output back to the daemon,
// and reacting to resize/terminate requests. It is grounded on the
// teacher's sandbox pty package (creack/pty.StartWithSize, a mutex-guarded
// *os.File wrapping the pty master end, Resize/Signal/Close), generalized
// from "one pty per agent sandbox" to "one pty per tab" and extended with
// per-shell history-file isolation, which the teacher's sandbox has no
// equivalent of since its shells are throwaway containers rather than
// long-lived, resumable tabs.
package ptyhelper

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// DefaultShell returns the preferred shell: $SHELL if set, else the first
// of /bin/bash or /bin/sh that exists.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// PTY is one spawned shell under a pseudo-terminal.
type PTY struct {
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool

	doneOnce sync.Once
	doneChan chan struct{}
}

// Spawn starts shell (or DefaultShell() if empty) in dir with the given
// initial size and extra environment variables, isolating its shell
// history file under histDir so concurrent tabs never clobber one
// another's HISTFILE.
func Spawn(shell, dir string, cols, rows uint16, extraEnv map[string]string, histDir string) (*PTY, error) {
	if shell == "" {
		shell = DefaultShell()
	}
	cmd := exec.Command(shell)
	cmd.Env = append(historyEnv(shell, histDir), os.Environ()...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if dir != "" {
		cmd.Dir = dir
	}

	file, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &PTY{file: file, cmd: cmd}, nil
}

// historyEnv sets the shell-specific history-file variable so that each
// tab keeps its own scrollback of typed commands instead of every tab
// interleaving writes into the user's ordinary shell history. Prepended
// to cmd.Env, so the same variable set in the inherited os.Environ() or
// passed in extraEnv (both appended later) overrides it.
func historyEnv(shell, histDir string) []string {
	if histDir == "" {
		return nil
	}
	base := filepath.Base(shell)
	switch {
	case strings.Contains(base, "fish"):
		return []string{"fish_history=" + filepath.Join(histDir, "fish_history")}
	default:
		return []string{"HISTFILE=" + filepath.Join(histDir, base+"_history")}
	}
}

// Read reads pty output.
func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	f := p.file
	p.mu.Unlock()
	return f.Read(buf)
}

// Write sends bytes to the pty's stdin.
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	f := p.file
	p.mu.Unlock()
	return f.Write(data)
}

// Resize changes the pty's window size.
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	return pty.Setsize(p.file, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close terminates the child process and releases the pty file.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.file.Close()
}

// Done returns a channel closed once the child process has exited.
func (p *PTY) Done() <-chan struct{} {
	p.doneOnce.Do(func() {
		p.doneChan = make(chan struct{})
		go func() {
			p.cmd.Wait()
			close(p.doneChan)
		}()
	})
	return p.doneChan
}
