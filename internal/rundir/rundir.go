// Package rundir manages the per-user runtime directory the daemon,
// commands, and pty helpers use to find each other: the socket path, the
// auth token, and the daemon's pid, all recorded in a small YAML file so
// a process can tell whether a daemon is already running (tabd refuses to
// start a second one; tab exits with an error when none is). It is grounded on the original implementation's
// tab-daemon-id.yml, reimplemented with gopkg.in/yaml.v3 (the teacher has
// no runtime-directory concept of its own, but the rest of the example
// pack reaches for yaml.v3 for this kind of small sidecar config file).
package rundir

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"gopkg.in/yaml.v3"
)

// EnvOverride is the environment variable that overrides the default
// runtime directory location.
const EnvOverride = "TAB_RUNTIME_DIR"

// DaemonFile is the YAML sidecar recording the live daemon's identity.
type DaemonFile struct {
	Pid        int    `yaml:"pid"`
	SocketPath string `yaml:"socket_path"`
	AuthToken  string `yaml:"auth_token"`
	Version    string `yaml:"tab_version"`
	Executable string `yaml:"executable"`
}

// Dir returns the runtime directory to use: TAB_RUNTIME_DIR if set,
// otherwise $HOME/.tab.
func Dir() (string, error) {
	if override := os.Getenv(EnvOverride); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("rundir: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".tab"), nil
}

// Ensure creates the runtime directory (and its log file's parent) if it
// doesn't already exist, with permissions restricted to the owner since
// it holds an auth token.
func Ensure() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("rundir: create %s: %w", dir, err)
	}
	return dir, nil
}

func daemonFilePath(dir string) string {
	return filepath.Join(dir, "daemon-pid.yml")
}

func socketPath(dir string) string {
	return filepath.Join(dir, "daemon.sock")
}

func logPath(dir string) string {
	return filepath.Join(dir, "daemon.log")
}

// SocketPath returns the Unix socket path within the runtime directory.
func SocketPath(dir string) string { return socketPath(dir) }

// LogPath returns the daemon log path within the runtime directory.
func LogPath(dir string) string { return logPath(dir) }

// GenerateToken produces a fresh random bearer token: 128 bytes of
// crypto/rand, base64-encoded, matching the original implementation's
// handshake token size.
func GenerateToken() (string, error) {
	buf := make([]byte, 128)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rundir: generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// WriteDaemonFile records a freshly started daemon's identity.
func WriteDaemonFile(dir string, f DaemonFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("rundir: marshal daemon file: %w", err)
	}
	path := daemonFilePath(dir)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("rundir: write %s: %w", path, err)
	}
	return nil
}

// ReadDaemonFile loads the recorded daemon identity, if any.
func ReadDaemonFile(dir string) (DaemonFile, error) {
	data, err := os.ReadFile(daemonFilePath(dir))
	if err != nil {
		return DaemonFile{}, err
	}
	var f DaemonFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return DaemonFile{}, fmt.Errorf("rundir: parse daemon file: %w", err)
	}
	return f, nil
}

// RemoveDaemonFile deletes the sidecar file on clean shutdown.
func RemoveDaemonFile(dir string) error {
	err := os.Remove(daemonFilePath(dir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsAlive reports whether the pid recorded in f refers to a live process.
// It sends signal 0, which performs the existence check without actually
// signaling the process.
func IsAlive(f DaemonFile) bool {
	if f.Pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(f.Pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// OpenLogFile opens the daemon's append-only log file for writing,
// creating it if necessary.
func OpenLogFile(dir string) (*os.File, error) {
	path := logPath(dir)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("rundir: open log %s: %w", path, err)
	}
	return f, nil
}
