// Package daemon tracks the background server through a PID file that also
// records the port it listens on.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by Acquire when a live process owns the file.
var ErrAlreadyRunning = errors.New("already running")

// Info is the content of a PID file.
type Info struct {
	PID  int
	Port int // 0 when unknown
}

// PIDFile manages the server's PID file.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process listening on port.
func (p *PIDFile) Write(port int) error {
	return p.WriteInfo(Info{PID: os.Getpid(), Port: port})
}

// WriteInfo writes info as "pid\nport\n", replacing the file atomically.
func (p *PIDFile) WriteInfo(info Info) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	content := fmt.Sprintf("%d\n%d\n", info.PID, info.Port)
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.Path)
}

// Read parses the PID file. A file holding only a PID reads with Port 0.
func (p *PIDFile) Read() (Info, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return Info{}, err
	}
	lines := strings.Fields(string(data))
	if len(lines) == 0 {
		return Info{}, fmt.Errorf("invalid PID file content: empty")
	}

	var info Info
	if info.PID, err = strconv.Atoi(lines[0]); err != nil {
		return Info{}, fmt.Errorf("invalid PID file content: %w", err)
	}
	if len(lines) > 1 {
		if info.Port, err = strconv.Atoi(lines[1]); err != nil {
			return Info{}, fmt.Errorf("invalid PID file port: %w", err)
		}
	}
	return info, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Acquire writes the current process into the file unless a live process
// already owns it. A file left behind by a dead process is replaced.
func (p *PIDFile) Acquire(port int) error {
	if info, running := p.IsRunning(); running {
		return fmt.Errorf("server %w (PID %d)", ErrAlreadyRunning, info.PID)
	}
	return p.Write(port)
}
