// Package process runs the real engine as a worker subprocess and talks to it
// with one JSON line per request and per reply.
package process

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/polisai/envbridge/pkg/engine"
)

// maxReplySize bounds a single worker reply line.
const maxReplySize = 64 << 20

// EnvInjector adds context such as trace propagation headers to the worker
// environment.
type EnvInjector interface {
	InjectProcessEnv(ctx context.Context, env []string) []string
}

// StatusRecorder observes worker liveness.
type StatusRecorder interface {
	UpdateProcessStatus(command string, running bool)
}

// Manager owns one worker process and its pipes.
type Manager struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	stderr   io.ReadCloser
	done     chan struct{}
	exitCode int
	mu       sync.RWMutex
	logger   *slog.Logger
	status   StatusRecorder
	injector EnvInjector
	running  bool
	command  []string
}

// NewManager creates a process manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// SetStatusRecorder sets where worker liveness is reported.
func (pm *Manager) SetStatusRecorder(status StatusRecorder) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.status = status
}

// SetEnvInjector sets the hook that decorates the worker environment.
func (pm *Manager) SetEnvInjector(injector EnvInjector) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.injector = injector
}

// Start spawns the worker. The worker is killed when ctx is cancelled.
func (pm *Manager) Start(ctx context.Context, command []string, workDir string, env []string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("process is already running")
	}
	if len(command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}

	pm.cmd = exec.CommandContext(ctx, command[0], command[1:]...)
	if workDir != "" {
		pm.cmd.Dir = workDir
	}

	processEnv := append(os.Environ(), env...)
	if pm.injector != nil {
		processEnv = pm.injector.InjectProcessEnv(ctx, processEnv)
	}
	pm.cmd.Env = processEnv

	stdin, err := pm.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := pm.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := pm.cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := pm.cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}

	pm.stdin = stdin
	pm.stdout = bufio.NewReaderSize(stdout, 64*1024)
	pm.stderr = stderr
	pm.running = true
	pm.command = command
	pm.logger.Info("Engine worker started", "pid", pm.cmd.Process.Pid, "command", command)

	if pm.status != nil {
		pm.status.UpdateProcessStatus(command[0], true)
	}

	go pm.monitorProcess(pm.cmd)
	go pm.handleStderr(stderr)

	return nil
}

// Call writes req as one line and decodes the next reply line into reply.
// Calls must not overlap.
func (pm *Manager) Call(req any, reply any) error {
	pm.mu.RLock()
	stdin, stdout, running := pm.stdin, pm.stdout, pm.running
	pm.mu.RUnlock()

	if !running || stdin == nil || stdout == nil {
		return engine.ErrWorkerExited
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		pm.logger.Error("Failed to write to worker stdin", "error", err)
		return fmt.Errorf("%w: write: %v", engine.ErrWorkerExited, err)
	}

	line, err := readLine(stdout)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("%w (exit code %d)", engine.ErrWorkerExited, pm.waitExitCode(time.Second))
		}
		return fmt.Errorf("failed to read from worker stdout: %w", err)
	}

	if err := json.Unmarshal(line, reply); err != nil {
		return fmt.Errorf("failed to decode worker reply: %w", err)
	}
	return nil
}

// Stop closes the worker's stdin, then signals it, and kills it if it has not
// exited within timeout.
func (pm *Manager) Stop(timeout time.Duration) error {
	pm.mu.Lock()
	if !pm.running || pm.cmd == nil || pm.cmd.Process == nil {
		pm.mu.Unlock()
		return nil
	}

	pm.logger.Info("Stopping engine worker", "pid", pm.cmd.Process.Pid, "timeout", timeout)

	if pm.stdin != nil {
		pm.stdin.Close()
		pm.stdin = nil
	}
	process := pm.cmd.Process
	pm.mu.Unlock()

	select {
	case <-pm.done:
		return nil
	case <-time.After(timeout / 2):
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		pm.logger.Warn("Failed to send SIGTERM", "error", err)
	}

	select {
	case <-pm.done:
		return nil
	case <-time.After(timeout / 2):
		pm.logger.Warn("Engine worker did not exit gracefully, forcing kill", "pid", process.Pid)
		if err := process.Kill(); err != nil {
			pm.logger.Error("Failed to kill engine worker", "error", err)
			return fmt.Errorf("failed to kill process: %w", err)
		}
	}

	select {
	case <-pm.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("process did not exit after kill signal")
	}
}

// IsRunning reports whether the worker is alive.
func (pm *Manager) IsRunning() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.running
}

// ExitCode returns the worker's exit code, or -1 while it runs.
func (pm *Manager) ExitCode() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.exitCode
}

func (pm *Manager) waitExitCode(timeout time.Duration) int {
	select {
	case <-pm.done:
	case <-time.After(timeout):
	}
	return pm.ExitCode()
}

func (pm *Manager) monitorProcess(cmd *exec.Cmd) {
	err := cmd.Wait()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.running = false
	if cmd.ProcessState != nil {
		pm.exitCode = cmd.ProcessState.ExitCode()
	}
	if pm.stdin != nil {
		pm.stdin.Close()
		pm.stdin = nil
	}

	if pm.status != nil && len(pm.command) > 0 {
		pm.status.UpdateProcessStatus(pm.command[0], false)
	}

	if err != nil {
		pm.logger.Error("Engine worker exited with error", "error", err, "exit_code", pm.exitCode)
	} else {
		pm.logger.Info("Engine worker exited", "exit_code", pm.exitCode)
	}

	close(pm.done)
}

func (pm *Manager) handleStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		pm.logger.Warn("Engine worker stderr", "output", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		pm.logger.Debug("Engine worker stderr closed", "error", err)
	}
}

// readLine returns the next non-empty line. Blank lines from the worker are
// ignored.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxReplySize {
			return nil, fmt.Errorf("worker reply exceeds %d bytes", maxReplySize)
		}
		switch {
		case err == nil:
			if line := bytes.TrimSpace(buf); len(line) > 0 {
				return line, nil
			}
			buf = buf[:0]
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			if line := bytes.TrimSpace(buf); len(line) > 0 && errors.Is(err, io.EOF) {
				return line, nil
			}
			return nil, err
		}
	}
}
