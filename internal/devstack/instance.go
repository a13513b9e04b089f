package devstack

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// How many output lines an instance keeps for crash reports
const outputTailLines = 20

// Instance is one running replica of a service
type Instance struct {
	Name    string
	Service string
	Port    int

	cmd    *exec.Cmd
	logger *zap.Logger

	mu      sync.Mutex
	lastOut []string

	done    chan struct{}
	exitErr error
}

// startInstance spawns the process with PORT injected and its output
// streamed into the logger
func startInstance(spec ServiceSpec, name string, port int, logger *zap.Logger) (*Instance, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", port))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	inst := &Instance{
		Name:    name,
		Service: spec.Name,
		Port:    port,
		cmd:     cmd,
		logger:  logger.With(zap.String("service", name)),
		done:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go inst.scanLines(stdout, &readers, false)
	go inst.scanLines(stderr, &readers, true)

	go func() {
		// Wait must not run until both pipes are drained
		readers.Wait()
		err := cmd.Wait()

		inst.mu.Lock()
		inst.exitErr = err
		inst.mu.Unlock()
		close(inst.done)
	}()

	inst.logger.Info("instance started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", port))

	return inst, nil
}

// scanLines streams one pipe into the logger and the output tail
func (i *Instance) scanLines(r io.Reader, wg *sync.WaitGroup, isStderr bool) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		i.recordLine(line)
		if isStderr {
			i.logger.Warn(line)
		} else {
			i.logger.Info(line)
		}
	}
}

func (i *Instance) recordLine(line string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastOut = append(i.lastOut, line)
	if len(i.lastOut) > outputTailLines {
		i.lastOut = i.lastOut[len(i.lastOut)-outputTailLines:]
	}
}

// Addr returns the host:port the instance listens on
func (i *Instance) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", i.Port)
}

func (i *Instance) PID() int {
	return i.cmd.Process.Pid
}

// Running reports whether the process is still alive
func (i *Instance) Running() bool {
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the process exit error, nil while still running or
// after a clean exit
func (i *Instance) ExitErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitErr
}

// LastOutput returns the tail of the combined process output
func (i *Instance) LastOutput() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]string, len(i.lastOut))
	copy(out, i.lastOut)
	return out
}

// Stop terminates the process: SIGTERM first, SIGKILL after the grace
// period. Safe to call on an already dead instance.
func (i *Instance) Stop(grace time.Duration) {
	if !i.Running() {
		return
	}

	if err := i.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone
		<-i.done
		return
	}

	select {
	case <-i.done:
	case <-time.After(grace):
		i.logger.Warn("instance ignored SIGTERM, killing",
			zap.Int("pid", i.cmd.Process.Pid))
		_ = i.cmd.Process.Kill()
		<-i.done
	}
}
