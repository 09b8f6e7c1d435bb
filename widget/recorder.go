package widget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Recorder captures microphone audio. It is held exclusively between Start
// and Stop or Cancel.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
	Cancel()
}

var (
	ErrRecorderBusy = errors.New("recorder already running")
	ErrRecorderIdle = errors.New("recorder is not running")
)

// stopGrace bounds how long a capture command may take to flush after an interrupt
const stopGrace = 2 * time.Second

// CommandRecorder records by running an external capture command that
// writes audio to stdout. The default is SoX reading the default input device.
type CommandRecorder struct {
	Command string
	Args    []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	done   chan error
}

var _ Recorder = (*CommandRecorder)(nil)

// NewCommandRecorder returns a recorder running `rec -q -t wav -`
func NewCommandRecorder() *CommandRecorder {
	return &CommandRecorder{Command: "rec", Args: []string{"-q", "-t", "wav", "-"}}
}

// Start launches the capture command. ctx only bounds the launch.
func (r *CommandRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return ErrRecorderBusy
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(r.Command, r.Args...)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = stopGrace
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", r.Command, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	r.cmd, r.stdout, r.stderr, r.done = cmd, stdout, stderr, done
	return nil
}

// Stop interrupts the command so it can finalize the file, then returns
// everything it wrote.
func (r *CommandRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return nil, ErrRecorderIdle
	}
	err := r.finish(true)
	audio := r.stdout.Bytes()
	stderr := strings.TrimSpace(r.stderr.String())
	r.release()

	if len(audio) == 0 {
		if stderr != "" {
			return nil, fmt.Errorf("recording produced no audio: %s", stderr)
		}
		if err != nil {
			return nil, fmt.Errorf("recording produced no audio: %w", err)
		}
		return nil, errors.New("recording produced no audio")
	}
	return audio, nil
}

// Cancel kills the command and discards the audio
func (r *CommandRecorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return
	}
	r.finish(false)
	r.release()
}

// finish ends the process, gracefully if asked, and waits for it
func (r *CommandRecorder) finish(graceful bool) error {
	if graceful {
		if err := r.cmd.Process.Signal(os.Interrupt); err == nil {
			select {
			case err := <-r.done:
				return err
			case <-time.After(stopGrace):
			}
		}
	}
	r.cmd.Process.Kill()
	return <-r.done
}

func (r *CommandRecorder) release() {
	r.cmd, r.stdout, r.stderr, r.done = nil, nil, nil, nil
}
