package ffmpeg

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// stderrLimit bounds the retained tail of the process's stderr.
const stderrLimit = 4096

// Process is a running ffmpeg process. Wait may be called any number of times.
type Process struct {
	cmd    *exec.Cmd
	grace  time.Duration
	logger zerolog.Logger
	stderr *tailBuffer

	done chan struct{}
	err  error

	cancelOnce sync.Once
}

func start(cmd *exec.Cmd, grace time.Duration, logger zerolog.Logger) (*Process, error) {
	p := &Process{
		cmd:    cmd,
		grace:  grace,
		logger: logger,
		stderr: &tailBuffer{limit: stderrLimit},
		done:   make(chan struct{}),
	}
	cmd.Stdout = nil
	cmd.Stderr = p.stderr
	// bound Wait when an orphaned child keeps stderr open
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go p.monitor()
	return p, nil
}

func (p *Process) monitor() {
	err := p.cmd.Wait()
	if err != nil {
		if tail := p.stderr.String(); tail != "" {
			err = errors.WithDetail(err, tail)
			p.logger.Debug().Msgf("process exited: pid=%d, error=%v, stderr=%q", p.PID(), err, tail)
		} else {
			p.logger.Debug().Msgf("process exited: pid=%d, error=%v", p.PID(), err)
		}
	} else {
		p.logger.Debug().Msgf("process exited: pid=%d", p.PID())
	}
	p.err = err
	close(p.done)
}

// Wait blocks until the process exits.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Cancel sends SIGINT and kills the process if it is still running after the
// grace period. It returns immediately.
func (p *Process) Cancel() error {
	var err error
	p.cancelOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if sigErr := p.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			if errors.Is(sigErr, os.ErrProcessDone) {
				return
			}
			p.logger.Warn().Msgf("failed to send interrupt, killing: pid=%d, error=%v", p.PID(), sigErr)
			err = p.kill()
			return
		}

		go func() {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()
			select {
			case <-p.done:
			case <-timer.C:
				p.logger.Warn().Msgf("graceful stop timeout, force killing: pid=%d", p.PID())
				_ = p.kill()
			}
		}()
	})
	return err
}

func (p *Process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrapf(err, "failed to kill process: pid=%d", p.PID())
	}
	return nil
}

// PID returns the process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, data...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
