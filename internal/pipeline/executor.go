package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// groupExecutor runs the engine in its own process group so termination
// reaches helper processes the engine spawns. On context cancellation the
// group gets SIGTERM, then SIGKILL after the grace period.
type groupExecutor struct {
	grace time.Duration
}

func (e groupExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.Command(binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	pgid := cmd.Process.Pid

	done := make(chan struct{})
	go e.terminateOnCancel(ctx, pgid, done)

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	close(done)

	// Cancellation outranks whatever exit status the kill produced.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr != nil {
		return fmt.Errorf("engine exited: %w", waitErr)
	}
	return nil
}

func (e groupExecutor) terminateOnCancel(ctx context.Context, pgid int, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	_ = unix.Kill(-pgid, unix.SIGTERM)
	select {
	case <-done:
	case <-time.After(e.grace):
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
}
