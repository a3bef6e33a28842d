// Package worker spawns and supervises the OS subprocesses that execute
// delegated tasks, enforcing per-task timeouts and a graceful->forceful
// kill escalation.
package worker

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/task"
)

const defaultKillGracePeriod = 5 * time.Second

// Worker is a single live subprocess bound to one task.
type Worker struct {
	ID        string
	TaskID    task.ID
	StartedAt time.Time

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// OnComplete is invoked when a worker's subprocess exits on its own.
type OnComplete func(taskID task.ID, workerID string, exitCode int)

// OnTimeout is invoked after a worker's per-task timeout has fired and the
// subprocess has exited: the context deadline kills the process outright
// (no graceful signal first), and the callback runs once Wait returns.
type OnTimeout func(taskID task.ID, workerID string, err error)

// Pool owns every live Worker, keyed by both workerId and taskId.
type Pool struct {
	mu          sync.Mutex
	byWorkerID  map[string]*Worker
	byTaskID    map[task.ID]*Worker

	output          *output.Capture
	killGracePeriod time.Duration
	log             zerolog.Logger

	onComplete OnComplete
	onTimeout  OnTimeout

	nextID int
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithKillGracePeriod overrides the default 5s SIGTERM->SIGKILL escalation delay.
func WithKillGracePeriod(d time.Duration) Option {
	return func(p *Pool) { p.killGracePeriod = d }
}

// WithCallbacks wires the handler-mesh callbacks invoked on natural exit and
// on timeout.
func WithCallbacks(onComplete OnComplete, onTimeout OnTimeout) Option {
	return func(p *Pool) {
		p.onComplete = onComplete
		p.onTimeout = onTimeout
	}
}

// New creates a worker pool writing captured stdout/stderr into capture.
func New(capture *output.Capture, log zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		byWorkerID:      make(map[string]*Worker),
		byTaskID:        make(map[task.ID]*Worker),
		output:          capture,
		killGracePeriod: defaultKillGracePeriod,
		log:             log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Spawn starts t.Prompt as a child shell command in t.WorkingDirectory,
// attaching stdout/stderr to the output capture and starting a timeout
// timer bound to t.Timeout.
func (p *Pool) Spawn(t *task.Task) (*Worker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)

	cmd := exec.CommandContext(ctx, "sh", "-c", t.Prompt)
	if t.WorkingDirectory != "" {
		cmd.Dir = t.WorkingDirectory
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.ProcessSpawnFailed, "failed to open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.ProcessSpawnFailed, "failed to open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errs.Wrap(errs.ProcessSpawnFailed, "failed to start process", err)
	}

	p.mu.Lock()
	p.nextID++
	workerID := task.NewID().String()
	p.mu.Unlock()

	w := &Worker{
		ID:        workerID,
		TaskID:    t.ID,
		StartedAt: time.Now().UTC(),
		cmd:       cmd,
		cancel:    cancel,
	}

	p.mu.Lock()
	p.byWorkerID[workerID] = w
	p.byTaskID[t.ID] = w
	p.mu.Unlock()

	go p.pumpLines(t.ID, output.Stdout, stdout)
	go p.pumpLines(t.ID, output.Stderr, stderr)
	go p.awaitExit(ctx, w)

	return w, nil
}

func (p *Pool) pumpLines(id task.ID, stream output.Stream, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_ = p.output.Capture(id, stream, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// awaitExit waits for the subprocess to exit, distinguishing a deliberate
// timeout (ctx.Err() == context.DeadlineExceeded) from a natural exit, and
// invokes the corresponding callback exactly once.
func (p *Pool) awaitExit(ctx context.Context, w *Worker) {
	err := w.cmd.Wait()
	p.output.Flush(w.TaskID)

	timedOut := ctx.Err() == context.DeadlineExceeded

	p.mu.Lock()
	delete(p.byWorkerID, w.ID)
	delete(p.byTaskID, w.TaskID)
	p.mu.Unlock()

	if timedOut {
		if p.onTimeout != nil {
			p.onTimeout(w.TaskID, w.ID, errs.New(errs.TaskTimeout, "task exceeded its timeout"))
		}
		p.killProcess(w)
		return
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if p.onComplete != nil {
		p.onComplete(w.TaskID, w.ID, exitCode)
	}
}

// Kill sends a graceful signal, escalating to a forceful one after
// killGracePeriod if the process has not exited.
func (p *Pool) Kill(workerID string) error {
	p.mu.Lock()
	w, ok := p.byWorkerID[workerID]
	p.mu.Unlock()
	if !ok {
		return errs.New(errs.WorkerNotFound, "worker not found").WithContext(map[string]any{"workerId": workerID})
	}

	p.killProcess(w)
	return nil
}

func (p *Pool) killProcess(w *Worker) {
	if w.cmd.Process == nil {
		return
	}
	_ = w.cmd.Process.Signal(syscall.SIGTERM)

	go func() {
		timer := time.NewTimer(p.killGracePeriod)
		defer timer.Stop()
		<-timer.C

		p.mu.Lock()
		_, stillAlive := p.byWorkerID[w.ID]
		p.mu.Unlock()
		if stillAlive {
			_ = w.cmd.Process.Signal(syscall.SIGKILL)
		}
	}()
}

// KillAll kills every live worker concurrently and waits for the signals
// to be sent (not for the processes to exit).
func (p *Pool) KillAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.byWorkerID))
	for id := range p.byWorkerID {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = p.Kill(id)
		}(id)
	}
	wg.Wait()
}

// GetWorkerForTask returns the live worker for a task, if any.
func (p *Pool) GetWorkerForTask(id task.ID) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.byTaskID[id]
	return w, ok
}

// GetWorkers returns a snapshot of every live worker.
func (p *Pool) GetWorkers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, 0, len(p.byWorkerID))
	for _, w := range p.byWorkerID {
		out = append(out, w)
	}
	return out
}

// GetWorkerCount returns the number of live workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byWorkerID)
}
