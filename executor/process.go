package executor

import (
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
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
)

// WorkerEnv marks a process as an asyncz worker child. Host binaries
// using the subprocess executor must call WorkerMain early in main when
// IsWorkerProcess reports true.
const WorkerEnv = "ASYNCZ_WORKER"

// ProcessPool runs each handler invocation in a separate worker process
// below a bounded concurrency ceiling. The task name, the payload, and
// the handler's result cross the process boundary as JSON, so payloads
// and results must round-trip encoding/json; handlers themselves travel
// by registered name and must be registered in the worker binary as
// well.
type ProcessPool struct {
	base
	sem  chan struct{}
	argv []string
	wg   sync.WaitGroup
}

var _ Executor = (*ProcessPool)(nil)

// NewProcessPool creates a subprocess executor. Without WithWorkerCommand
// it re-executes the current binary with WorkerEnv set, expecting main
// to hand control to WorkerMain.
func NewProcessPool(registry *job.Registry, logger *slog.Logger, opts ...Option) *ProcessPool {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	argv := cfg.workerArgv
	if len(argv) == 0 {
		if self, err := os.Executable(); err == nil {
			argv = []string{self}
		}
	}
	p := &ProcessPool{
		sem:  make(chan struct{}, cfg.maxWorkers),
		argv: argv,
	}
	initBase(&p.base, registry, logger, &cfg)
	return p
}

// Start implements Executor.
func (p *ProcessPool) Start(alias string, sink event.Sink) error {
	if len(p.argv) == 0 {
		return errors.New("asyncz: process executor has no worker command")
	}
	return p.start(alias, sink)
}

// SendJob implements Executor.
func (p *ProcessPool) SendJob(j *job.Job, runTimes []time.Time) error {
	// The lock spans admission and wg.Add so every admitted batch is
	// visible to the wg.Wait of a concurrent Shutdown(wait).
	p.mu.Lock()
	admitted, err := p.admitLocked(j, runTimes)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if len(admitted) == 0 {
		p.mu.Unlock()
		return nil
	}

	jc := j.Clone()
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		events := runBatch(context.Background(), jc, admitted, p.invokeWorker, p.logger)
		p.finish(jc, len(admitted), events)
	}()
	return nil
}

// Shutdown implements Executor.
func (p *ProcessPool) Shutdown(wait bool) error {
	if !p.beginShutdown(wait) {
		return nil
	}
	if wait {
		p.wg.Wait()
		p.endShutdown()
	}
	p.logger.Debug("process executor shut down", slog.Bool("wait", wait))
	return nil
}

// workerRequest is the parent→child message, one per invocation.
type workerRequest struct {
	Task    string          `json:"task"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RunTime time.Time       `json:"run_time"`
}

// workerResponse is the child→parent message.
type workerResponse struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// invokeWorker spawns one worker process for the invocation and decodes
// its result. Spawn and protocol failures surface as ordinary handler
// errors and become error events.
func (p *ProcessPool) invokeWorker(ctx context.Context, j *job.Job, runTime time.Time) (any, error) {
	req, err := json.Marshal(workerRequest{
		Task:    j.Task,
		Payload: j.Payload,
		RunTime: runTime,
	})
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stdin = bytes.NewReader(req)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("worker process: %w: %s", err, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("worker process: %w", err)
	}

	var resp workerResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	var value any
	if len(resp.Value) > 0 {
		if err := json.Unmarshal(resp.Value, &value); err != nil {
			return nil, fmt.Errorf("decode worker result: %w", err)
		}
	}
	return value, nil
}

// IsWorkerProcess reports whether the current process was spawned by a
// ProcessPool.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) != ""
}

// WorkerMain is the child side of the subprocess executor: it reads one
// invocation request from stdin, runs the handler resolved from
// registry, writes the JSON response to stdout, and returns the exit
// code for os.Exit.
func WorkerMain(registry *job.Registry) int {
	return workerMain(registry, os.Stdin, os.Stdout)
}

func workerMain(registry *job.Registry, in io.Reader, out io.Writer) int {
	var req workerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "asyncz worker: decode request: %v\n", err)
		return 1
	}

	handler, ok := registry.Get(req.Task)
	if !ok {
		writeWorkerResponse(out, workerResponse{Error: fmt.Sprintf("%v: %q", asyncz.ErrTaskNotFound, req.Task)})
		return 0
	}

	value, err := runWorkerHandler(handler, req.Payload)
	if err != nil {
		writeWorkerResponse(out, workerResponse{Error: err.Error()})
		return 0
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		writeWorkerResponse(out, workerResponse{Error: fmt.Sprintf("encode result: %v", err)})
		return 0
	}
	writeWorkerResponse(out, workerResponse{Value: encoded})
	return 0
}

// runWorkerHandler isolates handler panics inside the worker so they
// travel back to the parent as errors rather than a dead process.
func runWorkerHandler(handler job.HandlerFunc, payload []byte) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(context.Background(), payload)
}

func writeWorkerResponse(out io.Writer, resp workerResponse) {
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "asyncz worker: write response: %v\n", err)
	}
}
