package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/framefold/framefold/internal/orchestrator"
)

// Static errors for runner operations.
var (
	// ErrTaskNotRunning is returned when a control operation names a task
	// with no live process.
	ErrTaskNotRunning = errors.New("task not running")
)

// defaultMaxConcurrency bounds the number of simultaneous encodes.
const defaultMaxConcurrency = 2

// defaultUpscalerBin is the Real-ESRGAN binary resolved via PATH when no
// explicit path is configured.
const defaultUpscalerBin = "realesrgan-ncnn-vulkan"

// Runner executes conversion tasks as ffmpeg child processes. Submissions
// are accepted immediately and wait on a semaphore for an encode slot; every
// lifecycle change is reported through the shared event bus.
type Runner struct {
	ffmpegPath   string
	upscalerPath string
	modelDir     string
	bus          orchestrator.Bus
	logger       *slog.Logger
	sem          chan struct{}

	mu    sync.Mutex
	procs map[string]*os.Process
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxConcurrency bounds simultaneous encodes. Values below one fall back
// to the default.
func WithMaxConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 1 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// WithUpscaler points the runner at the Real-ESRGAN binary and the directory
// holding its model files.
func WithUpscaler(binPath, modelDir string) RunnerOption {
	return func(r *Runner) {
		if binPath != "" {
			r.upscalerPath = binPath
		}
		r.modelDir = modelDir
	}
}

// NewRunner creates a Runner that emits into the given bus.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewRunner(ffmpegPath string, bus orchestrator.Bus, opts ...RunnerOption) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	r := &Runner{
		ffmpegPath:   ffmpegPath,
		upscalerPath: defaultUpscalerBin,
		bus:          bus,
		logger:       slog.Default(),
		sem:          make(chan struct{}, defaultMaxConcurrency),
		procs:        make(map[string]*os.Process),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile-time interface checks.
var (
	_ orchestrator.Backend        = (*Runner)(nil)
	_ orchestrator.TaskController = (*Runner)(nil)
)

// Submit validates the task and starts a worker for it. Validation failures
// are returned synchronously; everything after acceptance is reported on the
// bus.
func (r *Runner) Submit(ctx context.Context, task orchestrator.Task) error {
	if err := ValidateTask(task.Path, task.Conversion); err != nil {
		return err
	}

	// The worker outlives the submission call; only explicit cancellation
	// stops a running encode.
	workerCtx := context.WithoutCancel(ctx)
	go r.run(workerCtx, task)
	return nil
}

// Cancel kills the task's process. The resulting exit is reported as an
// error event by the worker that owns the process.
func (r *Runner) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	proc := r.procs[id]
	r.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotRunning, id)
	}
	return proc.Kill()
}

// Pause suspends the task's process with SIGSTOP.
func (r *Runner) Pause(id string) error {
	return r.signal(id, syscall.SIGSTOP)
}

// Resume continues a paused process with SIGCONT.
func (r *Runner) Resume(id string) error {
	return r.signal(id, syscall.SIGCONT)
}

func (r *Runner) signal(id string, sig syscall.Signal) error {
	r.mu.Lock()
	proc := r.procs[id]
	r.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotRunning, id)
	}
	return proc.Signal(sig)
}

func (r *Runner) run(ctx context.Context, task orchestrator.Task) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	outputPath := BuildOutputPath(task.Path, task.Conversion.Container, task.OutputName)

	if task.Conversion.MLUpscale != "" {
		r.runUpscale(ctx, task, outputPath)
		return
	}

	args := BuildArgs(task.Path, outputPath, task.Conversion)

	r.logger.Debug("starting ffmpeg",
		slog.String("id", task.ID),
		slog.String("input", task.Path),
		slog.String("output", outputPath),
	)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: err.Error()}
		return
	}

	if err := cmd.Start(); err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("spawn ffmpeg: %v", err)}
		return
	}

	r.mu.Lock()
	r.procs[task.ID] = cmd.Process
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.procs, task.ID)
		r.mu.Unlock()
	}()

	r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventStart}
	r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventProgress, Progress: 0}

	tracker := newProgressTracker(expectedDuration(task.Conversion, task.Metadata))

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventLog, Line: line}
		if progress, ok := tracker.Observe(line); ok {
			r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventProgress, Progress: progress}
		}
	}

	if err := cmd.Wait(); err != nil {
		r.bus <- orchestrator.Event{
			ID:      task.ID,
			Kind:    orchestrator.EventError,
			Message: fmt.Sprintf("ffmpeg exited: %v", err),
		}
		return
	}

	r.bus <- orchestrator.Event{
		ID:         task.ID,
		Kind:       orchestrator.EventComplete,
		OutputPath: outputPath,
	}
}

// scanProgressLines splits on both \n and \r, since ffmpeg rewrites its
// progress line in place with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimSpace(data[:i]), nil
	}
	if atEOF {
		return len(data), bytes.TrimSpace(data), nil
	}
	return 0, nil, nil
}
