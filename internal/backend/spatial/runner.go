// Package spatial runs the spatial-maker pipeline, which converts flat
// photos and videos into stereo spatial media via monocular depth
// estimation.
package spatial

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/framefold/framefold/internal/orchestrator"
)

// ErrTaskNotRunning is returned when a cancel names a task with no live
// process.
var ErrTaskNotRunning = errors.New("task not running")

// Stage progress anchors. depth_stereo owns the 10-85 band; its pct events
// are mapped into that range.
const (
	stageDownscalePct   = 5
	stageDepthStereoPct = 10
	stageAudioMuxPct    = 85
	stageSpatialMakePct = 90
	depthStereoSpan     = 75
)

// Runner executes spatial tasks as spatial-maker child processes.
type Runner struct {
	binPath string
	bus     orchestrator.Bus
	logger  *slog.Logger
	models  *ModelManager

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

// WithModelManager enables checkpoint pre-fetch before each run.
func WithModelManager(m *ModelManager) RunnerOption {
	return func(r *Runner) {
		r.models = m
	}
}

// NewRunner creates a Runner that emits into the given bus.
// If binPath is empty, it defaults to "spatial-maker" (found via PATH).
func NewRunner(binPath string, bus orchestrator.Bus, opts ...RunnerOption) *Runner {
	if binPath == "" {
		binPath = "spatial-maker"
	}
	r := &Runner{
		binPath: binPath,
		bus:     bus,
		logger:  slog.Default(),
		procs:   make(map[string]*os.Process),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile-time interface check.
var _ orchestrator.Backend = (*Runner)(nil)

// Submit starts a worker for the task. The input path is checked
// synchronously; everything after acceptance is reported on the bus.
func (r *Runner) Submit(ctx context.Context, task orchestrator.Task) error {
	if _, err := os.Stat(task.Path); err != nil {
		return fmt.Errorf("input file does not exist: %s", task.Path)
	}
	if _, err := ModelForEncoder(task.Spatial.EncoderSize); err != nil {
		return err
	}

	go r.run(context.WithoutCancel(ctx), task)
	return nil
}

// Cancel kills the task's process.
func (r *Runner) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	proc := r.procs[id]
	r.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotRunning, id)
	}
	return proc.Kill()
}

// buildArgs assembles the spatial-maker command line for one task.
func buildArgs(task orchestrator.Task) []string {
	cfg := task.Spatial
	args := []string{
		task.Path,
		"--json-progress",
		"--encoder", cfg.EncoderSize,
		"--max-disparity", strconv.Itoa(cfg.MaxDisparity),
	}
	if cfg.SkipDownscale {
		args = append(args, "--skip-downscale")
	}
	if cfg.Duration != nil {
		args = append(args, "--duration", strconv.FormatFloat(*cfg.Duration, 'f', -1, 64))
	}
	return args
}

func (r *Runner) run(ctx context.Context, task orchestrator.Task) {
	if r.models != nil {
		if _, err := r.models.Ensure(ctx, task.Spatial.EncoderSize, nil); err != nil {
			r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("checkpoint: %v", err)}
			return
		}
	}

	args := buildArgs(task)
	r.logger.Debug("starting spatial-maker",
		slog.String("id", task.ID),
		slog.String("input", task.Path),
		slog.String("encoder", task.Spatial.EncoderSize),
	)

	// #nosec G204 - binPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, r.binPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: err.Error()}
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: err.Error()}
		return
	}

	if err := cmd.Start(); err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("spawn spatial-maker: %v", err)}
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

	var wg sync.WaitGroup
	var outputPath string
	var outputMu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventLog, Line: line}
			if out, ok := r.handleProgressLine(task.ID, line); ok {
				outputMu.Lock()
				outputPath = out
				outputMu.Unlock()
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventLog, Line: line}
			}
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		r.bus <- orchestrator.Event{
			ID:      task.ID,
			Kind:    orchestrator.EventError,
			Message: fmt.Sprintf("spatial-maker exited: %v", err),
		}
		return
	}

	outputMu.Lock()
	out := outputPath
	outputMu.Unlock()
	r.bus <- orchestrator.Event{
		ID:         task.ID,
		Kind:       orchestrator.EventComplete,
		OutputPath: out,
	}
}

// progressLine is one JSON event on spatial-maker's stdout.
type progressLine struct {
	Event   string  `json:"event"`
	Stage   string  `json:"stage"`
	Pct     float64 `json:"pct"`
	Output  string  `json:"output"`
	Message string  `json:"message"`
}

// handleProgressLine parses one stdout line and emits the corresponding
// progress. It returns the output path carried by a done event.
func (r *Runner) handleProgressLine(id, line string) (string, bool) {
	var ev progressLine
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		// Plain log output, already forwarded.
		return "", false
	}

	switch ev.Event {
	case "stage":
		r.bus <- orchestrator.Event{ID: id, Kind: orchestrator.EventProgress, Progress: stageProgress(ev.Stage)}
	case "progress":
		mapped := stageDepthStereoPct + ev.Pct/100*depthStereoSpan
		r.bus <- orchestrator.Event{ID: id, Kind: orchestrator.EventProgress, Progress: mapped}
	case "done":
		return ev.Output, true
	case "error":
		msg := ev.Message
		if msg == "" {
			msg = "unknown error"
		}
		r.bus <- orchestrator.Event{ID: id, Kind: orchestrator.EventLog, Line: "[SPATIAL ERROR] " + msg}
	}
	return "", false
}

func stageProgress(stage string) float64 {
	switch stage {
	case "downscale":
		return stageDownscalePct
	case "depth_stereo":
		return stageDepthStereoPct
	case "audio_mux":
		return stageAudioMuxPct
	case "spatial_make":
		return stageSpatialMakePct
	default:
		return 0
	}
}
