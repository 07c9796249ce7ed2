// Package orchestrator owns the media item collection and drives each item
// through its conversion lifecycle. It is the single writer of item status,
// the per-item logs, and the global processing flag; backends report through
// one typed event channel consumed by one dispatch loop, so reconciliation
// logic exists exactly once and events apply in arrival order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/framefold/framefold/internal/estimate"
	"github.com/framefold/framefold/internal/geometry"
	"github.com/framefold/framefold/internal/media"
	"github.com/framefold/framefold/internal/storage"
)

// Orchestrator mediates between user intent and the processing backends.
// All mutation of shared state happens through its methods; the UI reads
// snapshots only.
type Orchestrator struct {
	mu sync.Mutex

	store      *media.Store
	conversion Backend
	spatial    Backend
	bus        Bus
	logger     *slog.Logger
	validate   *validator.Validate
	archiver   storage.Archiver

	logs       map[string][]string
	pipelines  map[string]Pipeline
	processing bool

	convCfg    media.ConversionConfig
	spatialCfg media.SpatialConfig
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBus supplies a shared event bus. Backends must emit into the same bus.
func WithBus(bus Bus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.bus = bus
		}
	}
}

// WithSpatialBackend wires the spatial pipeline backend.
func WithSpatialBackend(b Backend) Option {
	return func(o *Orchestrator) {
		o.spatial = b
	}
}

// WithArchiver delivers completed outputs to an archive destination
// (local directory or S3) after each complete event.
func WithArchiver(a storage.Archiver) Option {
	return func(o *Orchestrator) {
		o.archiver = a
	}
}

// New creates an Orchestrator around the given conversion backend.
func New(conversion Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      media.NewStore(),
		conversion: conversion,
		bus:        NewBus(),
		logger:     slog.Default(),
		validate:   validator.New(),
		logs:       make(map[string][]string),
		pipelines:  make(map[string]Pipeline),
		convCfg:    media.DefaultConversionConfig(),
		spatialCfg: media.DefaultSpatialConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bus returns the event bus backends emit into.
func (o *Orchestrator) Bus() Bus {
	return o.bus
}

// Run consumes events until the context is cancelled. Events are processed
// one at a time in arrival order.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.bus:
			o.HandleEvent(ev)
		}
	}
}

// AddFile adds a new item for the given path and returns a snapshot of it.
// A fresh id is generated; external callers that already hold an id can use
// AddItem instead.
func (o *Orchestrator) AddFile(path string, meta *media.SourceMetadata) *media.Item {
	item := media.NewItem(uuid.Must(uuid.NewV7()).String(), path)
	if meta != nil {
		item.AttachMetadata(meta)
	}
	o.store.Add(item)
	o.logger.Debug("item added",
		slog.String("id", item.ID),
		slog.String("path", path),
	)
	return item.Clone()
}

// AddItem inserts an item created elsewhere (e.g. restored session state).
func (o *Orchestrator) AddItem(item *media.Item) {
	o.store.Add(item)
}

// Select marks an item for the next enqueue.
func (o *Orchestrator) Select(id string) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	return item.Select()
}

// Deselect returns a selected item to idle.
func (o *Orchestrator) Deselect(id string) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	return item.Deselect()
}

// SetCrop stores a normalized crop rectangle on an item. The rectangle is
// clamped before it is persisted.
func (o *Orchestrator) SetCrop(id string, rect geometry.Rect) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	item.SetCrop(rect)
	return nil
}

// SetOrientation updates an item's rotation and flip parameters.
func (o *Orchestrator) SetOrientation(id string, rotation int, flipH, flipV bool) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	item.SetOrientation(rotation, flipH, flipV)
	return nil
}

// SetOutputName overrides an item's derived output file name.
func (o *Orchestrator) SetOutputName(id, name string) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	item.SetOutputName(name)
	return nil
}

// SetTrim updates an item's trim offsets.
func (o *Orchestrator) SetTrim(id, start, end string) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	item.SetTrim(start, end)
	return nil
}

// StartConversion enqueues every selected item into the conversion pipeline.
func (o *Orchestrator) StartConversion(ctx context.Context) error {
	return o.startBatch(ctx, PipelineConversion)
}

// StartSpatial enqueues every selected item into the spatial pipeline.
func (o *Orchestrator) StartSpatial(ctx context.Context) error {
	return o.startBatch(ctx, PipelineSpatial)
}

// startBatch implements the enqueue protocol: filter eligible items, raise
// the processing flag, transition the batch to QUEUED, then submit each item
// sequentially. A submission failure is local to its item and never aborts
// the batch.
func (o *Orchestrator) startBatch(ctx context.Context, pipeline Pipeline) error {
	backend, err := o.backendFor(pipeline)
	if err != nil {
		return err
	}

	o.mu.Lock()
	var eligible []*media.Item
	for _, snap := range o.store.Snapshot() {
		if snap.Status != media.StatusSelected {
			continue
		}
		item, err := o.store.Get(snap.ID)
		if err != nil {
			continue
		}
		eligible = append(eligible, item)
	}

	if len(eligible) == 0 {
		o.mu.Unlock()
		return nil
	}

	o.processing = true
	tasks := make([]Task, 0, len(eligible))
	for _, item := range eligible {
		if err := item.Enqueue(); err != nil {
			// Raced into an ineligible state since the snapshot; skip.
			continue
		}
		o.logs[item.ID] = nil
		tasks = append(tasks, o.buildTaskLocked(item, pipeline))
	}
	o.mu.Unlock()

	for _, task := range tasks {
		o.submitOne(ctx, backend, task)
	}

	o.checkCompletion()
	return nil
}

// QueueForFile enqueues exactly one item, used for incremental
// add-and-start workflows. The item must currently be eligible (selected,
// idle, or errored).
func (o *Orchestrator) QueueForFile(ctx context.Context, id string, pipeline Pipeline) error {
	backend, err := o.backendFor(pipeline)
	if err != nil {
		return err
	}
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if item.GetStatus() == media.StatusIdle {
		if err := item.Select(); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	if err := item.Enqueue(); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("queue %s: %w", id, err)
	}
	o.processing = true
	o.logs[id] = nil
	o.appendLogLocked(id, fmt.Sprintf("queued %s", item.Path))
	task := o.buildTaskLocked(item, pipeline)
	o.mu.Unlock()

	o.submitOne(ctx, backend, task)
	o.checkCompletion()
	return nil
}

func (o *Orchestrator) backendFor(pipeline Pipeline) (Backend, error) {
	switch pipeline {
	case PipelineSpatial:
		if o.spatial == nil {
			return nil, fmt.Errorf("spatial pipeline not configured")
		}
		return o.spatial, nil
	default:
		if o.conversion == nil {
			return nil, fmt.Errorf("conversion pipeline not configured")
		}
		return o.conversion, nil
	}
}

// buildTaskLocked snapshots the current configuration for one item. The
// item's edit parameters (trim, orientation, crop) are folded into the
// conversion config; the normalized crop rectangle is projected to source
// pixels when the probe supplied dimensions. It also records which pipeline
// the item was routed to, so later control requests reach the same backend.
func (o *Orchestrator) buildTaskLocked(item *media.Item, pipeline Pipeline) Task {
	snap := item.Clone()
	cfg := o.convCfg

	// An item-level trim wins over the session-wide one; an item with no
	// trim of its own keeps whatever the configuration carries.
	if snap.TrimStart != "" || snap.TrimEnd != "" {
		cfg.StartTime = snap.TrimStart
		cfg.EndTime = snap.TrimEnd
	}
	cfg.Rotation = fmt.Sprintf("%d", snap.Rotation)
	cfg.FlipHorizontal = snap.FlipHorizontal
	cfg.FlipVertical = snap.FlipVertical

	if snap.Metadata != nil && snap.Metadata.Width > 0 && snap.Metadata.Height > 0 {
		r := snap.Crop
		if r != geometry.FullFrame() {
			w := float64(snap.Metadata.Width)
			h := float64(snap.Metadata.Height)
			cfg.Crop = &media.CropConfig{
				Enabled:      true,
				X:            r.X * w,
				Y:            r.Y * h,
				Width:        r.Width * w,
				Height:       r.Height * h,
				SourceWidth:  w,
				SourceHeight: h,
			}
		}
	}

	o.pipelines[snap.ID] = pipeline

	return Task{
		ID:         snap.ID,
		Path:       snap.Path,
		OutputName: snap.OutputName,
		Pipeline:   pipeline,
		Conversion: cfg,
		Spatial:    o.spatialCfg,
		Metadata:   snap.Metadata,
	}
}

// submitOne performs a single sequential submission, mapping a failure onto
// the item without affecting the rest of the batch.
func (o *Orchestrator) submitOne(ctx context.Context, backend Backend, task Task) {
	if err := backend.Submit(ctx, task); err != nil {
		o.logger.Warn("submission failed",
			slog.String("id", task.ID),
			slog.String("error", err.Error()),
		)
		o.mu.Lock()
		o.appendLogLocked(task.ID, fmt.Sprintf("[ERROR] submission failed: %v", err))
		o.mu.Unlock()
		if item, gerr := o.store.Get(task.ID); gerr == nil {
			_ = item.Fail(err.Error())
		}
	}
}

// taskBackend resolves the backend an item's task was submitted to. Items
// never submitted resolve to the conversion backend.
func (o *Orchestrator) taskBackend(id string) (Backend, error) {
	o.mu.Lock()
	pipeline := o.pipelines[id]
	o.mu.Unlock()
	return o.backendFor(pipeline)
}

// CancelTask requests cancellation of one item on the backend its task was
// submitted to. Cancellation is always best effort: a failure is logged and
// never escalated, and the authoritative outcome still arrives via a
// subsequent backend event.
func (o *Orchestrator) CancelTask(ctx context.Context, id string) {
	backend, err := o.taskBackend(id)
	if err != nil {
		return
	}
	if err := backend.Cancel(ctx, id); err != nil {
		o.logger.Warn("cancel failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		o.mu.Lock()
		o.appendLogLocked(id, fmt.Sprintf("cancel failed: %v", err))
		o.mu.Unlock()
	}
}

// PauseTask suspends one item's running task in place. The item keeps its
// current status; only the underlying process is stopped.
func (o *Orchestrator) PauseTask(id string) error {
	return o.controlTask(id, "pause", TaskController.Pause)
}

// ResumeTask continues an item's task previously suspended with PauseTask.
func (o *Orchestrator) ResumeTask(id string) error {
	return o.controlTask(id, "resume", TaskController.Resume)
}

func (o *Orchestrator) controlTask(id, name string, op func(TaskController, string) error) error {
	backend, err := o.taskBackend(id)
	if err != nil {
		return err
	}
	controller, ok := backend.(TaskController)
	if !ok {
		return fmt.Errorf("%s not supported by the item's backend", name)
	}
	if err := op(controller, id); err != nil {
		return fmt.Errorf("%s %s: %w", name, id, err)
	}
	o.mu.Lock()
	o.appendLogLocked(id, name+"d")
	o.mu.Unlock()
	return nil
}

// UpdateConversionConfig applies an edit to the conversion configuration.
// The edit receives a copy of the current config; it is validated and
// swapped in atomically, and never retroactively affects items already
// queued or converting.
func (o *Orchestrator) UpdateConversionConfig(edit func(*media.ConversionConfig)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.convCfg
	edit(&next)
	if err := o.validate.Struct(next); err != nil {
		return fmt.Errorf("invalid conversion config: %w", err)
	}
	o.convCfg = next
	return nil
}

// UpdateSpatialConfig applies an edit to the spatial configuration.
func (o *Orchestrator) UpdateSpatialConfig(edit func(*media.SpatialConfig)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.spatialCfg
	edit(&next)
	if err := o.validate.Struct(next); err != nil {
		return fmt.Errorf("invalid spatial config: %w", err)
	}
	o.spatialCfg = next
	return nil
}

// ConversionConfig returns the active conversion configuration.
func (o *Orchestrator) ConversionConfig() media.ConversionConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.convCfg
}

// SpatialConfig returns the active spatial configuration.
func (o *Orchestrator) SpatialConfig() media.SpatialConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spatialCfg
}

// EstimateFor previews the expected output for one item under the current
// conversion configuration.
func (o *Orchestrator) EstimateFor(id string) (estimate.Estimate, error) {
	item, err := o.store.Get(id)
	if err != nil {
		return estimate.Estimate{}, err
	}
	snap := item.Clone()
	return estimate.Output(o.ConversionConfig(), snap.Metadata), nil
}

// Items returns a snapshot of the collection in insertion order.
func (o *Orchestrator) Items() []*media.Item {
	return o.store.Snapshot()
}

// Item returns a snapshot of one item.
func (o *Orchestrator) Item(id string) (*media.Item, error) {
	item, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// Logs returns a copy of the ordered log for one item.
func (o *Orchestrator) Logs(id string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	lines := o.logs[id]
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// Processing reports whether at least one item is still active.
func (o *Orchestrator) Processing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing
}

// HandleEvent applies one backend event. Handlers are idempotent with
// respect to item identity: an event for an unknown or already-terminal id
// is a no-op on that item, and all other items are unaffected.
func (o *Orchestrator) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventLog:
		o.mu.Lock()
		o.appendLogLocked(ev.ID, ev.Line)
		o.mu.Unlock()

	case EventStart:
		if item, err := o.store.Get(ev.ID); err == nil {
			_ = item.Start()
		}

	case EventProgress:
		item, err := o.store.Get(ev.ID)
		if err != nil {
			return
		}
		// The backend may begin work before emitting an explicit start.
		if item.GetStatus() == media.StatusQueued {
			_ = item.Start()
		}
		if item.GetStatus() == media.StatusConverting {
			item.UpdateProgress(ev.Progress)
		}

	case EventComplete:
		item, err := o.store.Get(ev.ID)
		if err != nil {
			return
		}
		if item.GetStatus() == media.StatusQueued {
			_ = item.Start()
		}
		if err := item.Complete(); err == nil {
			o.logger.Info("conversion completed",
				slog.String("id", ev.ID),
				slog.String("output", ev.OutputPath),
			)
			o.archive(ev.ID, ev.OutputPath)
		}
		o.checkCompletion()

	case EventError:
		item, err := o.store.Get(ev.ID)
		if err != nil {
			return
		}
		if ferr := item.Fail(ev.Message); ferr == nil {
			o.mu.Lock()
			o.appendLogLocked(ev.ID, "[ERROR] "+ev.Message)
			o.mu.Unlock()
			o.logger.Warn("conversion failed",
				slog.String("id", ev.ID),
				slog.String("error", ev.Message),
			)
		}
		o.checkCompletion()
	}
}

// archive hands a completed output to the configured archiver, if any.
// Delivery runs in the background so the dispatch loop is never blocked on
// storage I/O; the outcome lands in the item log.
func (o *Orchestrator) archive(id, outputPath string) {
	if o.archiver == nil || outputPath == "" {
		return
	}
	go func() {
		url, err := o.archiver.ArchiveFile(context.Background(), id, outputPath)
		o.mu.Lock()
		defer o.mu.Unlock()
		if err != nil {
			o.appendLogLocked(id, fmt.Sprintf("archive failed: %v", err))
			return
		}
		o.appendLogLocked(id, fmt.Sprintf("archived to %s", url))
	}()
}

// checkCompletion clears the processing flag once no item remains queued or
// converting. It runs after submission and after every terminal event, so
// the flag accurately tracks "at least one item still active".
func (o *Orchestrator) checkCompletion() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.processing {
		return
	}
	for _, item := range o.store.Snapshot() {
		if item.Status == media.StatusQueued || item.Status == media.StatusConverting {
			return
		}
	}
	o.processing = false
	o.logger.Info("all items settled")
}

func (o *Orchestrator) appendLogLocked(id, line string) {
	o.logs[id] = append(o.logs[id], line)
}
