// Package media provides the MediaItem aggregate and the configuration types
// shared by the editor control plane. It includes the item state machine for
// the conversion lifecycle and an in-memory store owned by the orchestrator.
package media

import (
	"errors"
	"sync"
	"time"

	"github.com/framefold/framefold/internal/geometry"
)

// Status represents the current state of an Item in the conversion
// lifecycle.
type Status string

const (
	// StatusIdle indicates the item is loaded but not part of any batch.
	StatusIdle Status = "IDLE"
	// StatusSelected indicates the item is marked for the next enqueue.
	StatusSelected Status = "SELECTED"
	// StatusQueued indicates the item has been submitted to the backend.
	StatusQueued Status = "QUEUED"
	// StatusConverting indicates the backend is actively processing the item.
	StatusConverting Status = "CONVERTING"
	// StatusCompleted indicates the item finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusError indicates the item failed during submission or processing.
	StatusError Status = "ERROR"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. Completed and
// Error are terminal for a single run but re-enterable through a fresh
// selection, which starts a new enqueue cycle.
var validTransitions = map[Status][]Status{
	StatusIdle:       {StatusSelected},
	StatusSelected:   {StatusQueued, StatusIdle},
	StatusQueued:     {StatusConverting, StatusCompleted, StatusError, StatusIdle},
	StatusConverting: {StatusCompleted, StatusError, StatusIdle},
	StatusCompleted:  {StatusSelected},
	StatusError:      {StatusSelected, StatusQueued},
}

func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Item represents one media file under edit/conversion. The status field
// changes only through the transition methods; external code reads items
// through clones handed out by the Store.
type Item struct {
	mu sync.RWMutex

	// ID is the opaque unique identifier, stable for the item's lifetime.
	ID string
	// Path is the source location. The core never interprets it.
	Path string
	// OutputName optionally overrides the derived output filename.
	OutputName string
	// Status is the current lifecycle state.
	Status Status
	// Progress is the completion percentage (0-100), meaningful only
	// while converting.
	Progress float64
	// Error holds the failure message when Status is ERROR.
	Error string
	// Crop is the persisted crop selection in normalized source space.
	Crop geometry.Rect
	// Rotation is the display rotation in degrees (0, 90, 180, 270).
	Rotation int
	// FlipHorizontal mirrors the display around the vertical axis.
	FlipHorizontal bool
	// FlipVertical mirrors the display around the horizontal axis.
	FlipVertical bool
	// TrimStart and TrimEnd are optional time offsets (video only),
	// in ffmpeg clock syntax.
	TrimStart string
	TrimEnd   string
	// Metadata is the probed source metadata, read-only once attached.
	Metadata *SourceMetadata
	// AddedAt is when the item was added to the collection.
	AddedAt time.Time
	// UpdatedAt is when the item was last updated.
	UpdatedAt time.Time
}

// NewItem creates an Item in the IDLE state with a full-frame crop.
func NewItem(id, path string) *Item {
	now := time.Now()
	return &Item{
		ID:        id,
		Path:      path,
		Status:    StatusIdle,
		Crop:      geometry.FullFrame(),
		AddedAt:   now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the item status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (i *Item) TransitionTo(status Status) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transitionLocked(status)
}

func (i *Item) transitionLocked(status Status) error {
	if !canTransition(i.Status, status) {
		return ErrInvalidTransition
	}
	i.Status = status
	i.UpdatedAt = time.Now()
	return nil
}

// Select marks the item for the next enqueue.
func (i *Item) Select() error {
	return i.TransitionTo(StatusSelected)
}

// Deselect returns a selected item to IDLE.
func (i *Item) Deselect() error {
	return i.TransitionTo(StatusIdle)
}

// Enqueue moves the item into QUEUED and begins a fresh cycle: progress is
// reset to zero and any previous error is cleared.
func (i *Item) Enqueue() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StatusQueued); err != nil {
		return err
	}
	i.Progress = 0
	i.Error = ""
	return nil
}

// Start moves the item into CONVERTING.
func (i *Item) Start() error {
	return i.TransitionTo(StatusConverting)
}

// Complete moves the item into COMPLETED and pins progress at 100.
func (i *Item) Complete() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	i.Progress = 100
	return nil
}

// Fail moves the item into ERROR with the given message.
func (i *Item) Fail(msg string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StatusError); err != nil {
		return err
	}
	i.Error = msg
	return nil
}

// Reset returns the item to IDLE, used for best-effort cancellation.
func (i *Item) Reset() error {
	return i.TransitionTo(StatusIdle)
}

// UpdateProgress sets the completion percentage. Values are clamped to
// [0,100] and decreases are ignored: progress is monotone within one
// enqueue cycle.
func (i *Item) UpdateProgress(progress float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < i.Progress {
		return
	}
	i.Progress = progress
	i.UpdatedAt = time.Now()
}

// GetStatus returns the current status (thread-safe).
func (i *Item) GetStatus() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Status
}

// IsActive reports whether the item is queued or converting.
func (i *Item) IsActive() bool {
	s := i.GetStatus()
	return s == StatusQueued || s == StatusConverting
}

// IsTerminal reports whether the item finished its current run.
func (i *Item) IsTerminal() bool {
	s := i.GetStatus()
	return s == StatusCompleted || s == StatusError
}

// SetCrop stores a new crop selection after normalization.
func (i *Item) SetCrop(r geometry.Rect) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Crop = geometry.Clamp(r)
	i.UpdatedAt = time.Now()
}

// SetOrientation updates the rotation and flip parameters together.
func (i *Item) SetOrientation(rotation int, flipH, flipV bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Rotation = rotation
	i.FlipHorizontal = flipH
	i.FlipVertical = flipV
	i.UpdatedAt = time.Now()
}

// SetTrim updates the trim offsets.
func (i *Item) SetTrim(start, end string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.TrimStart = start
	i.TrimEnd = end
	i.UpdatedAt = time.Now()
}

// SetOutputName overrides the derived output file name.
func (i *Item) SetOutputName(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.OutputName = name
	i.UpdatedAt = time.Now()
}

// AttachMetadata attaches probed source metadata to the item.
func (i *Item) AttachMetadata(meta *SourceMetadata) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Metadata = meta
	i.UpdatedAt = time.Now()
}

// Clone creates a copy of the item for safe reads.
func (i *Item) Clone() *Item {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return &Item{
		ID:             i.ID,
		Path:           i.Path,
		OutputName:     i.OutputName,
		Status:         i.Status,
		Progress:       i.Progress,
		Error:          i.Error,
		Crop:           i.Crop,
		Rotation:       i.Rotation,
		FlipHorizontal: i.FlipHorizontal,
		FlipVertical:   i.FlipVertical,
		TrimStart:      i.TrimStart,
		TrimEnd:        i.TrimEnd,
		Metadata:       i.Metadata,
		AddedAt:        i.AddedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}
