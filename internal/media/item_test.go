package media

import (
	"testing"

	"github.com/framefold/framefold/internal/geometry"
)

func TestNewItem(t *testing.T) {
	item := NewItem("file-1", "/videos/clip.mp4")

	if item.ID != "file-1" {
		t.Errorf("expected ID file-1, got %s", item.ID)
	}
	if item.Status != StatusIdle {
		t.Errorf("expected status %s, got %s", StatusIdle, item.Status)
	}
	if item.Crop != geometry.FullFrame() {
		t.Errorf("expected full-frame crop, got %+v", item.Crop)
	}
	if item.AddedAt.IsZero() || item.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestItem_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"IDLE to SELECTED", StatusIdle, StatusSelected, false},
		{"SELECTED to QUEUED", StatusSelected, StatusQueued, false},
		{"SELECTED to IDLE", StatusSelected, StatusIdle, false},
		{"QUEUED to CONVERTING", StatusQueued, StatusConverting, false},
		{"QUEUED to ERROR", StatusQueued, StatusError, false},
		{"QUEUED to IDLE", StatusQueued, StatusIdle, false},
		{"CONVERTING to COMPLETED", StatusConverting, StatusCompleted, false},
		{"CONVERTING to ERROR", StatusConverting, StatusError, false},
		{"CONVERTING to IDLE", StatusConverting, StatusIdle, false},
		{"COMPLETED to SELECTED", StatusCompleted, StatusSelected, false},
		{"ERROR to SELECTED", StatusError, StatusSelected, false},
		// Invalid transitions
		{"IDLE to QUEUED", StatusIdle, StatusQueued, true},
		{"IDLE to CONVERTING", StatusIdle, StatusConverting, true},
		{"SELECTED to CONVERTING", StatusSelected, StatusConverting, true},
		{"COMPLETED to QUEUED", StatusCompleted, StatusQueued, true},
		{"COMPLETED to CONVERTING", StatusCompleted, StatusConverting, true},
		{"CONVERTING to QUEUED", StatusConverting, StatusQueued, true},
		{"ERROR to CONVERTING", StatusError, StatusConverting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := NewItem("test", "/tmp/a.mp4")
			item.Status = tt.from

			err := item.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestItem_EnqueueResetsCycle(t *testing.T) {
	item := NewItem("test", "/tmp/a.mp4")
	item.Status = StatusConverting
	item.Progress = 70
	if err := item.Fail("encoder exploded"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := item.Select(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := item.Enqueue(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if item.Status != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, item.Status)
	}
	if item.Progress != 0 {
		t.Errorf("expected progress reset to 0, got %v", item.Progress)
	}
	if item.Error != "" {
		t.Errorf("expected error cleared, got %q", item.Error)
	}
}

func TestItem_ProgressMonotonic(t *testing.T) {
	item := NewItem("test", "/tmp/a.mp4")
	item.Status = StatusConverting

	item.UpdateProgress(40)
	if item.Progress != 40 {
		t.Errorf("expected 40, got %v", item.Progress)
	}

	// Decreases within a cycle are ignored
	item.UpdateProgress(30)
	if item.Progress != 40 {
		t.Errorf("expected 40 after lower update, got %v", item.Progress)
	}

	// Values are clamped
	item.UpdateProgress(150)
	if item.Progress != 100 {
		t.Errorf("expected clamp to 100, got %v", item.Progress)
	}
}

func TestItem_CompletePinsProgress(t *testing.T) {
	item := NewItem("test", "/tmp/a.mp4")
	item.Status = StatusConverting
	item.Progress = 40

	if err := item.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Progress != 100 {
		t.Errorf("expected progress 100 after completion, got %v", item.Progress)
	}
}

func TestItem_Clone(t *testing.T) {
	item := NewItem("test", "/tmp/a.mp4")
	item.SetCrop(geometry.Rect{X: 0.1, Y: 0.1, Width: 0.5, Height: 0.5})
	item.SetOrientation(90, true, false)

	clone := item.Clone()
	clone.Status = StatusError
	clone.Rotation = 270

	if item.Status != StatusIdle {
		t.Error("mutating clone affected original status")
	}
	if item.Rotation != 90 {
		t.Error("mutating clone affected original rotation")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"90", 90, true},
		{"12.5", 12.5, true},
		{"01:30", 90, true},
		{"00:01:30.50", 90.5, true},
		{"02:00:00", 7200, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"1:2:3:4", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseClock(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseClock(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in    string
		wantW int
		wantH int
	}{
		{"1920x1080", 1920, 1080},
		{"640x480", 640, 480},
		{"garbage", 0, 0},
		{"", 0, 0},
		{"x1080", 0, 0},
		{"-1x1080", 0, 0},
	}

	for _, tt := range tests {
		w, h := ParseResolution(tt.in)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("ParseResolution(%q) = (%d, %d), want (%d, %d)", tt.in, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestIsAudioOnlyContainer(t *testing.T) {
	for _, c := range []string{"mp3", "wav", "flac", "aac", "m4a", "MP3"} {
		if !IsAudioOnlyContainer(c) {
			t.Errorf("expected %q to be audio-only", c)
		}
	}
	for _, c := range []string{"mp4", "mkv", "webm", "mov"} {
		if IsAudioOnlyContainer(c) {
			t.Errorf("expected %q not to be audio-only", c)
		}
	}
}
