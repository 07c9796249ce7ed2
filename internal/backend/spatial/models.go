package spatial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Static errors for model management.
var (
	// ErrUnknownEncoder is returned for an encoder size outside s, b, l.
	ErrUnknownEncoder = errors.New("unknown encoder size")
	// ErrModelNotFound is returned when the checkpoint file is absent and
	// the caller asked not to download.
	ErrModelNotFound = errors.New("model not found")
)

// ModelMetadata describes one depth-estimation checkpoint.
type ModelMetadata struct {
	Name     string
	Filename string
	URL      string
	SizeMB   int
}

// ModelForEncoder resolves the checkpoint metadata for an encoder size.
// Accepts both the short form ("s") and the long form ("small").
func ModelForEncoder(encoderSize string) (ModelMetadata, error) {
	switch encoderSize {
	case "s", "small":
		return ModelMetadata{
			Name:     "depth-anything-v2-small",
			Filename: "depth_anything_v2_small.onnx",
			URL:      "https://huggingface.co/onnx-community/depth-anything-v2-small/resolve/main/onnx/model.onnx",
			SizeMB:   99,
		}, nil
	case "b", "base":
		return ModelMetadata{
			Name:     "depth-anything-v2-base",
			Filename: "depth_anything_v2_base.onnx",
			URL:      "https://huggingface.co/onnx-community/depth-anything-v2-base/resolve/main/onnx/model.onnx",
			SizeMB:   380,
		}, nil
	case "l", "large":
		return ModelMetadata{
			Name:     "depth-anything-v2-large",
			Filename: "depth_anything_v2_large.onnx",
			URL:      "https://huggingface.co/onnx-community/depth-anything-v2-large/resolve/main/onnx/model.onnx",
			SizeMB:   1300,
		}, nil
	default:
		return ModelMetadata{}, fmt.Errorf("%w: %q, use s, b, or l", ErrUnknownEncoder, encoderSize)
	}
}

// ModelManager locates and downloads depth-estimation checkpoints.
type ModelManager struct {
	dir    string
	client *http.Client
}

// NewModelManager creates a manager rooted at the given checkpoint
// directory. An empty dir falls back to ~/.spatial-maker/checkpoints.
func NewModelManager(dir string, client *http.Client) *ModelManager {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".spatial-maker", "checkpoints")
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ModelManager{dir: dir, client: client}
}

// Dir returns the checkpoint directory.
func (m *ModelManager) Dir() string {
	return m.dir
}

// Path returns the on-disk location for an encoder size's checkpoint,
// whether or not it exists yet.
func (m *ModelManager) Path(encoderSize string) (string, error) {
	meta, err := ModelForEncoder(encoderSize)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.dir, meta.Filename), nil
}

// Find returns the checkpoint path if it exists on disk.
func (m *ModelManager) Find(encoderSize string) (string, error) {
	path, err := m.Path(encoderSize)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	return path, nil
}

// Exists reports whether the checkpoint for an encoder size is on disk.
func (m *ModelManager) Exists(encoderSize string) bool {
	_, err := m.Find(encoderSize)
	return err == nil
}

// ProgressFunc receives download progress as (downloaded, total) bytes.
type ProgressFunc func(downloaded, total int64)

// Ensure returns the checkpoint path, downloading the model first when it
// is not present. The progress callback may be nil.
func (m *ModelManager) Ensure(ctx context.Context, encoderSize string, progress ProgressFunc) (string, error) {
	meta, err := ModelForEncoder(encoderSize)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, meta.Filename)

	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := m.download(ctx, meta, path, progress); err != nil {
		return "", err
	}
	return path, nil
}

func (m *ModelManager) download(ctx context.Context, meta ModelMetadata, destination string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", meta.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", meta.Name, resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = int64(meta.SizeMB) * 1_000_000
	}

	// Write to a temp file and rename, so an interrupted download never
	// leaves a truncated checkpoint behind.
	tmp, err := os.CreateTemp(m.dir, meta.Filename+".*")
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	var downloaded int64
	buf := make([]byte, 1<<20)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				_ = tmp.Close()
				return fmt.Errorf("write checkpoint: %w", err)
			}
			downloaded += int64(n)
			if progress != nil {
				progress(downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = tmp.Close()
			return fmt.Errorf("download interrupted: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destination); err != nil {
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}
