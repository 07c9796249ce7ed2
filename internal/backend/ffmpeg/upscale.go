package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/framefold/framefold/internal/media"
	"github.com/framefold/framefold/internal/orchestrator"
)

// frameRegex matches the frame counter ffmpeg prints on its progress line.
var frameRegex = regexp.MustCompile(`frame=\s*(\d+)`)

// ResolveUpscaleMode maps a public upscale mode name onto the Real-ESRGAN
// scale factor and model name.
func ResolveUpscaleMode(mode string) (scale int, model string, err error) {
	switch mode {
	case "esrgan-2x":
		return 2, "realesr-animevideov3-x2", nil
	case "esrgan-4x":
		return 4, "realesr-animevideov3-x4", nil
	}
	return 0, "", fmt.Errorf("%w: unknown upscale mode %q", ErrInvalidInput, mode)
}

// upscaleThreads builds the load:proc:save thread spec for the upscaler.
// Concurrent inference frames are bounded by VRAM pressure at the output
// resolution, I/O threads by the CPU count.
func upscaleThreads(width, height, scale, cpus int) string {
	outputPixels := int64(width) * int64(scale) * int64(height) * int64(scale)

	proc := 4
	switch {
	case outputPixels > 8_294_400:
		proc = 1
	case outputPixels > 2_073_600:
		proc = 2
	}

	if cpus < 1 {
		cpus = 4
	}
	io := (cpus + 1) / 2
	if io < 1 {
		io = 1
	}
	if io > 4 {
		io = 4
	}

	return fmt.Sprintf("%d:%d:%d", io, proc, io)
}

// BuildUpscaleDecodeArgs assembles the ffmpeg command that extracts the
// trimmed, filtered source into a numbered PNG sequence. Extraction is
// forced to a constant frame rate so the sequence has no gaps and the
// encode stage can trust frame numbering.
func BuildUpscaleDecodeArgs(input, framesDir string, fps float64, cfg media.ConversionConfig) []string {
	var args []string

	if cfg.HWDecode {
		// Only -hwaccel, no output format: the frames must land in CPU
		// memory for the PNG writer.
		if isNvencCodec(cfg.VideoCodec) {
			args = append(args, "-hwaccel", "cuda")
		} else if isVideotoolboxCodec(cfg.VideoCodec) {
			args = append(args, "-hwaccel", "videotoolbox")
		}
	}

	if cfg.StartTime != "" {
		args = append(args, "-ss", cfg.StartTime)
	}

	args = append(args, "-i", input)

	if cfg.EndTime != "" {
		if cfg.StartTime != "" {
			start, okS := media.ParseClock(cfg.StartTime)
			end, okE := media.ParseClock(cfg.EndTime)
			if okS && okE && end-start > 0 {
				args = append(args, "-t", fmt.Sprintf("%.3f", end-start))
			}
		} else {
			args = append(args, "-to", cfg.EndTime)
		}
	}

	if filters := BuildVideoFilters(cfg, false); len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	args = append(args, "-r", formatFPS(fps), "-vsync", "cfr")
	args = append(args, filepath.Join(framesDir, "frame_%08d.png"))
	return args
}

// BuildUpscalerArgs assembles the Real-ESRGAN command line for one frame
// directory pass.
func BuildUpscalerArgs(inputDir, outputDir, modelDir, model string, scale, width, height int) []string {
	return []string{
		"-v",
		"-i", inputDir,
		"-o", outputDir,
		"-s", strconv.Itoa(scale),
		"-f", "png",
		"-m", modelDir,
		"-n", model,
		"-j", upscaleThreads(width, height, scale, runtime.NumCPU()),
		"-g", "0",
		"-t", "0",
	}
}

// BuildUpscaleEncodeArgs assembles the ffmpeg command that re-encodes the
// upscaled frame sequence, pulling audio, subtitles and metadata from the
// original source as a second input.
func BuildUpscaleEncodeArgs(framesDir, source, output string, fps float64, cfg media.ConversionConfig, pixelFormat string) []string {
	args := []string{
		"-framerate", formatFPS(fps),
		"-start_number", "1",
		"-i", filepath.Join(framesDir, "frame_%08d.png"),
	}

	if cfg.StartTime != "" {
		args = append(args, "-ss", cfg.StartTime)
	}
	args = append(args, "-i", source)

	switch cfg.Metadata.Mode {
	case media.MetadataClean:
		args = append(args, "-map_metadata", "-1")
	case media.MetadataReplace:
		args = append(args, "-map_metadata", "-1")
		args = appendMetadataFlags(args, cfg.Metadata)
	default:
		// Metadata lives on the source input, not the frame sequence.
		args = append(args, "-map_metadata", "1")
		args = appendMetadataFlags(args, cfg.Metadata)
	}

	args = append(args, "-map", "0:v:0")

	if len(cfg.SelectedAudioTracks) > 0 {
		for _, idx := range cfg.SelectedAudioTracks {
			args = append(args, "-map", fmt.Sprintf("1:%d", idx))
		}
	} else {
		args = append(args, "-map", "1:a?")
	}

	if len(cfg.SelectedSubtitleTracks) > 0 {
		for _, idx := range cfg.SelectedSubtitleTracks {
			args = append(args, "-map", fmt.Sprintf("1:%d", idx))
		}
	} else if cfg.SubtitleBurnPath == "" {
		args = append(args, "-map", "1:s?")
	}

	args = appendVideoCodecArgs(args, cfg)
	args = appendAudioCodecArgs(args, cfg)

	if filters := BuildAudioFilters(cfg); len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	if len(cfg.SelectedSubtitleTracks) > 0 || cfg.SubtitleBurnPath == "" {
		args = append(args, "-c:s", "copy")
	}

	if cfg.FPS != "" && cfg.FPS != "original" {
		args = append(args, "-r", cfg.FPS)
	}

	// Preserve high bit-depth pixel formats; everything else lands on the
	// broadly compatible default.
	pix := "yuv420p"
	if strings.Contains(pixelFormat, "10") || strings.Contains(pixelFormat, "12") {
		pix = pixelFormat
	}
	args = append(args, "-pix_fmt", pix)

	args = append(args, "-shortest", "-y", output)
	return args
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

func frameCount(line string) (int, bool) {
	m := frameRegex.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Per-stage progress bands: decode fills 0..5, upscaling 5..90, the final
// encode 90..99; completion pins 100.
const (
	upscaleDecodeCeil = 5.0
	upscaleInferCeil  = 90.0
	upscaleEncodeCeil = 99.0
)

// runUpscale drives the three-stage upscale flow: extract frames, run the
// upscaler over the frame directory, re-encode the result. Intermediate
// frames live in a per-task temp directory removed on every exit path.
func (r *Runner) runUpscale(ctx context.Context, task orchestrator.Task, outputPath string) {
	scale, model, err := ResolveUpscaleMode(task.Conversion.MLUpscale)
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: err.Error()}
		return
	}

	tempDir, err := os.MkdirTemp("", "frame_upscale_"+task.ID)
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("create work dir: %v", err)}
		return
	}
	defer os.RemoveAll(tempDir)

	inputFrames := filepath.Join(tempDir, "input")
	outputFrames := filepath.Join(tempDir, "output")
	for _, dir := range []string{inputFrames, outputFrames} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("create work dir: %v", err)}
			return
		}
	}

	fps := 30.0
	width, height := 1920, 1080
	pixelFormat := ""
	if task.Metadata != nil {
		if task.Metadata.FrameRate > 0 {
			fps = task.Metadata.FrameRate
		}
		if task.Metadata.Width > 0 {
			width = task.Metadata.Width
		}
		if task.Metadata.Height > 0 {
			height = task.Metadata.Height
		}
		pixelFormat = task.Metadata.PixelFormat
	}
	totalFrames := int(math.Ceil(expectedDuration(task.Conversion, task.Metadata) * fps))

	r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventStart}
	r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventProgress, Progress: 0}

	decodeArgs := BuildUpscaleDecodeArgs(task.Path, inputFrames, fps, task.Conversion)
	err = r.runStage(ctx, task.ID, r.ffmpegPath, "[DECODE] ", decodeArgs, func(line string) bool {
		if f, ok := frameCount(line); ok && totalFrames > 0 {
			p := float64(f) / float64(totalFrames) * upscaleDecodeCeil
			r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventProgress, Progress: min(p, upscaleDecodeCeil)}
		}
		return true
	})
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("frame extraction failed: %v", err)}
		return
	}

	// A variable-rate source can produce a different count than the
	// duration predicted; the extracted sequence is authoritative.
	if n := countFrames(inputFrames); n > 0 {
		totalFrames = n
	}

	upscalerArgs := BuildUpscalerArgs(inputFrames, outputFrames, r.modelDir, model, scale, width, height)
	var completed int
	last := upscaleDecodeCeil
	err = r.runStage(ctx, task.ID, r.upscalerPath, "[UPSCALE] ", upscalerArgs, func(line string) bool {
		if strings.Contains(line, "->") || strings.Contains(line, "→") {
			completed++
			if totalFrames > 0 {
				p := upscaleDecodeCeil + float64(completed)/float64(totalFrames)*(upscaleInferCeil-upscaleDecodeCeil)
				if p > last {
					last = p
					r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventProgress, Progress: min(p, upscaleInferCeil)}
				}
			}
		}
		// The upscaler repaints a percentage line continuously; it carries
		// no information the progress events don't.
		return !isPercentLine(line)
	})
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("upscaling failed: %v", err)}
		return
	}

	encodeArgs := BuildUpscaleEncodeArgs(outputFrames, task.Path, outputPath, fps, task.Conversion, pixelFormat)
	err = r.runStage(ctx, task.ID, r.ffmpegPath, "[ENCODE] ", encodeArgs, func(line string) bool {
		if f, ok := frameCount(line); ok && totalFrames > 0 {
			p := upscaleInferCeil + float64(f)/float64(totalFrames)*(upscaleEncodeCeil-upscaleInferCeil)
			r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventProgress, Progress: min(p, upscaleEncodeCeil)}
		}
		return true
	})
	if err != nil {
		r.bus <- orchestrator.Event{ID: task.ID, Kind: orchestrator.EventError, Message: fmt.Sprintf("encode failed: %v", err)}
		return
	}

	r.bus <- orchestrator.Event{
		ID:         task.ID,
		Kind:       orchestrator.EventComplete,
		OutputPath: outputPath,
	}
}

// runStage runs one external command for a task, forwarding its stderr to
// the item log with the given prefix. The process stays registered for the
// stage's duration so cancel and pause reach whichever stage is active.
// observe sees every stderr line and reports whether it should be logged.
func (r *Runner) runStage(ctx context.Context, id, bin, prefix string, args []string, observe func(line string) bool) error {
	// #nosec G204 - binary paths are set by the application, not user input
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", filepath.Base(bin), err)
	}

	r.mu.Lock()
	r.procs[id] = cmd.Process
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.procs, id)
		r.mu.Unlock()
	}()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if observe == nil || observe(line) {
			r.bus <- orchestrator.Event{ID: id, Kind: orchestrator.EventLog, Line: prefix + line}
		}
	}
	return cmd.Wait()
}

func isPercentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasSuffix(trimmed, "%") {
		return false
	}
	return trimmed[0] >= '0' && trimmed[0] <= '9'
}

func countFrames(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			n++
		}
	}
	return n
}
