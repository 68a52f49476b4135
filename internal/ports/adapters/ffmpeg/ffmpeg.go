package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/logger"
)

// maxThumbnails caps frames per clip regardless of how many are asked for.
const maxThumbnails = 3

type Adapter struct {
	ffmpeg         string
	ffprobe        string
	timeouts       config.Timeouts
	sceneThreshold float64
	log            *logger.Logger
}

func New(tools config.Tools, sceneThreshold float64, log *logger.Logger) *Adapter {
	if tools.FFmpeg == "" {
		tools.FFmpeg = "ffmpeg"
	}
	if tools.FFprobe == "" {
		tools.FFprobe = "ffprobe"
	}
	if sceneThreshold <= 0 {
		sceneThreshold = 0.3
	}
	return &Adapter{
		ffmpeg:         tools.FFmpeg,
		ffprobe:        tools.FFprobe,
		timeouts:       tools.Timeouts,
		sceneThreshold: sceneThreshold,
		log:            log.With("component", "FFmpeg"),
	}
}

// bounded derives a context limited to d. A zero d keeps the parent deadline.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, inPath, outWav string) error {
	ctx, cancel := bounded(ctx, a.timeouts.Audio)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, tail(b))
	}
	return nil
}

// RenderClip re-encodes [startMs, endMs) of inPath with loudness
// normalization, a 0.5s fade-in, a 1s fade-out and faststart metadata.
func (a *Adapter) RenderClip(ctx context.Context, inPath string, startMs, endMs int64, outPath string) error {
	if endMs <= startMs {
		return fmt.Errorf("render clip: empty window %d..%d", startMs, endMs)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	ctx, cancel := bounded(ctx, a.timeouts.Clip)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.ffmpeg, renderArgs(inPath, startMs, endMs, outPath)...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("ffmpeg render clip: %w\n%s", err, tail(b))
	}
	kind, err := filetype.MatchFile(outPath)
	if err != nil {
		return fmt.Errorf("inspect clip output: %w", err)
	}
	if kind.MIME.Type != "video" {
		_ = os.Remove(outPath)
		return fmt.Errorf("clip output %s is not video (%s)", outPath, kind.MIME.Value)
	}
	return nil
}

func renderArgs(inPath string, startMs, endMs int64, outPath string) []string {
	durMs := endMs - startMs
	fadeOutAt := durMs - 1000
	if fadeOutAt < 0 {
		fadeOutAt = 0
	}
	af := fmt.Sprintf("afade=t=in:st=0:d=0.5,afade=t=out:st=%s:d=1.0,loudnorm=I=-16:TP=-1.5:LRA=11", fmtSeconds(fadeOutAt))
	return []string{
		"-y",
		"-ss", fmtSeconds(startMs),
		"-i", inPath,
		"-t", fmtSeconds(durMs),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-af", af,
		"-movflags", "+faststart",
		outPath,
	}
}

// Thumbnails grabs one JPEG per timestamp into outDir, capped at three.
// Individual failures are skipped; the result may be shorter than atMs.
func (a *Adapter) Thumbnails(ctx context.Context, inPath string, atMs []int64, outDir string) []string {
	if len(atMs) > maxThumbnails {
		atMs = atMs[:maxThumbnails]
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		a.log.Warn("Thumbnail dir unavailable", "dir", outDir, "error", err)
		return nil
	}
	var out []string
	for i, ts := range atMs {
		path := filepath.Join(outDir, fmt.Sprintf("thumb_%d.jpg", i))
		if err := a.thumbnail(ctx, inPath, ts, path); err != nil {
			a.log.Warn("Thumbnail failed", "at_ms", ts, "error", err)
			continue
		}
		out = append(out, path)
	}
	return out
}

func (a *Adapter) thumbnail(ctx context.Context, inPath string, atMs int64, outPath string) error {
	ctx, cancel := bounded(ctx, a.timeouts.Thumbnail)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-ss", fmtSeconds(atMs),
		"-i", inPath,
		"-vframes", "1",
		"-q:v", "2",
		outPath,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w\n%s", err, tail(b))
	}
	if _, err := os.Stat(outPath); err != nil {
		return errors.New("ffmpeg thumbnail: no frame written")
	}
	return nil
}

// ProbeDuration returns the container duration in milliseconds.
func (a *Adapter) ProbeDuration(ctx context.Context, inPath string) (int64, error) {
	ctx, cancel := bounded(ctx, a.timeouts.Probe)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inPath,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, tail(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return secondsToMs(sec), nil
}

func fmtSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func secondsToMs(sec float64) int64 {
	return int64(sec*1000 + 0.5)
}

// tail keeps the end of tool output, where ffmpeg prints the actual error.
func tail(b []byte) string {
	const keep = 4000
	if len(b) > keep {
		b = b[len(b)-keep:]
	}
	return string(b)
}
