package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/forPelevin/hlfeed/internal/domain/subtitles"
	"github.com/forPelevin/hlfeed/internal/types"
)

var (
	ptsTimeRe = regexp.MustCompile(`pts_time:(\d+\.?\d*)`)
	rmsRe     = regexp.MustCompile(`RMS_level=(-?\d+\.?\d*)`)
)

// Image-based subtitle codecs cannot be converted to SRT.
var bitmapSubtitleCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true,
	"dvd_subtitle":      true,
	"dvb_subtitle":      true,
	"xsub":              true,
}

type probeStreams struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Subtitles returns the first text subtitle track as dialogue spans. The
// bool reports whether a usable track exists; tool failures yield no spans.
func (a *Adapter) Subtitles(ctx context.Context, path string) ([]types.DialogueSpan, bool) {
	idx, ok, err := a.subtitleStream(ctx, path)
	if err != nil {
		a.log.Warn("Subtitle probe failed", "path", path, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	sctx, cancel := bounded(ctx, a.timeouts.Subtitles)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(sctx, a.ffmpeg,
		"-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:%d", idx),
		"-f", "srt",
		"-",
	)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		a.log.Warn("Subtitle extraction failed", "path", path, "stream", idx, "error", err, "stderr", tail(stderr.Bytes()))
		return nil, true
	}
	return subtitles.ParseSRT(string(out)), true
}

func (a *Adapter) subtitleStream(ctx context.Context, path string) (int, bool, error) {
	ctx, cancel := bounded(ctx, a.timeouts.Probe)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", "stream=index,codec_type,codec_name",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, false, fmt.Errorf("ffprobe streams: %w", err)
	}
	idx, ok := firstTextSubtitle(out)
	return idx, ok, nil
}

func firstTextSubtitle(probeJSON []byte) (int, bool) {
	var p probeStreams
	if err := json.Unmarshal(probeJSON, &p); err != nil {
		return 0, false
	}
	for _, s := range p.Streams {
		if s.CodecType == "subtitle" && !bitmapSubtitleCodecs[s.CodecName] {
			return s.Index, true
		}
	}
	return 0, false
}

// Scenes returns scene-change timestamps above the configured threshold.
func (a *Adapter) Scenes(ctx context.Context, path string) []int64 {
	ctx, cancel := bounded(ctx, a.timeouts.Scenes)
	defer cancel()
	filter := fmt.Sprintf("select='gt(scene,%s)',showinfo", strconv.FormatFloat(a.sceneThreshold, 'f', -1, 64))
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-i", path,
		"-filter:v", filter,
		"-f", "null",
		"-",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		a.log.Warn("Scene detection failed", "path", path, "error", err)
		return nil
	}
	return parseSceneTimes(out)
}

func parseSceneTimes(out []byte) []int64 {
	var ts []int64
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "showinfo") {
			continue
		}
		m := ptsTimeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sec, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		ts = append(ts, secondsToMs(sec))
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return dedupe(ts)
}

// Audio returns per-frame RMS levels in dB.
func (a *Adapter) Audio(ctx context.Context, path string) []types.AudioSample {
	ctx, cancel := bounded(ctx, a.timeouts.Audio)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-i", path,
		"-af", "astats=metadata=1:reset=1,ametadata=print:key=lavfi.astats.Overall.RMS_level",
		"-f", "null",
		"-",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		a.log.Warn("Audio analysis failed", "path", path, "error", err)
		return nil
	}
	return parseRMS(out)
}

// parseRMS pairs each RMS_level line with the pts_time printed before it.
// Silent frames report -inf and are skipped.
func parseRMS(out []byte) []types.AudioSample {
	var (
		samples []types.AudioSample
		curMs   int64 = -1
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := ptsTimeRe.FindStringSubmatch(line); m != nil {
			if sec, err := strconv.ParseFloat(m[1], 64); err == nil {
				curMs = secondsToMs(sec)
			}
			continue
		}
		if curMs < 0 {
			continue
		}
		m := rmsRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		db, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		samples = append(samples, types.AudioSample{TimeMs: curMs, RMSDb: db})
	}
	return samples
}

func dedupe(ts []int64) []int64 {
	if len(ts) < 2 {
		return ts
	}
	out := ts[:1]
	for _, t := range ts[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}
