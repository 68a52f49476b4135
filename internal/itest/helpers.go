//go:build integration

package itest

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
)

type clipProbe struct {
	Seconds  float64
	HasVideo bool
	HasAudio bool
}

func probeClip(path string) (clipProbe, error) {
	b, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return clipProbe{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var raw struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return clipProbe{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var p clipProbe
	if p.Seconds, err = strconv.ParseFloat(raw.Format.Duration, 64); err != nil {
		return clipProbe{}, fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			p.HasVideo = true
		case "audio":
			p.HasAudio = true
		}
	}
	return p, nil
}

// mustRepoRoot walks up from the test directory to the module holding
// cmd/hlfeed.
func mustRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "cmd", "hlfeed", "main.go")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("cmd/hlfeed not found above test directory")
		}
		dir = parent
	}
}
