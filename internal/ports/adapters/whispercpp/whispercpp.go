package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forPelevin/hlfeed/internal/domain/subtitles"
	"github.com/forPelevin/hlfeed/internal/types"
)

type Adapter struct {
	bin   string
	model string
}

func New(binPath, modelPath string) *Adapter {
	return &Adapter{bin: binPath, model: modelPath}
}

// output mirrors the -oj file written by whisper.cpp.
type output struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe runs whisper.cpp on a 16 kHz mono WAV and returns one dialogue
// span per segment.
func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) ([]types.DialogueSpan, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-oj",
		"-of", outPrefix,
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return nil, err
	}
	return decode(jb)
}

func decode(jb []byte) ([]types.DialogueSpan, error) {
	var out output
	if err := json.Unmarshal(jb, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}
	spans := make([]types.DialogueSpan, 0, len(out.Transcription))
	for _, seg := range out.Transcription {
		text := subtitles.StripMarkup(strings.TrimSpace(seg.Text))
		if text == "" || seg.Offsets.To <= seg.Offsets.From {
			continue
		}
		spans = append(spans, types.DialogueSpan{
			StartMs: seg.Offsets.From,
			EndMs:   seg.Offsets.To,
			Text:    text,
		})
	}
	return spans, nil
}
