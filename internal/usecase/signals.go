package usecase

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

// extractSignals gathers the three signal streams one after another. Each
// stream degrades to empty on its own.
func (u *Usecase) extractSignals(ctx context.Context, path string) types.SignalSet {
	spans, hasTrack := u.d.Signals.Subtitles(ctx, path)
	if len(spans) == 0 && !hasTrack && u.d.ASR != nil {
		spans = u.transcribe(ctx, path)
	}
	sig := types.SignalSet{
		Dialogue: spans,
		Scenes:   u.d.Signals.Scenes(ctx, path),
		Audio:    u.d.Signals.Audio(ctx, path),
	}
	u.log.Debug("Signals extracted",
		"path", path, "dialogue", len(sig.Dialogue), "scenes", len(sig.Scenes), "audio_samples", len(sig.Audio))
	return sig
}

func (u *Usecase) transcribe(ctx context.Context, path string) []types.DialogueSpan {
	dir, err := os.MkdirTemp("", "hlfeed-asr-*")
	if err != nil {
		u.log.Warn("ASR workspace unavailable", "error", err)
		return nil
	}
	defer os.RemoveAll(dir)

	var cancel context.CancelFunc
	if d := u.asrTimeout(); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	wav := filepath.Join(dir, "audio.wav")
	if err := u.d.Video.ExtractAudioMono16k(ctx, path, wav); err != nil {
		u.log.Warn("ASR audio extraction failed", "path", path, "error", err)
		return nil
	}
	spans, err := u.d.ASR.Transcribe(ctx, wav, dir)
	if err != nil {
		u.log.Warn("ASR transcription failed", "path", path, "error", err)
		return nil
	}
	u.log.Info("Dialogue transcribed", "path", path, "spans", len(spans))
	return spans
}

// asrTimeout bounds audio extraction plus transcription.
func (u *Usecase) asrTimeout() time.Duration {
	return 2 * u.cfg.Tools.Timeouts.Audio
}
