package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/domain/highlights"
	"github.com/forPelevin/hlfeed/internal/domain/scoring"
	"github.com/forPelevin/hlfeed/internal/logger"
	"github.com/forPelevin/hlfeed/internal/ports"
	"github.com/forPelevin/hlfeed/internal/quotes"
	"github.com/forPelevin/hlfeed/internal/types"
)

type Deps struct {
	Store   ports.MediaStore
	Signals ports.SignalSource
	Video   ports.VideoTool
	// ASR is optional; nil disables transcription fallback.
	ASR     ports.ASR
	Catalog ports.Catalog
	Queue   ports.TaskQueue
	Quotes  *quotes.Book
	Log     *logger.Logger
	Now     func() time.Time
}

// Usecase is the processing orchestrator. It holds no mutable state; every
// run reads and writes through the store.
type Usecase struct {
	d       Deps
	cfg     config.Config
	params  highlights.Params
	weights scoring.Weights
	log     *logger.Logger
	tel     telemetry
}

func New(cfg config.Config, d Deps) *Usecase {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Usecase{
		d:   d,
		cfg: cfg,
		params: highlights.Params{
			MinDurationMs: cfg.Clips.MinDurationMs,
			MaxDurationMs: cfg.Clips.MaxDurationMs,
			PaddingMs:     cfg.Clips.PaddingMs,
		},
		weights: scoring.WeightsFromConfig(cfg.Scoring.Weights),
		log:     d.Log.With("component", "Orchestrator"),
		tel:     newTelemetry(),
	}
}

// Skip and finish reasons reported in Outcome.
const (
	ReasonNotFound         = "not_found"
	ReasonFileInaccessible = "file_inaccessible"
	ReasonNotMedia         = "not_media"
	ReasonQuotaMet         = "quota_met"
	ReasonProcessed        = "processed"
)

// Outcome describes what one ProcessMediaItem call did. Status is the item's
// status afterwards; it is empty when the item does not exist.
type Outcome struct {
	Status       types.ProcessingStatus
	Reason       string
	ClipsCreated int
}

// ProcessMediaItem runs the clip pipeline for one item. It is safe to call
// repeatedly: an item whose active clips already meet the quota finishes
// without new work, and candidates overlapping existing clips are dropped.
// A returned error means the item was marked failed and the job should be
// retried.
func (u *Usecase) ProcessMediaItem(ctx context.Context, id int64) (Outcome, error) {
	ctx, span := u.tel.tracer.Start(ctx, "ProcessMediaItem", trace.WithAttributes(attribute.Int64("media.id", id)))
	defer span.End()

	out, err := u.process(ctx, id)
	span.SetAttributes(
		attribute.String("outcome.status", string(out.Status)),
		attribute.String("outcome.reason", out.Reason),
		attribute.Int("outcome.clips_created", out.ClipsCreated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		u.tel.runsFailed.Add(ctx, 1)
	}
	return out, err
}

func (u *Usecase) process(ctx context.Context, id int64) (Outcome, error) {
	item, err := u.d.Store.GetMediaItem(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("load media item %d: %w", id, err)
	}
	if item == nil || item.FilePath == "" {
		u.log.Warn("Media item not found, skipping", "media_id", id)
		return Outcome{Reason: ReasonNotFound}, nil
	}
	log := u.log.With("media_id", id, "media_key", item.RatingKey, "title", item.Title)

	if _, err := os.Stat(item.FilePath); err != nil {
		log.Info("Source file not accessible, leaving item as is", "path", item.FilePath, "error", err)
		return Outcome{Status: item.Status, Reason: ReasonFileInaccessible}, nil
	}

	existing, err := u.d.Store.ActiveClipsForMedia(ctx, item.RatingKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("load clips of %s: %w", item.RatingKey, err)
	}
	quota := u.cfg.Clips.Quota(item.Type == types.MediaEpisode)
	if len(existing) >= quota {
		if err := u.d.Store.FinishMediaItem(ctx, id, types.StatusCompleted, len(existing), u.d.Now()); err != nil {
			return Outcome{}, fmt.Errorf("finish media item %d: %w", id, err)
		}
		log.Info("Quota already met", "clips", len(existing), "quota", quota)
		return Outcome{Status: types.StatusCompleted, Reason: ReasonQuotaMet}, nil
	}

	if !isMedia(item.FilePath) {
		log.Warn("Source file is not audio or video", "path", item.FilePath)
		if err := u.d.Store.FinishMediaItem(ctx, id, types.StatusFailed, len(existing), u.d.Now()); err != nil {
			return Outcome{}, fmt.Errorf("finish media item %d: %w", id, err)
		}
		return Outcome{Status: types.StatusFailed, Reason: ReasonNotMedia}, nil
	}

	started := u.d.Now()
	if err := u.d.Store.SetMediaStatus(ctx, id, types.StatusProcessing, &started); err != nil {
		return Outcome{}, fmt.Errorf("mark processing %d: %w", id, err)
	}

	created, runErr := u.generate(ctx, item, existing, quota)

	live, err := u.d.Store.CountActiveClips(ctx, item.RatingKey)
	if err != nil {
		return Outcome{Status: types.StatusProcessing}, errors.Join(runErr, fmt.Errorf("count clips of %s: %w", item.RatingKey, err))
	}
	if runErr != nil {
		log.Error("Processing failed", "error", runErr, "clips_created", created)
		if err := u.d.Store.FinishMediaItem(ctx, id, types.StatusFailed, live, u.d.Now()); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("mark failed %d: %w", id, err))
		}
		return Outcome{Status: types.StatusFailed, ClipsCreated: created}, runErr
	}
	if err := u.d.Store.FinishMediaItem(ctx, id, types.StatusCompleted, live, u.d.Now()); err != nil {
		return Outcome{Status: types.StatusProcessing, ClipsCreated: created}, fmt.Errorf("finish media item %d: %w", id, err)
	}
	log.Info("Processing completed", "clips_created", created, "clips_total", live, "quota", quota)
	return Outcome{Status: types.StatusCompleted, Reason: ReasonProcessed, ClipsCreated: created}, nil
}

// generate extracts signals, picks up to needed non-overlapping candidates
// and materializes them. Materialization failures drop the candidate.
// Another run may be working on the same item, so the live clip set is
// re-read before each render and the insert itself re-checks overlap and
// quota.
func (u *Usecase) generate(ctx context.Context, item *types.MediaItem, existing []types.Clip, quota int) (int, error) {
	needed := quota - len(existing)
	sig := u.extractSignals(ctx, item.FilePath)

	total := item.DurationMs
	if total <= 0 {
		total = u.probeDuration(ctx, item.FilePath)
	}

	title := displayTitle(item)
	cands := highlights.IdentifyCandidates(sig, total, u.d.Quotes.For(title), u.params)

	chosen, dropped := selectCandidates(scoring.Rank(cands, len(cands), u.weights), midpoints(existing), u.cfg.Clips.OverlapThresholdMs, needed)
	u.tel.overlapDropped.Add(ctx, int64(dropped))
	u.log.Debug("Candidates selected",
		"media_key", item.RatingKey, "candidates", len(cands), "dropped_overlap", dropped, "chosen", len(chosen), "needed", needed)

	created := 0
	for _, c := range chosen {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		live, err := u.d.Store.ActiveClipsForMedia(ctx, item.RatingKey)
		if err != nil {
			return created, fmt.Errorf("reload clips of %s: %w", item.RatingKey, err)
		}
		if len(live) >= quota {
			u.log.Info("Quota reached by another run", "media_key", item.RatingKey, "clips", len(live))
			break
		}
		if overlaps(c.MidpointMs(), midpoints(live), u.cfg.Clips.OverlapThresholdMs) {
			u.tel.overlapDropped.Add(ctx, 1)
			continue
		}

		clip, ok := u.materialize(ctx, item, title, c)
		if !ok {
			continue
		}
		inserted, err := u.d.Store.InsertClipGuarded(ctx, clip, u.cfg.Clips.OverlapThresholdMs, quota)
		if err != nil {
			u.discard(clip)
			return created, err
		}
		if !inserted {
			u.log.Info("Clip superseded by a concurrent run, discarding",
				"media_key", item.RatingKey, "start_ms", clip.StartMs, "end_ms", clip.EndMs)
			u.discard(clip)
			u.tel.overlapDropped.Add(ctx, 1)
			continue
		}
		created++
		u.tel.clipsMaterialized.Add(ctx, 1)
	}
	return created, nil
}

// discard removes the files of a rendered clip that has no row.
func (u *Usecase) discard(c *types.Clip) {
	thumbDir := strings.TrimSuffix(c.FilePath, filepath.Ext(c.FilePath))
	for _, path := range []string{c.FilePath, thumbDir} {
		if err := os.RemoveAll(path); err != nil {
			u.log.Warn("Failed to remove orphaned clip file", "path", path, "error", err)
		}
	}
}

func midpoints(clips []types.Clip) []int64 {
	out := make([]int64, 0, len(clips))
	for _, c := range clips {
		out = append(out, c.MidpointMs())
	}
	return out
}

// selectCandidates walks ranked candidates and keeps those whose midpoint is
// more than threshold away from every taken midpoint, up to needed. Kept
// candidates become taken for the rest of the walk.
func selectCandidates(ranked []types.Candidate, taken []int64, threshold int64, needed int) ([]types.Candidate, int) {
	var (
		out     []types.Candidate
		dropped int
	)
	for _, c := range ranked {
		if len(out) >= needed {
			break
		}
		mid := c.MidpointMs()
		if overlaps(mid, taken, threshold) {
			dropped++
			continue
		}
		out = append(out, c)
		taken = append(taken, mid)
	}
	return out, dropped
}

func overlaps(mid int64, taken []int64, threshold int64) bool {
	for _, t := range taken {
		if int64(math.Abs(float64(mid-t))) <= threshold {
			return true
		}
	}
	return false
}

func (u *Usecase) materialize(ctx context.Context, item *types.MediaItem, title string, c types.Candidate) (*types.Clip, bool) {
	id := uuid.NewString()
	dir := filepath.Join(u.cfg.Clips.StoragePath, item.RatingKey)
	clipPath := filepath.Join(dir, id+".mp4")

	if err := u.d.Video.RenderClip(ctx, item.FilePath, c.StartMs, c.EndMs, clipPath); err != nil {
		u.log.Warn("Clip render failed, dropping candidate",
			"media_key", item.RatingKey, "start_ms", c.StartMs, "end_ms", c.EndMs, "error", err)
		u.tel.materializeFailed.Add(ctx, 1)
		return nil, false
	}
	thumbs := u.d.Video.Thumbnails(ctx, item.FilePath, thumbnailTimes(c), filepath.Join(dir, id))

	decade := item.Decade()
	return &types.Clip{
		ID:           id,
		MediaKey:     item.RatingKey,
		Title:        title,
		EpisodeLabel: item.EpisodeLabel(),
		StartMs:      c.StartMs,
		EndMs:        c.EndMs,
		DurationMs:   c.DurationMs,
		FilePath:     clipPath,
		Thumbnails:   thumbs,
		Scores:       c.Scores,
		Composite:    c.Composite,
		Genres:       item.Genres,
		Actors:       item.Actors,
		Director:     item.Director,
		Decade:       decade,
		Embedding:    scoring.Embedding(item.Genres, item.Actors, item.Director, decade),
		Active:       true,
		CreatedAt:    u.d.Now().UTC(),
	}, true
}

// thumbnailTimes returns start, midpoint and one second before the end.
func thumbnailTimes(c types.Candidate) []int64 {
	last := c.EndMs - 1000
	if last < c.StartMs {
		last = c.StartMs
	}
	return []int64{c.StartMs, c.MidpointMs(), last}
}

func (u *Usecase) probeDuration(ctx context.Context, path string) int64 {
	ms, err := u.d.Signals.ProbeDuration(ctx, path)
	if err != nil || ms <= 0 {
		u.log.Warn("Duration unknown, using default", "path", path, "default_ms", u.cfg.Processing.DefaultDurationMs, "error", err)
		return u.cfg.Processing.DefaultDurationMs
	}
	return ms
}

// displayTitle is the title clips are grouped under: the show for episodes.
func displayTitle(item *types.MediaItem) string {
	if item.Type == types.MediaEpisode && item.ShowTitle != "" {
		return item.ShowTitle
	}
	return item.Title
}

// isMedia rejects files whose header identifies them as something other
// than audio or video. Unrecognized headers pass.
func isMedia(path string) bool {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return true
	}
	return kind.MIME.Type == "video" || kind.MIME.Type == "audio"
}
