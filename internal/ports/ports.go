package ports

import (
	"context"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

// SignalSource is the media-analysis tool. Implementations degrade to empty
// results on tool failure; a returned error is reserved for bad input.
type SignalSource interface {
	Subtitles(ctx context.Context, path string) ([]types.DialogueSpan, bool)
	Scenes(ctx context.Context, path string) []int64
	Audio(ctx context.Context, path string) []types.AudioSample
	ProbeDuration(ctx context.Context, path string) (int64, error)
}

// VideoTool cuts clips and grabs frames.
type VideoTool interface {
	ExtractAudioMono16k(ctx context.Context, inPath, outWav string) error
	RenderClip(ctx context.Context, inPath string, startMs, endMs int64, outPath string) error
	Thumbnails(ctx context.Context, inPath string, atMs []int64, outDir string) []string
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) ([]types.DialogueSpan, error)
}

// Catalog is the external media library.
type Catalog interface {
	Libraries(ctx context.Context) ([]types.Library, error)
	Items(ctx context.Context, lib types.Library) ([]types.MediaItem, error)
}

// TaskQueue is the enqueue side of the job queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, name string, args []string, delay time.Duration) (string, error)
}

// MediaStore is the processing side of the relational store.
type MediaStore interface {
	GetMediaItem(ctx context.Context, id int64) (*types.MediaItem, error)
	UpsertMediaItem(ctx context.Context, m *types.MediaItem) (bool, error)
	SetMediaStatus(ctx context.Context, id int64, status types.ProcessingStatus, lastProcessed *time.Time) error
	FinishMediaItem(ctx context.Context, id int64, status types.ProcessingStatus, clips int, at time.Time) error
	ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	LibraryCounts(ctx context.Context, libraryID int64) (total, completed int, err error)

	CountActiveClips(ctx context.Context, mediaKey string) (int, error)
	ActiveClipsForMedia(ctx context.Context, mediaKey string) ([]types.Clip, error)
	InsertClipGuarded(ctx context.Context, c *types.Clip, overlapMs int64, quota int) (bool, error)

	UpsertLibrary(ctx context.Context, l *types.Library) (bool, error)
	GetLibrary(ctx context.Context, id int64) (*types.Library, error)
	ListLibraries(ctx context.Context, enabledOnly bool) ([]types.Library, error)
	UpdateLibraryProgress(ctx context.Context, id int64, total, processed int, scannedAt *time.Time) error
}

// FeedStore is the read-mostly side used at request time.
type FeedStore interface {
	GetClip(ctx context.Context, id string) (*types.Clip, error)
	RandomActiveClips(ctx context.Context, exclude []string, limit int) ([]types.Clip, error)
	GetUserEmbedding(ctx context.Context, userID string) (*types.UserEmbedding, error)
	UpsertUserEmbedding(ctx context.Context, e *types.UserEmbedding) error
	EnsureUserEmbedding(ctx context.Context, userID string) (bool, error)
	InsertInteraction(ctx context.Context, in *types.Interaction) error
	ClipIDsByAction(ctx context.Context, userID string, action types.Action, since time.Time) ([]string, error)
	InteractionCounts(ctx context.Context, userID string) (map[types.Action]int, error)
	SavedClips(ctx context.Context, userID string, limit int) ([]types.Clip, error)
	ReplaceTasteSelections(ctx context.Context, userID string, sel []types.TasteSelection) error
	TasteMediaKeys(ctx context.Context, userID string) ([]string, error)
	GetMediaItemByKey(ctx context.Context, ratingKey string) (*types.MediaItem, error)
}
