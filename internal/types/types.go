package types

import (
	"fmt"
	"strconv"
	"time"
)

// DialogueSpan is one timed caption line, markup already stripped.
type DialogueSpan struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

type AudioSample struct {
	TimeMs int64   `json:"time_ms"`
	RMSDb  float64 `json:"rms_db"`
}

// SignalSet holds the three independent signal streams of one asset.
// Each stream is ordered by time and may be empty.
type SignalSet struct {
	Dialogue []DialogueSpan `json:"dialogue"`
	Scenes   []int64        `json:"scenes"`
	Audio    []AudioSample  `json:"audio"`
}

type SubScores struct {
	QuoteMatch       float64 `json:"quote_match"`
	AudioEnergy      float64 `json:"audio_energy"`
	SceneComposition float64 `json:"scene_composition"`
	DialogueDensity  float64 `json:"dialogue_density"`
	TemporalPosition float64 `json:"temporal_position"`
}

// Candidate is a proposed clip window. Half-open: [StartMs, EndMs).
type Candidate struct {
	StartMs    int64
	EndMs      int64
	DurationMs int64
	Text       string

	Scores    SubScores
	Composite float64
}

// MidpointMs is the center of the window, used for overlap checks.
func (c Candidate) MidpointMs() int64 { return (c.StartMs + c.EndMs) / 2 }

type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaEpisode MediaType = "episode"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

type MediaItem struct {
	ID            int64
	RatingKey     string
	LibraryID     int64
	Title         string
	Type          MediaType
	Year          int
	Genres        []string
	Actors        []string
	Director      string
	DurationMs    int64
	PosterURL     string
	Rating        string
	FilePath      string
	ShowTitle     string
	Season        int
	Episode       int
	Status        ProcessingStatus
	ClipsCreated  int
	LastProcessed *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Decade returns e.g. "1990s", or "" when the year is unknown.
func (m MediaItem) Decade() string {
	if m.Year <= 0 {
		return ""
	}
	return strconv.Itoa(m.Year/10*10) + "s"
}

// EpisodeLabel returns "S01E02" for episodes and "" otherwise.
func (m MediaItem) EpisodeLabel() string {
	if m.Type != MediaEpisode || (m.Season == 0 && m.Episode == 0) {
		return ""
	}
	return fmt.Sprintf("S%02dE%02d", m.Season, m.Episode)
}

type Clip struct {
	ID           string    `json:"id"`
	MediaKey     string    `json:"media_key"`
	Title        string    `json:"title"`
	EpisodeLabel string    `json:"season_episode,omitempty"`
	StartMs      int64     `json:"start_time_ms"`
	EndMs        int64     `json:"end_time_ms"`
	DurationMs   int64     `json:"duration_ms"`
	FilePath     string    `json:"file_path"`
	Thumbnails   []string  `json:"thumbnail_paths"`
	Scores       SubScores `json:"scores"`
	Composite    float64   `json:"composite_score"`
	Genres       []string  `json:"genre_tags"`
	Actors       []string  `json:"actors"`
	Director     string    `json:"director,omitempty"`
	Decade       string    `json:"decade,omitempty"`
	Moods        []string  `json:"mood_tags"`
	Embedding    []float64 `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c Clip) MidpointMs() int64 { return (c.StartMs + c.EndMs) / 2 }

type Library struct {
	ID             int64
	ServerID       string
	ServerName     string
	Key            string
	Title          string
	Type           string
	Enabled        bool
	TotalItems     int
	ProcessedItems int
	LastScanned    *time.Time
}

type UserEmbedding struct {
	UserID           string
	GenreWeights     map[string]float64
	InteractionCount int
	UpdatedAt        time.Time
}

type Action string

const (
	ActionLike          Action = "like"
	ActionDislike       Action = "dislike"
	ActionSave          Action = "save"
	ActionSkip          Action = "skip"
	ActionWatchComplete Action = "watch_complete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionLike, ActionDislike, ActionSave, ActionSkip, ActionWatchComplete:
		return true
	}
	return false
}

// Interaction is append-only.
type Interaction struct {
	ID        int64
	UserID    string
	ClipID    string
	Action    Action
	WatchMs   *int64
	SessionID string
	CreatedAt time.Time
}

type TasteSelection struct {
	UserID    string
	MediaKey  string
	Title     string
	Genres    []string
	CreatedAt time.Time
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is one named unit of queued work. Attempts counts deliveries,
// including the current one.
type Job struct {
	ID        string
	Name      string
	Args      []string
	Status    JobStatus
	Attempts  int
	RunAt     time.Time
	LastError string
}
