package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const envPrefix = "HLFEED_"

// Config is built once at startup and handed to components by value.
// Nothing mutates it after Load returns.
type Config struct {
	Clips      Clips      `yaml:"clips"`
	Scoring    Scoring    `yaml:"scoring"`
	Feed       Feed       `yaml:"feed"`
	Processing Processing `yaml:"processing"`
	Tools      Tools      `yaml:"tools"`
	ASR        ASR        `yaml:"asr"`
	Plex       Plex       `yaml:"plex"`
	Database   Database   `yaml:"database"`
	Queue      Queue      `yaml:"queue"`
	Logging    Logging    `yaml:"logging"`
}

type Clips struct {
	MinDurationMs      int64   `yaml:"min_duration_ms"`
	MaxDurationMs      int64   `yaml:"max_duration_ms"`
	PerMovie           int     `yaml:"per_movie"`
	PerEpisode         int     `yaml:"per_episode"`
	PaddingMs          int64   `yaml:"padding_ms"`
	SceneThreshold     float64 `yaml:"scene_threshold"`
	OverlapThresholdMs int64   `yaml:"overlap_threshold_ms"`
	StoragePath        string  `yaml:"storage_path"`
	QuotesPath         string  `yaml:"quotes_path"`
}

type Scoring struct {
	Weights Weights `yaml:"weights"`
}

type Weights struct {
	QuoteMatch       float64 `yaml:"quote_match"`
	AudioEnergy      float64 `yaml:"audio_energy"`
	SceneComposition float64 `yaml:"scene_composition"`
	DialogueDensity  float64 `yaml:"dialogue_density"`
	TemporalPosition float64 `yaml:"temporal_position"`
}

type Feed struct {
	ExplorationRate         float64       `yaml:"exploration_rate"`
	MinExploration          int           `yaml:"min_exploration"`
	MaxConsecutiveSameTitle int           `yaml:"max_consecutive_same_title"`
	MaxGenreRatio           float64       `yaml:"max_genre_ratio"`
	ColdStartThreshold      int           `yaml:"cold_start_threshold"`
	CandidatePoolSize       int           `yaml:"candidate_pool_size"`
	RecentLikeWindow        time.Duration `yaml:"recent_like_window"`
	RecencyWindow           time.Duration `yaml:"recency_window"`
}

type Processing struct {
	StaleWindow       time.Duration `yaml:"stale_window"`
	DefaultDurationMs int64         `yaml:"default_duration_ms"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

type Tools struct {
	FFmpeg   string   `yaml:"ffmpeg"`
	FFprobe  string   `yaml:"ffprobe"`
	Timeouts Timeouts `yaml:"timeouts"`
}

type Timeouts struct {
	Probe     time.Duration `yaml:"probe"`
	Subtitles time.Duration `yaml:"subtitles"`
	Scenes    time.Duration `yaml:"scenes"`
	Audio     time.Duration `yaml:"audio"`
	Clip      time.Duration `yaml:"clip"`
	Thumbnail time.Duration `yaml:"thumbnail"`
}

type ASR struct {
	Enabled      bool   `yaml:"enabled"`
	WhisperBin   string `yaml:"whisper_bin"`
	WhisperModel string `yaml:"whisper_model"`
}

type Plex struct {
	BaseURL    string `yaml:"base_url"`
	TokenEnv   string `yaml:"token_env"`
	ServerID   string `yaml:"server_id"`
	ServerName string `yaml:"server_name"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Queue struct {
	Backend      string        `yaml:"backend"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisPrefix  string        `yaml:"redis_prefix"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
}

type Logging struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for hlfeed.
func ConfigDir() string {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "hlfeed")
	}
	return filepath.Join(homeDir(), ".config", "hlfeed")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/hlfeed/config.yaml > ./config.yaml.
// An empty result with nil error means only the embedded defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}
	return "", nil
}

// Load reads the file at path on top of the embedded defaults, then applies
// HLFEED_* environment overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		data = b
	}
	cfg, err := parse(data)
	if err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the embedded defaults.
func Default() Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse decodes the embedded defaults, then overlays data.
func parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(DefaultConfigYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing default config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("DB_PATH", &cfg.Database.Path)
	str("CLIP_STORAGE_PATH", &cfg.Clips.StoragePath)
	str("QUOTES_PATH", &cfg.Clips.QuotesPath)
	str("FFMPEG", &cfg.Tools.FFmpeg)
	str("FFPROBE", &cfg.Tools.FFprobe)
	str("PLEX_URL", &cfg.Plex.BaseURL)
	str("QUEUE_BACKEND", &cfg.Queue.Backend)
	str("REDIS_ADDR", &cfg.Queue.RedisAddr)
	str("LOG_MODE", &cfg.Logging.Mode)
	str("LOG_LEVEL", &cfg.Logging.Level)
	integer("WORKER_CONCURRENCY", &cfg.Queue.Concurrency)
	integer("CLIPS_PER_MOVIE", &cfg.Clips.PerMovie)
	integer("CLIPS_PER_EPISODE", &cfg.Clips.PerEpisode)
	integer("MAX_RETRIES", &cfg.Processing.MaxRetries)
	dur("STALE_WINDOW", &cfg.Processing.StaleWindow)
	dur("RETRY_BACKOFF", &cfg.Processing.RetryBackoff)
	return errors.Join(errs...)
}

// PlexToken reads the catalog token from the configured env var.
func (c Config) PlexToken() string {
	if c.Plex.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Plex.TokenEnv))
}

func (c Config) Validate() error {
	cl := c.Clips
	if cl.MinDurationMs <= 0 {
		return errors.New("clips.min_duration_ms must be > 0")
	}
	if cl.MaxDurationMs < cl.MinDurationMs {
		return errors.New("clips.max_duration_ms must be >= clips.min_duration_ms")
	}
	if cl.PerMovie <= 0 || cl.PerEpisode <= 0 {
		return errors.New("clips.per_movie and clips.per_episode must be > 0")
	}
	if cl.PaddingMs < 0 || cl.OverlapThresholdMs < 0 {
		return errors.New("clips.padding_ms and clips.overlap_threshold_ms must be >= 0")
	}
	if cl.SceneThreshold <= 0 || cl.SceneThreshold >= 1 {
		return errors.New("clips.scene_threshold must be in (0,1)")
	}
	if cl.StoragePath == "" {
		return errors.New("clips.storage_path is empty")
	}
	w := c.Scoring.Weights
	for _, v := range []float64{w.QuoteMatch, w.AudioEnergy, w.SceneComposition, w.DialogueDensity, w.TemporalPosition} {
		if v < 0 || math.IsNaN(v) {
			return errors.New("scoring.weights must be >= 0")
		}
	}
	f := c.Feed
	if f.ExplorationRate < 0 || f.ExplorationRate > 1 {
		return errors.New("feed.exploration_rate must be in [0,1]")
	}
	if f.MaxConsecutiveSameTitle <= 0 {
		return errors.New("feed.max_consecutive_same_title must be > 0")
	}
	if f.MaxGenreRatio <= 0 || f.MaxGenreRatio > 1 {
		return errors.New("feed.max_genre_ratio must be in (0,1]")
	}
	if f.CandidatePoolSize <= 0 {
		return errors.New("feed.candidate_pool_size must be > 0")
	}
	p := c.Processing
	if p.StaleWindow <= 0 {
		return errors.New("processing.stale_window must be > 0")
	}
	if p.MaxRetries < 0 {
		return errors.New("processing.max_retries must be >= 0")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is empty")
	}
	switch c.Queue.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("queue.backend %q: want sqlite or redis", c.Queue.Backend)
	}
	if c.Queue.Lease <= 0 {
		return errors.New("queue.lease must be > 0")
	}
	if c.Queue.Concurrency <= 0 {
		return errors.New("queue.concurrency must be > 0")
	}
	if c.ASR.Enabled && c.ASR.WhisperModel == "" {
		return errors.New("asr.whisper_model is required when asr is enabled")
	}
	return nil
}

// Quota returns the per-item clip target for the media type.
func (c Clips) Quota(episode bool) int {
	if episode {
		return c.PerEpisode
	}
	return c.PerMovie
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
