// Package recommend builds per-user clip feeds and folds user feedback back
// into genre preferences.
package recommend

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/logger"
	"github.com/forPelevin/hlfeed/internal/ports"
	"github.com/forPelevin/hlfeed/internal/types"
)

const instrumentationName = "github.com/forPelevin/hlfeed/internal/domain/recommend"

const (
	coldQualityWeight = 0.4
	coldTasteBonus    = 0.3
	coldNoise         = 0.35

	warmQualityWeight = 0.35
	warmRecencyBonus  = 0.15
	warmNoise         = 0.2

	minGenreBoost = -0.3
	maxGenreBoost = 0.5
)

type Option func(*Engine)

// WithSeed derives each request's generator from seed and a call counter,
// so a fresh engine replays the same sequence of feeds.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.seeded = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	cfg    config.Feed
	store  ports.FeedStore
	log    *logger.Logger
	now    func() time.Time
	tracer trace.Tracer

	seeded bool
	seed   uint64
	calls  atomic.Uint64
}

func New(cfg config.Feed, store ports.FeedStore, log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		log:    log.With("component", "Recommend"),
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) random() *rand.Rand {
	if e.seeded {
		return rand.New(rand.NewPCG(e.seed, e.calls.Add(1)))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

type scored struct {
	clip  types.Clip
	score float64
}

// GetPersonalizedFeed returns at most limit clips for userID. Unknown users
// get an empty feed. Clips in excludeIDs, clips the user disliked and clips
// liked within the recent-like window never appear.
func (e *Engine) GetPersonalizedFeed(ctx context.Context, userID string, limit int, excludeIDs []string) (feed []types.Clip, err error) {
	ctx, span := e.tracer.Start(ctx, "recommend.feed", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("returned", len(feed)))
		span.End()
	}()

	if limit <= 0 {
		return nil, nil
	}
	emb, err := e.store.GetUserEmbedding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load embedding for %s: %w", userID, err)
	}
	if emb == nil {
		e.log.Debug("No embedding, returning empty feed", "user_id", userID)
		return nil, nil
	}

	exclude, err := e.excluded(ctx, userID, excludeIDs)
	if err != nil {
		return nil, err
	}
	pool, err := e.store.RandomActiveClips(ctx, exclude, e.cfg.CandidatePoolSize)
	if err != nil {
		return nil, fmt.Errorf("sample candidate pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	rng := e.random()
	cold := emb.InteractionCount < e.cfg.ColdStartThreshold
	span.SetAttributes(attribute.Bool("cold_start", cold), attribute.Int("pool", len(pool)))

	var ranked []scored
	if cold {
		keys, err := e.store.TasteMediaKeys(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load taste selections for %s: %w", userID, err)
		}
		ranked = e.scoreCold(pool, emb.GenreWeights, keys, rng)
	} else {
		ranked = e.scoreWarm(pool, emb.GenreWeights, rng)
	}

	slate := e.blend(ranked, limit, rng)
	feed = ApplyCompositionRules(slate, e.cfg.MaxConsecutiveSameTitle, e.cfg.MaxGenreRatio)
	if len(feed) > limit {
		feed = feed[:limit]
	}
	e.log.Debug("Feed built", "user_id", userID, "cold", cold, "pool", len(pool), "returned", len(feed))
	return feed, nil
}

// ApplyCompositionRules applies the engine's configured diversity limits.
func (e *Engine) ApplyCompositionRules(clips []types.Clip) []types.Clip {
	return ApplyCompositionRules(clips, e.cfg.MaxConsecutiveSameTitle, e.cfg.MaxGenreRatio)
}

func (e *Engine) excluded(ctx context.Context, userID string, extra []string) ([]string, error) {
	disliked, err := e.store.ClipIDsByAction(ctx, userID, types.ActionDislike, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load dislikes for %s: %w", userID, err)
	}
	liked, err := e.store.ClipIDsByAction(ctx, userID, types.ActionLike, e.now().Add(-e.cfg.RecentLikeWindow))
	if err != nil {
		return nil, fmt.Errorf("load recent likes for %s: %w", userID, err)
	}
	seen := map[string]bool{}
	var out []string
	for _, group := range [][]string{disliked, liked, extra} {
		for _, id := range group {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (e *Engine) scoreCold(pool []types.Clip, weights map[string]float64, tasteKeys []string, rng *rand.Rand) []scored {
	taste := make(map[string]bool, len(tasteKeys))
	for _, k := range tasteKeys {
		taste[k] = true
	}
	out := make([]scored, len(pool))
	for i, c := range pool {
		s := coldQualityWeight*math.Min(c.Composite, 1) + genreBoost(c.Genres, weights)
		if taste[c.MediaKey] {
			s += coldTasteBonus
		}
		s += rng.Float64() * coldNoise
		out[i] = scored{clip: c, score: s}
	}
	sortScored(out)
	return out
}

func (e *Engine) scoreWarm(pool []types.Clip, weights map[string]float64, rng *rand.Rand) []scored {
	cutoff := e.now().Add(-e.cfg.RecencyWindow)
	out := make([]scored, len(pool))
	for i, c := range pool {
		s := warmQualityWeight*math.Min(c.Composite, 1) + genreBoost(c.Genres, weights)
		if c.CreatedAt.After(cutoff) {
			s += warmRecencyBonus
		}
		s += rng.Float64() * warmNoise
		out[i] = scored{clip: c, score: s}
	}
	sortScored(out)
	return out
}

func sortScored(s []scored) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].score > s[j].score })
}

// genreBoost sums the user's weights over the clip's genres, clamped.
func genreBoost(genres []string, weights map[string]float64) float64 {
	var sum float64
	for _, g := range genres {
		sum += weights[g]
	}
	return math.Max(minGenreBoost, math.Min(maxGenreBoost, sum))
}

// explorationCount is the number of feed slots reserved for clips sampled
// outside the top of the ranking.
func (e *Engine) explorationCount(limit int) int {
	n := int(math.Round(float64(limit) * e.cfg.ExplorationRate))
	if n < e.cfg.MinExploration {
		n = e.cfg.MinExploration
	}
	if n > limit {
		n = limit
	}
	return n
}

// blend takes the best limit-n clips, fills n slots uniformly from the rest
// of the ranking, and shuffles the result.
func (e *Engine) blend(ranked []scored, limit int, rng *rand.Rand) []types.Clip {
	n := e.explorationCount(limit)
	mainCount := limit - n
	if mainCount > len(ranked) {
		mainCount = len(ranked)
	}

	slate := make([]types.Clip, 0, limit)
	for _, s := range ranked[:mainCount] {
		slate = append(slate, s.clip)
	}

	rest := make([]types.Clip, 0, len(ranked)-mainCount)
	for _, s := range ranked[mainCount:] {
		rest = append(rest, s.clip)
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	if n > len(rest) {
		n = len(rest)
	}
	slate = append(slate, rest[:n]...)

	rng.Shuffle(len(slate), func(i, j int) { slate[i], slate[j] = slate[j], slate[i] })
	return slate
}
