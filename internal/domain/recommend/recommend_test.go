package recommend

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/database"
	"github.com/forPelevin/hlfeed/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	db     *database.DB
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default().Feed
	e := New(cfg, db, nil, WithSeed(42), WithClock(func() time.Time { return testNow }))
	return &harness{db: db, engine: e}
}

func (h *harness) addClip(t *testing.T, c types.Clip) types.Clip {
	t.Helper()
	if c.MediaKey == "" {
		c.MediaKey = "m-" + c.ID
	}
	if c.Title == "" {
		c.Title = "Title " + c.ID
	}
	c.StartMs, c.EndMs, c.DurationMs = 0, 10000, 10000
	c.FilePath = "/clips/" + c.ID + ".mp4"
	c.Active = true
	if c.CreatedAt.IsZero() {
		c.CreatedAt = testNow.Add(-30 * 24 * time.Hour)
	}
	require.NoError(t, h.db.InsertClip(context.Background(), &c))
	return c
}

func (h *harness) addClips(t *testing.T, n int) []types.Clip {
	t.Helper()
	out := make([]types.Clip, n)
	for i := range out {
		out[i] = h.addClip(t, types.Clip{ID: fmt.Sprintf("c%02d", i)})
	}
	return out
}

func (h *harness) addUser(t *testing.T, id string, interactions int, weights map[string]float64) {
	t.Helper()
	require.NoError(t, h.db.UpsertUserEmbedding(context.Background(), &types.UserEmbedding{
		UserID:           id,
		GenreWeights:     weights,
		InteractionCount: interactions,
	}))
}

func (h *harness) interact(t *testing.T, user, clip string, a types.Action, at time.Time) {
	t.Helper()
	require.NoError(t, h.db.InsertInteraction(context.Background(), &types.Interaction{
		UserID: user, ClipID: clip, Action: a, CreatedAt: at,
	}))
}

func TestFeed_UnknownUserIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.addClips(t, 5)

	feed, err := h.engine.GetPersonalizedFeed(context.Background(), "nobody", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestFeed_EmptyLibrary(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0, nil)

	feed, err := h.engine.GetPersonalizedFeed(context.Background(), "u1", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestFeed_RespectsLimit(t *testing.T) {
	h := newHarness(t)
	h.addClips(t, 30)
	h.addUser(t, "u1", 0, nil)

	for _, limit := range []int{1, 5, 20} {
		feed, err := h.engine.GetPersonalizedFeed(context.Background(), "u1", limit, nil)
		require.NoError(t, err)
		assert.Len(t, feed, limit)
	}

	feed, err := h.engine.GetPersonalizedFeed(context.Background(), "u1", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestFeed_Exclusions(t *testing.T) {
	h := newHarness(t)
	h.addClips(t, 10)
	h.addUser(t, "u1", 0, nil)

	h.interact(t, "u1", "c00", types.ActionDislike, testNow.Add(-300*24*time.Hour))
	h.interact(t, "u1", "c01", types.ActionLike, testNow.Add(-time.Hour))
	h.interact(t, "u1", "c02", types.ActionLike, testNow.Add(-8*24*time.Hour))
	h.interact(t, "u2", "c03", types.ActionDislike, testNow)

	feed, err := h.engine.GetPersonalizedFeed(context.Background(), "u1", 20, []string{"c04"})
	require.NoError(t, err)

	got := ids(feed)
	assert.NotContains(t, got, "c00", "disliked clips never come back")
	assert.NotContains(t, got, "c01", "recent likes are excluded")
	assert.NotContains(t, got, "c04", "caller exclusions are honored")
	assert.Contains(t, got, "c02", "old likes are eligible again")
	assert.Contains(t, got, "c03", "other users' dislikes do not apply")
	assert.Len(t, got, 7)
}

func TestFeed_OnlyActiveClips(t *testing.T) {
	h := newHarness(t)
	h.addClips(t, 4)
	h.addUser(t, "u1", 0, nil)
	_, err := h.db.DeactivateClip(context.Background(), "c01")
	require.NoError(t, err)

	feed, err := h.engine.GetPersonalizedFeed(context.Background(), "u1", 10, nil)
	require.NoError(t, err)
	assert.NotContains(t, ids(feed), "c01")
	assert.Len(t, feed, 3)
}

func TestFeed_AppliesCompositionRules(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		h.addClip(t, types.Clip{ID: fmt.Sprintf("h%02d", i), Title: "Heat", MediaKey: "heat", Genres: []string{"Crime"}})
	}
	for i := 0; i < 12; i++ {
		h.addClip(t, types.Clip{ID: fmt.Sprintf("x%02d", i), Genres: []string{fmt.Sprintf("G%d", i)}})
	}
	h.addUser(t, "u1", 100, map[string]float64{"Crime": 0.5})

	feed, err := h.engine.GetPersonalizedFeed(context.Background(), "u1", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, feed)
	assert.LessOrEqual(t, len(feed), 10)

	run := 1
	for i := 1; i < len(feed); i++ {
		if feed[i].Title == feed[i-1].Title {
			run++
		} else {
			run = 1
		}
		assert.LessOrEqual(t, run, 2)
	}
}

func TestScoreCold_TasteBonusDominatesNoise(t *testing.T) {
	h := newHarness(t)
	pool := []types.Clip{
		{ID: "other1", MediaKey: "m1"},
		{ID: "picked", MediaKey: "m2", Composite: 0.5},
		{ID: "other2", MediaKey: "m3"},
	}
	for seed := uint64(0); seed < 50; seed++ {
		ranked := h.engine.scoreCold(pool, nil, []string{"m2"}, rand.New(rand.NewPCG(seed, seed)))
		require.Equal(t, "picked", ranked[0].clip.ID)
	}
}

func TestScoreWarm_RecencyBonus(t *testing.T) {
	h := newHarness(t)
	pool := []types.Clip{
		{ID: "old", CreatedAt: testNow.Add(-72 * time.Hour)},
		{ID: "fresh", CreatedAt: testNow.Add(-time.Hour), Composite: 0.2},
	}
	for seed := uint64(0); seed < 50; seed++ {
		ranked := h.engine.scoreWarm(pool, nil, rand.New(rand.NewPCG(seed, seed)))
		require.Equal(t, "fresh", ranked[0].clip.ID)
	}
}

func TestGenreBoost(t *testing.T) {
	w := map[string]float64{"Action": 0.4, "Drama": 0.3, "Horror": -0.2, "Crime": -0.2}
	assert.InDelta(t, 0.4, genreBoost([]string{"Action"}, w), 1e-9)
	assert.InDelta(t, 0.5, genreBoost([]string{"Action", "Drama"}, w), 1e-9)
	assert.InDelta(t, -0.3, genreBoost([]string{"Horror", "Crime"}, w), 1e-9)
	assert.Zero(t, genreBoost([]string{"Western"}, w))
	assert.Zero(t, genreBoost(nil, nil))
}

func TestExplorationCount(t *testing.T) {
	e := New(config.Feed{ExplorationRate: 0.2, MinExploration: 2}, nil, nil)
	assert.Equal(t, 2, e.explorationCount(5))
	assert.Equal(t, 4, e.explorationCount(20))
	assert.Equal(t, 1, e.explorationCount(1))
	assert.Equal(t, 0, e.explorationCount(0))
}

func TestBlend_MixesTopAndExploration(t *testing.T) {
	e := New(config.Feed{ExplorationRate: 0.2, MinExploration: 2}, nil, nil)
	ranked := make([]scored, 50)
	for i := range ranked {
		ranked[i] = scored{clip: types.Clip{ID: fmt.Sprintf("r%02d", i)}, score: float64(50 - i)}
	}

	slate := e.blend(ranked, 10, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, slate, 10)

	top, explore := 0, 0
	seen := map[string]bool{}
	for _, c := range slate {
		require.False(t, seen[c.ID], "duplicate %s", c.ID)
		seen[c.ID] = true
		if c.ID < "r08" {
			top++
		} else {
			explore++
		}
	}
	assert.Equal(t, 8, top)
	assert.Equal(t, 2, explore)

	// Fewer candidates than the limit: everything is returned once.
	slate = e.blend(ranked[:3], 10, rand.New(rand.NewPCG(1, 2)))
	assert.Len(t, slate, 3)
}

func TestSeededEngineIsRepeatable(t *testing.T) {
	ranked := make([]scored, 30)
	for i := range ranked {
		ranked[i] = scored{clip: types.Clip{ID: fmt.Sprintf("r%02d", i)}}
	}
	a := New(config.Feed{ExplorationRate: 0.2, MinExploration: 2}, nil, nil, WithSeed(9))
	b := New(config.Feed{ExplorationRate: 0.2, MinExploration: 2}, nil, nil, WithSeed(9))
	for i := 0; i < 3; i++ {
		assert.Equal(t, ids(a.blend(ranked, 10, a.random())), ids(b.blend(ranked, 10, b.random())))
	}
}

func TestRecordInteraction_UpdatesGenreWeights(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addClip(t, types.Clip{ID: "c1", Genres: []string{"Action", "Crime"}})
	h.addUser(t, "u1", 3, map[string]float64{"Action": 0.2})

	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "c1", Action: types.ActionLike}))
	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "c1", Action: types.ActionSave}))
	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "c1", Action: types.ActionDislike}))
	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "c1", Action: types.ActionSkip}))
	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "c1", Action: types.ActionWatchComplete}))

	emb, err := h.db.GetUserEmbedding(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, emb)
	assert.Equal(t, 8, emb.InteractionCount)
	assert.InDelta(t, 0.2+0.1+0.15-0.05+0.05, emb.GenreWeights["Action"], 1e-9)
	assert.InDelta(t, 0.1+0.15-0.05+0.05, emb.GenreWeights["Crime"], 1e-9)

	counts, err := h.db.InteractionCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.ActionLike])
	assert.Equal(t, 1, counts[types.ActionSkip])
}

func TestRecordInteraction_InvalidAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addClip(t, types.Clip{ID: "c1"})
	h.addUser(t, "u1", 0, nil)

	err := h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "c1", Action: "love"})
	require.ErrorIs(t, err, ErrInvalidAction)

	counts, err := h.db.InteractionCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestRecordInteraction_MissingClipOrUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addClip(t, types.Clip{ID: "c1", Genres: []string{"Drama"}})
	h.addUser(t, "u1", 5, map[string]float64{"Drama": 0.1})

	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "u1", ClipID: "gone", Action: types.ActionLike}))
	emb, err := h.db.GetUserEmbedding(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, emb.InteractionCount)
	assert.InDelta(t, 0.1, emb.GenreWeights["Drama"], 1e-9)

	require.NoError(t, h.engine.RecordInteraction(ctx, types.Interaction{UserID: "ghost", ClipID: "c1", Action: types.ActionLike}))
	emb, err = h.db.GetUserEmbedding(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, emb)

	for _, u := range []string{"u1", "ghost"} {
		counts, err := h.db.InteractionCounts(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[types.ActionLike], u)
	}
}

func TestSaveTasteSelections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, m := range []*types.MediaItem{
		{RatingKey: "10", Title: "Heat", Type: types.MediaMovie, Genres: []string{"Action", "Crime"}},
		{RatingKey: "11", Title: "Alien", Type: types.MediaMovie, Genres: []string{"Horror", "Action"}},
		{RatingKey: "12", Title: "Pilot", Type: types.MediaEpisode, ShowTitle: "The Wire", Genres: []string{"Crime", "Drama"}},
	} {
		_, err := h.db.UpsertMediaItem(ctx, m)
		require.NoError(t, err)
	}
	h.addUser(t, "u1", 7, map[string]float64{"Western": 0.9})

	sel, err := h.engine.SaveTasteSelections(ctx, "u1", []string{"10", "11", "12", "999", "10"})
	require.NoError(t, err)
	require.Len(t, sel, 3)
	assert.Equal(t, "The Wire", sel[2].Title)

	emb, err := h.db.GetUserEmbedding(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, emb.InteractionCount)
	assert.NotContains(t, emb.GenreWeights, "Western")
	assert.InDelta(t, 2.0/6, emb.GenreWeights["Action"], 1e-9)
	assert.InDelta(t, 2.0/6, emb.GenreWeights["Crime"], 1e-9)
	assert.InDelta(t, 1.0/6, emb.GenreWeights["Horror"], 1e-9)
	assert.InDelta(t, 1.0/6, emb.GenreWeights["Drama"], 1e-9)

	keys, err := h.db.TasteMediaKeys(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11", "12"}, keys)

	// A second call replaces the picks.
	_, err = h.engine.SaveTasteSelections(ctx, "u1", []string{"11"})
	require.NoError(t, err)
	keys, err = h.db.TasteMediaKeys(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"11"}, keys)
}

func TestSaveTasteSelections_CreatesUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	sel, err := h.engine.SaveTasteSelections(ctx, "new", []string{"404"})
	require.NoError(t, err)
	assert.Empty(t, sel)

	emb, err := h.db.GetUserEmbedding(ctx, "new")
	require.NoError(t, err)
	require.NotNil(t, emb)
	assert.Empty(t, emb.GenreWeights)
	assert.Zero(t, emb.InteractionCount)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addClip(t, types.Clip{ID: "c1"})
	h.addUser(t, "u1", 2, map[string]float64{"Drama": 0.1})
	h.interact(t, "u1", "c1", types.ActionSave, testNow)

	p, err := h.engine.Profile(ctx, "u1", 10)
	require.NoError(t, err)
	assert.True(t, p.Exists)
	assert.Equal(t, 2, p.Interactions)
	assert.Equal(t, 1, p.Counts[types.ActionSave])
	require.Len(t, p.Saved, 1)
	assert.Equal(t, "c1", p.Saved[0].ID)

	p, err = h.engine.Profile(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.False(t, p.Exists)
}
