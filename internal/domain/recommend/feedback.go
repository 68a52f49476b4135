package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forPelevin/hlfeed/internal/types"
)

var ErrInvalidAction = errors.New("invalid action")

// genreDelta is how far one action moves the weight of each genre on the clip.
var genreDelta = map[types.Action]float64{
	types.ActionLike:          0.1,
	types.ActionDislike:       -0.05,
	types.ActionSave:          0.15,
	types.ActionSkip:          0,
	types.ActionWatchComplete: 0.05,
}

// RecordInteraction stores the interaction, then nudges the user's genre
// weights by the clip's genres. A missing clip or embedding leaves the
// weights untouched.
func (e *Engine) RecordInteraction(ctx context.Context, in types.Interaction) error {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ClipID) == "" {
		return errors.New("user id and clip id are required")
	}
	if !in.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, in.Action)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = e.now().UTC()
	}
	if err := e.store.InsertInteraction(ctx, &in); err != nil {
		return fmt.Errorf("record %s for %s: %w", in.Action, in.UserID, err)
	}

	emb, err := e.store.GetUserEmbedding(ctx, in.UserID)
	if err != nil {
		return fmt.Errorf("load embedding for %s: %w", in.UserID, err)
	}
	if emb == nil {
		return nil
	}
	clip, err := e.store.GetClip(ctx, in.ClipID)
	if err != nil {
		return fmt.Errorf("load clip %s: %w", in.ClipID, err)
	}
	if clip == nil {
		e.log.Warn("Interaction on unknown clip, weights unchanged", "user_id", in.UserID, "clip_id", in.ClipID)
		return nil
	}

	if emb.GenreWeights == nil {
		emb.GenreWeights = map[string]float64{}
	}
	if d := genreDelta[in.Action]; d != 0 {
		for _, g := range uniq(clip.Genres) {
			emb.GenreWeights[g] += d
		}
	}
	emb.InteractionCount++
	if err := e.store.UpsertUserEmbedding(ctx, emb); err != nil {
		return fmt.Errorf("save embedding for %s: %w", in.UserID, err)
	}
	return nil
}

// EnsureUser creates an empty embedding for userID when none exists.
func (e *Engine) EnsureUser(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, errors.New("user id is required")
	}
	return e.store.EnsureUserEmbedding(ctx, userID)
}

// SaveTasteSelections replaces the user's onboarding picks and resets the
// genre weights to the genre distribution of those picks. Unknown media keys
// are skipped. The interaction count is kept.
func (e *Engine) SaveTasteSelections(ctx context.Context, userID string, mediaKeys []string) ([]types.TasteSelection, error) {
	if _, err := e.EnsureUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", userID, err)
	}

	seen := map[string]bool{}
	var sel []types.TasteSelection
	for _, key := range mediaKeys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		m, err := e.store.GetMediaItemByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load media item %s: %w", key, err)
		}
		if m == nil {
			e.log.Warn("Taste selection for unknown media, skipping", "user_id", userID, "media_key", key)
			continue
		}
		title := m.Title
		if m.Type == types.MediaEpisode && m.ShowTitle != "" {
			title = m.ShowTitle
		}
		sel = append(sel, types.TasteSelection{
			UserID:   userID,
			MediaKey: key,
			Title:    title,
			Genres:   m.Genres,
		})
	}
	if err := e.store.ReplaceTasteSelections(ctx, userID, sel); err != nil {
		return nil, fmt.Errorf("save taste selections for %s: %w", userID, err)
	}

	emb, err := e.store.GetUserEmbedding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load embedding for %s: %w", userID, err)
	}
	if emb == nil {
		emb = &types.UserEmbedding{UserID: userID}
	}
	emb.GenreWeights = tasteWeights(sel)
	if err := e.store.UpsertUserEmbedding(ctx, emb); err != nil {
		return nil, fmt.Errorf("save embedding for %s: %w", userID, err)
	}
	return sel, nil
}

// tasteWeights maps each genre to its share of all genre tags in sel.
func tasteWeights(sel []types.TasteSelection) map[string]float64 {
	counts := map[string]int{}
	total := 0
	for _, s := range sel {
		for _, g := range uniq(s.Genres) {
			counts[g]++
			total++
		}
	}
	out := make(map[string]float64, len(counts))
	for g, n := range counts {
		out[g] = float64(n) / float64(total)
	}
	return out
}

// Profile is a read-only summary of one user's state.
type Profile struct {
	UserID       string
	Exists       bool
	GenreWeights map[string]float64
	Interactions int
	Counts       map[types.Action]int
	TasteKeys    []string
	Saved        []types.Clip
}

func (e *Engine) Profile(ctx context.Context, userID string, savedLimit int) (Profile, error) {
	p := Profile{UserID: userID}
	emb, err := e.store.GetUserEmbedding(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("load embedding for %s: %w", userID, err)
	}
	if emb != nil {
		p.Exists = true
		p.GenreWeights = emb.GenreWeights
		p.Interactions = emb.InteractionCount
	}
	if p.Counts, err = e.store.InteractionCounts(ctx, userID); err != nil {
		return p, fmt.Errorf("count interactions for %s: %w", userID, err)
	}
	if p.TasteKeys, err = e.store.TasteMediaKeys(ctx, userID); err != nil {
		return p, fmt.Errorf("load taste selections for %s: %w", userID, err)
	}
	if p.Saved, err = e.store.SavedClips(ctx, userID, savedLimit); err != nil {
		return p, fmt.Errorf("load saved clips for %s: %w", userID, err)
	}
	return p, nil
}
