package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forPelevin/hlfeed/internal/pipeline"
	"github.com/forPelevin/hlfeed/internal/types"
)

func feedCmd(s *state) *cobra.Command {
	var (
		limit   int
		exclude []string
		seed    uint64
	)
	cmd := &cobra.Command{
		Use:   "feed <userID>",
		Short: "Print a personalized feed as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			return s.withApp(cmd, pipeline.Options{FeedSeed: seed}, func(app *pipeline.App) error {
				clips, err := app.Feed.GetPersonalizedFeed(cmd.Context(), args[0], limit, exclude)
				if err != nil {
					return err
				}
				if clips == nil {
					clips = []types.Clip{}
				}
				return printJSON(cmd.OutOrStdout(), clips)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum clips to return")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Clip ids to leave out (comma separated)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Fix the random generator for repeatable output")
	return cmd
}

func interactCmd(s *state) *cobra.Command {
	var (
		watchMs int64
		session string
	)
	cmd := &cobra.Command{
		Use:   "interact <userID> <clipID> <action>",
		Short: "Record like, dislike, save, skip or watch_complete",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := types.Interaction{
				UserID:    args[0],
				ClipID:    args[1],
				Action:    types.Action(strings.ToLower(args[2])),
				SessionID: session,
			}
			if cmd.Flags().Changed("watch-ms") {
				in.WatchMs = &watchMs
			}
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				if err := app.Feed.RecordInteraction(cmd.Context(), in); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded %s on %s for %s\n", in.Action, in.ClipID, in.UserID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&watchMs, "watch-ms", 0, "Watch time in milliseconds")
	cmd.Flags().StringVar(&session, "session", "", "Client session id")
	return cmd
}

func tasteCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "taste <userID> <mediaKey>...",
		Short: "Replace a user's onboarding picks and seed their genre weights",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				sel, err := app.Feed.SaveTasteSelections(cmd.Context(), args[0], args[1:])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "saved %d of %d selections\n", len(sel), len(args)-1)
				for _, t := range sel {
					fmt.Fprintf(out, "  %s  %s  %s\n", t.MediaKey, t.Title, strings.Join(t.Genres, ", "))
				}
				return nil
			})
		},
	}
}

type profileView struct {
	UserID       string             `json:"user_id"`
	Exists       bool               `json:"exists"`
	GenreWeights map[string]float64 `json:"genre_weights"`
	Interactions int                `json:"interaction_count"`
	Counts       map[string]int     `json:"action_counts"`
	TasteKeys    []string           `json:"taste_media_keys"`
	Saved        []types.Clip       `json:"saved_clips"`
}

func profileCmd(s *state) *cobra.Command {
	var saved int
	cmd := &cobra.Command{
		Use:   "profile <userID>",
		Short: "Print a user's weights, interaction counts and saved clips as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				p, err := app.Feed.Profile(cmd.Context(), args[0], saved)
				if err != nil {
					return err
				}
				v := profileView{
					UserID:       p.UserID,
					Exists:       p.Exists,
					GenreWeights: p.GenreWeights,
					Interactions: p.Interactions,
					Counts:       make(map[string]int, len(p.Counts)),
					TasteKeys:    p.TasteKeys,
					Saved:        p.Saved,
				}
				for a, n := range p.Counts {
					v.Counts[string(a)] = n
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().IntVar(&saved, "saved", 10, "Saved clips to include")
	return cmd
}
