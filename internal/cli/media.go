package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/hlfeed/internal/pipeline"
	"github.com/forPelevin/hlfeed/internal/queue"
	"github.com/forPelevin/hlfeed/internal/usecase"
)

func initCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and clip storage directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(s.cfg.Clips.StoragePath, 0o755); err != nil {
				return fmt.Errorf("create clip storage: %w", err)
			}
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				v, err := app.DB.SchemaVersion()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "database: %s (schema v%d)\n", app.DB.Path(), v)
				fmt.Fprintf(out, "clips:    %s\n", s.cfg.Clips.StoragePath)
				return nil
			})
		},
	}
}

func statusCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show libraries, processing and queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				st, err := app.Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "schema\tv%d\n", st.SchemaVersion)
				fmt.Fprintf(tw, "clips\t%d active / %d total\n", st.ClipsActive, st.ClipsTotal)
				for _, k := range sortedKeys(st.Media) {
					fmt.Fprintf(tw, "media %s\t%d\n", k, st.Media[k])
				}
				if st.Jobs == nil {
					fmt.Fprintf(tw, "queue\t%s\n", st.Queue)
				}
				for _, k := range sortedKeys(st.Jobs) {
					fmt.Fprintf(tw, "jobs %s\t%d\n", k, st.Jobs[k])
				}
				fmt.Fprintln(tw)
				fmt.Fprintln(tw, "ID\tLIBRARY\tTYPE\tENABLED\tPROCESSED\tLAST SCAN")
				for _, l := range st.Libraries {
					scanned := "never"
					if l.LastScanned != nil {
						scanned = l.LastScanned.Local().Format(time.DateTime)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d/%d\t%s\n", l.ID, l.Title, l.Type, l.Enabled, l.ProcessedItems, l.TotalItems, scanned)
				}
				return tw.Flush()
			})
		},
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func discoverCmd(s *state) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Sync the library list from Plex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				if enqueue {
					return enqueueJob(cmd, app, queue.JobDiscoverLibraries, nil)
				}
				res, err := app.Media.DiscoverLibraries(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "libraries found: %d, new: %d\n", res.Found, res.Created)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "queue", false, "Queue a discovery job (also queues library scans) instead of running inline")
	return cmd
}

func scanCmd(s *state) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "scan [libraryID]",
		Short: "Sync media items of one or all enabled libraries and queue processing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				var err error
				if id, err = parseID("library", args[0]); err != nil {
					return err
				}
			}
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				if enqueue {
					return enqueueJob(cmd, app, queue.JobScanLibrary, args)
				}
				var (
					res usecase.ScanResult
					err error
				)
				if id == 0 {
					res, err = app.Media.ScanAll(cmd.Context())
				} else {
					res, err = app.Media.ScanLibrary(cmd.Context(), id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "items: %d, new: %d, queued: %d, stale reset: %d\n", res.Items, res.New, res.Queued, res.Reset)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "queue", false, "Queue a scan job instead of running inline")
	return cmd
}

func processCmd(s *state) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "process <mediaItemID>",
		Short: "Generate clips for one media item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("media item", args[0])
			if err != nil {
				return err
			}
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				if enqueue {
					return enqueueJob(cmd, app, queue.JobProcessMediaItem, []string{strconv.FormatInt(id, 10)})
				}
				out, err := app.Media.ProcessMediaItem(cmd.Context(), id)
				if err != nil {
					return err
				}
				status := string(out.Status)
				if status == "" {
					status = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "status: %s, reason: %s, clips created: %d\n", status, out.Reason, out.ClipsCreated)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "queue", false, "Queue a processing job instead of running inline")
	return cmd
}

func requeueCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Queue processing for every pending or failed media item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				n, err := app.Requeue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued: %d\n", n)
				return nil
			})
		},
	}
}

func reconcileCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reset items stuck in processing longer than the stale window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				n, err := app.Media.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset: %d\n", n)
				return nil
			})
		},
	}
}

func workerCmd(s *state) *cobra.Command {
	var sweepEvery time.Duration
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				return app.RunWorker(cmd.Context(), sweepEvery)
			})
		},
	}
	cmd.Flags().DurationVar(&sweepEvery, "sweep-every", 0, "Stale-processing sweep interval (default a quarter of the stale window)")
	return cmd
}

func libraryCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Enable or disable a library for scanning",
	}
	toggle := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <libraryID>",
			Short: use + " a library",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("library", args[0])
				if err != nil {
					return err
				}
				return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
					if err := app.SetLibraryEnabled(cmd.Context(), id, enabled); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "library %d enabled: %t\n", id, enabled)
					return nil
				})
			},
		}
	}
	cmd.AddCommand(toggle("enable", true), toggle("disable", false))
	return cmd
}

func jobCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "job <jobID>",
		Short: "Show one queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				j, err := app.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if j == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				return printJSON(cmd.OutOrStdout(), j)
			})
		},
	}
}

func deactivateCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <clipID>",
		Short: "Take a clip out of feeds; its item is refilled on the next scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(cmd, pipeline.Options{}, func(app *pipeline.App) error {
				ok, err := app.DB.DeactivateClip(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("clip %s not found or already inactive", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "clip %s deactivated\n", args[0])
				return nil
			})
		},
	}
}

func enqueueJob(cmd *cobra.Command, app *pipeline.App, name string, args []string) error {
	id, err := app.Queue.Enqueue(cmd.Context(), name, args, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s job %s\n", name, id)
	return nil
}
