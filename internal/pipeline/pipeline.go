// Package pipeline wires the store, queue, adapters and services from one
// Config. Commands open an App, use it, and Close it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/database"
	"github.com/forPelevin/hlfeed/internal/domain/recommend"
	"github.com/forPelevin/hlfeed/internal/logger"
	"github.com/forPelevin/hlfeed/internal/ports"
	"github.com/forPelevin/hlfeed/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/hlfeed/internal/ports/adapters/plex"
	"github.com/forPelevin/hlfeed/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/hlfeed/internal/queue"
	"github.com/forPelevin/hlfeed/internal/quotes"
	"github.com/forPelevin/hlfeed/internal/types"
	"github.com/forPelevin/hlfeed/internal/usecase"
)

type Options struct {
	// FeedSeed makes feeds repeatable when non-zero.
	FeedSeed uint64
	Now      func() time.Time
}

type App struct {
	Config config.Config
	Log    *logger.Logger
	DB     *database.DB
	Queue  queue.Queue
	Media  *usecase.Usecase
	Feed   *recommend.Engine

	rdb *goredis.Client
}

func Open(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := plex.ValidateBaseURL(cfg.Plex.BaseURL); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	book, err := quotes.Load(cfg.Clips.QuotesPath)
	if err != nil {
		return nil, fmt.Errorf("load quotes: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app := &App{Config: cfg, Log: log, DB: db}

	switch cfg.Queue.Backend {
	case "redis":
		rdb, err := queue.DialRedis(ctx, cfg.Queue.RedisAddr)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		app.rdb = rdb
		app.Queue = queue.NewRedis(rdb, cfg.Queue.RedisPrefix, cfg.Queue.Lease)
	default:
		app.Queue = queue.NewSQLite(db, cfg.Queue.Lease)
	}

	ff := ffmpeg.New(cfg.Tools, cfg.Clips.SceneThreshold, log)
	var asr ports.ASR
	if cfg.ASR.Enabled {
		asr = whispercpp.New(cfg.ASR.WhisperBin, cfg.ASR.WhisperModel)
	}
	app.Media = usecase.New(cfg, usecase.Deps{
		Store:   db,
		Signals: ff,
		Video:   ff,
		ASR:     asr,
		Catalog: plex.New(cfg.Plex, cfg.PlexToken()),
		Queue:   app.Queue,
		Quotes:  book,
		Log:     log,
		Now:     opts.Now,
	})

	var feedOpts []recommend.Option
	if opts.FeedSeed != 0 {
		feedOpts = append(feedOpts, recommend.WithSeed(opts.FeedSeed))
	}
	if opts.Now != nil {
		feedOpts = append(feedOpts, recommend.WithClock(opts.Now))
	}
	app.Feed = recommend.New(cfg.Feed, db, log, feedOpts...)

	log.Debug("App opened", "db", db.Path(), "queue", cfg.Queue.Backend, "quotes", book.Len(), "asr", cfg.ASR.Enabled)
	return app, nil
}

func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}

// Registry binds every job name to its handler.
func (a *App) Registry() *queue.Registry {
	r := queue.NewRegistry()
	r.Register(queue.JobProcessMediaItem, a.handleProcess)
	r.Register(queue.JobScanLibrary, a.handleScan)
	r.Register(queue.JobDiscoverLibraries, a.handleDiscover)
	return r
}

func (a *App) Worker() *queue.Worker {
	return queue.NewWorker(a.Queue, a.Registry(), queue.WorkerConfig{
		Concurrency:  a.Config.Queue.Concurrency,
		PollInterval: a.Config.Queue.PollInterval,
		MaxRetries:   a.Config.Processing.MaxRetries,
		RetryBackoff: a.Config.Processing.RetryBackoff,
		Heartbeat:    a.Config.Queue.Lease / 3,
	}, a.Log)
}

// RunWorker consumes jobs and runs the stale-processing sweep until ctx is
// cancelled. The sweep runs once immediately, then every interval.
func (a *App) RunWorker(ctx context.Context, sweepEvery time.Duration) error {
	if sweepEvery <= 0 {
		sweepEvery = a.Config.Processing.StaleWindow / 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Worker().Run(ctx) })
	g.Go(func() error { return a.sweep(ctx, sweepEvery) })
	return g.Wait()
}

func (a *App) sweep(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if _, err := a.Media.Reconcile(ctx); err != nil && ctx.Err() == nil {
			a.Log.Warn("Reconcile sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (a *App) handleProcess(ctx context.Context, args []string) error {
	id, err := intArg(args)
	if err != nil {
		return fmt.Errorf("%s: %w", queue.JobProcessMediaItem, err)
	}
	out, err := a.Media.ProcessMediaItem(ctx, id)
	if err != nil {
		return err
	}
	a.Log.Info("Processed media item", "media_id", id, "status", out.Status, "reason", out.Reason, "clips_created", out.ClipsCreated)
	return nil
}

// handleScan scans one library, or every enabled library when no id is given.
func (a *App) handleScan(ctx context.Context, args []string) error {
	var (
		res usecase.ScanResult
		err error
	)
	if len(args) == 0 {
		res, err = a.Media.ScanAll(ctx)
	} else {
		id, perr := intArg(args)
		if perr != nil {
			return fmt.Errorf("%s: %w", queue.JobScanLibrary, perr)
		}
		res, err = a.Media.ScanLibrary(ctx, id)
	}
	if err != nil {
		return err
	}
	a.Log.Info("Scan finished", "items", res.Items, "new", res.New, "queued", res.Queued, "reset", res.Reset)
	return nil
}

// handleDiscover syncs the library list, then queues a scan per enabled
// library.
func (a *App) handleDiscover(ctx context.Context, _ []string) error {
	res, err := a.Media.DiscoverLibraries(ctx)
	if err != nil {
		return err
	}
	libs, err := a.DB.ListLibraries(ctx, true)
	if err != nil {
		return fmt.Errorf("list libraries: %w", err)
	}
	for _, l := range libs {
		if _, err := a.Queue.Enqueue(ctx, queue.JobScanLibrary, []string{strconv.FormatInt(l.ID, 10)}, 0); err != nil {
			return fmt.Errorf("queue scan of library %d: %w", l.ID, err)
		}
	}
	a.Log.Info("Libraries discovered", "found", res.Found, "created", res.Created, "scans_queued", len(libs))
	return nil
}

func intArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("want 1 argument, got %d", len(args))
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id %q: %w", args[0], err)
	}
	return id, nil
}

// Status is a point-in-time summary for operators.
type Status struct {
	SchemaVersion int
	Queue         string
	Libraries     []types.Library
	Media         map[types.ProcessingStatus]int
	Jobs          map[types.JobStatus]int
	ClipsTotal    int
	ClipsActive   int
}

func (a *App) Status(ctx context.Context) (Status, error) {
	s := Status{Queue: a.Config.Queue.Backend}
	var err error
	if s.SchemaVersion, err = a.DB.SchemaVersion(); err != nil {
		return s, fmt.Errorf("schema version: %w", err)
	}
	if s.Libraries, err = a.DB.ListLibraries(ctx, false); err != nil {
		return s, fmt.Errorf("list libraries: %w", err)
	}
	if s.Media, err = a.DB.CountMediaByStatus(ctx); err != nil {
		return s, fmt.Errorf("count media: %w", err)
	}
	if a.rdb == nil {
		if s.Jobs, err = a.DB.CountJobsByStatus(ctx); err != nil {
			return s, fmt.Errorf("count jobs: %w", err)
		}
	}
	if s.ClipsTotal, s.ClipsActive, err = a.DB.CountClips(ctx); err != nil {
		return s, fmt.Errorf("count clips: %w", err)
	}
	return s, nil
}

var (
	_ ports.SignalSource = (*ffmpeg.Adapter)(nil)
	_ ports.VideoTool    = (*ffmpeg.Adapter)(nil)
	_ ports.ASR          = (*whispercpp.Adapter)(nil)
	_ ports.Catalog      = (*plex.Adapter)(nil)
	_ ports.MediaStore   = (*database.DB)(nil)
	_ ports.FeedStore    = (*database.DB)(nil)
	_ ports.TaskQueue    = (queue.Queue)(nil)
)

// Requeue queues a process job for every pending or failed item. Used to
// recover work after a queue backend is wiped or switched.
func (a *App) Requeue(ctx context.Context) (int, error) {
	n := 0
	for _, st := range []types.ProcessingStatus{types.StatusPending, types.StatusFailed} {
		items, err := a.DB.ListMediaItemsByStatus(ctx, st)
		if err != nil {
			return n, fmt.Errorf("list %s items: %w", st, err)
		}
		for _, m := range items {
			if _, err := a.Queue.Enqueue(ctx, queue.JobProcessMediaItem, []string{strconv.FormatInt(m.ID, 10)}, 0); err != nil {
				return n, fmt.Errorf("queue item %d: %w", m.ID, err)
			}
			n++
		}
	}
	return n, nil
}

func (a *App) SetLibraryEnabled(ctx context.Context, id int64, enabled bool) error {
	l, err := a.DB.GetLibrary(ctx, id)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("library %d not found", id)
	}
	return a.DB.SetLibraryEnabled(ctx, id, enabled)
}

// Job looks up a queued job. Only the SQLite backend keeps job rows.
func (a *App) Job(ctx context.Context, id string) (*types.Job, error) {
	if a.rdb != nil {
		return nil, errors.New("job lookup needs the sqlite queue backend")
	}
	return a.DB.GetJob(ctx, id)
}
