package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forPelevin/hlfeed/internal/queue"
	"github.com/forPelevin/hlfeed/internal/types"
)

type DiscoverResult struct {
	Found   int
	Created int
}

// DiscoverLibraries mirrors catalog libraries into the store. New libraries
// whose title marks them as 4K/UHD are created disabled.
func (u *Usecase) DiscoverLibraries(ctx context.Context) (DiscoverResult, error) {
	ctx, span := u.tel.tracer.Start(ctx, "DiscoverLibraries")
	defer span.End()

	libs, err := u.d.Catalog.Libraries(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "catalog failed")
		return DiscoverResult{}, fmt.Errorf("list catalog libraries: %w", err)
	}
	var res DiscoverResult
	for i := range libs {
		l := &libs[i]
		l.Enabled = !isUHD(l.Title)
		created, err := u.d.Store.UpsertLibrary(ctx, l)
		if err != nil {
			return res, err
		}
		res.Found++
		if created {
			res.Created++
			u.log.Info("Library discovered", "library_id", l.ID, "title", l.Title, "type", l.Type, "enabled", l.Enabled)
		}
	}
	span.SetAttributes(attribute.Int("libraries.found", res.Found), attribute.Int("libraries.created", res.Created))
	return res, nil
}

func isUHD(title string) bool {
	t := strings.ToUpper(title)
	for _, tag := range []string{"4K", "UHD", "2160"} {
		if strings.Contains(t, tag) {
			return true
		}
	}
	return false
}

type ScanResult struct {
	Items  int
	New    int
	Queued int
	Reset  int64
}

// ScanLibrary syncs one library's items from the catalog and queues every
// item that needs work: new, pending, failed, or completed with fewer live
// clips than its quota. Stale processing rows are reconciled first. All
// item rows are written before the first job is enqueued.
func (u *Usecase) ScanLibrary(ctx context.Context, libraryID int64) (ScanResult, error) {
	ctx, span := u.tel.tracer.Start(ctx, "ScanLibrary", trace.WithAttributes(attribute.Int64("library.id", libraryID)))
	defer span.End()

	res, err := u.scan(ctx, libraryID)
	span.SetAttributes(
		attribute.Int("scan.items", res.Items),
		attribute.Int("scan.new", res.New),
		attribute.Int("scan.queued", res.Queued),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
	}
	return res, err
}

func (u *Usecase) scan(ctx context.Context, libraryID int64) (ScanResult, error) {
	var res ScanResult
	lib, err := u.d.Store.GetLibrary(ctx, libraryID)
	if err != nil {
		return res, err
	}
	if lib == nil {
		return res, fmt.Errorf("library %d not found", libraryID)
	}
	log := u.log.With("library_id", lib.ID, "library", lib.Title)
	if !lib.Enabled {
		log.Info("Library disabled, skipping scan")
		return res, nil
	}

	if res.Reset, err = u.Reconcile(ctx); err != nil {
		return res, err
	}

	items, err := u.d.Catalog.Items(ctx, *lib)
	if err != nil {
		return res, fmt.Errorf("list items of library %s: %w", lib.Key, err)
	}
	res.Items = len(items)

	var toQueue []int64
	for i := range items {
		m := &items[i]
		m.LibraryID = lib.ID
		created, err := u.d.Store.UpsertMediaItem(ctx, m)
		if err != nil {
			return res, err
		}
		requeue, err := u.needsWork(ctx, m, created)
		if err != nil {
			return res, err
		}
		if created {
			res.New++
		}
		if requeue {
			toQueue = append(toQueue, m.ID)
		}
	}

	for _, id := range toQueue {
		if _, err := u.d.Queue.Enqueue(ctx, queue.JobProcessMediaItem, []string{strconv.FormatInt(id, 10)}, 0); err != nil {
			return res, fmt.Errorf("enqueue media item %d: %w", id, err)
		}
		res.Queued++
	}
	u.tel.itemsQueued.Add(ctx, int64(res.Queued))

	if err := u.RefreshProgress(ctx, lib.ID); err != nil {
		return res, err
	}
	log.Info("Library scanned", "items", res.Items, "new", res.New, "queued", res.Queued, "reset", res.Reset)
	return res, nil
}

// needsWork decides whether a synced item should be queued. Completed items
// that lost clips are moved back to pending.
func (u *Usecase) needsWork(ctx context.Context, m *types.MediaItem, created bool) (bool, error) {
	if created {
		return true, nil
	}
	switch m.Status {
	case types.StatusPending, types.StatusFailed:
		return true, nil
	case types.StatusCompleted:
		n, err := u.d.Store.CountActiveClips(ctx, m.RatingKey)
		if err != nil {
			return false, err
		}
		if n >= u.cfg.Clips.Quota(m.Type == types.MediaEpisode) {
			return false, nil
		}
		if err := u.d.Store.SetMediaStatus(ctx, m.ID, types.StatusPending, nil); err != nil {
			return false, err
		}
		m.Status = types.StatusPending
		u.log.Info("Completed item below quota, requeueing", "media_key", m.RatingKey, "clips", n)
		return true, nil
	}
	return false, nil
}

// ScanAll scans every enabled library.
func (u *Usecase) ScanAll(ctx context.Context) (ScanResult, error) {
	libs, err := u.d.Store.ListLibraries(ctx, true)
	if err != nil {
		return ScanResult{}, err
	}
	var total ScanResult
	for _, l := range libs {
		r, err := u.ScanLibrary(ctx, l.ID)
		total.Items += r.Items
		total.New += r.New
		total.Queued += r.Queued
		total.Reset += r.Reset
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Reconcile moves items stuck in processing past the staleness window, or
// with no recorded start, back to pending.
func (u *Usecase) Reconcile(ctx context.Context) (int64, error) {
	cutoff := u.d.Now().Add(-u.cfg.Processing.StaleWindow)
	n, err := u.d.Store.ResetStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reconcile stale items: %w", err)
	}
	if n > 0 {
		u.log.Warn("Reset stale processing items", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// RefreshProgress recomputes a library's counters from its items.
func (u *Usecase) RefreshProgress(ctx context.Context, libraryID int64) error {
	total, completed, err := u.d.Store.LibraryCounts(ctx, libraryID)
	if err != nil {
		return err
	}
	now := u.d.Now()
	return u.d.Store.UpdateLibraryProgress(ctx, libraryID, total, completed, &now)
}
