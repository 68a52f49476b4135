package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/queue"
	"github.com/forPelevin/hlfeed/internal/types"
)

const tokenEnv = "HLFEED_TEST_PLEX_TOKEN"

func plexServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/library/sections":
			w.Write([]byte(`{"MediaContainer":{"Directory":[
 {"key":"1","title":"Movies","type":"movie"},
 {"key":"2","title":"Movies 4K","type":"movie"},
 {"key":"3","title":"TV","type":"show"}]}}`))
		case "/library/sections/1/all":
			w.Write([]byte(`{"MediaContainer":{"Metadata":[
 {"ratingKey":"100","type":"movie","title":"Heat","year":1995,"Genre":[{"tag":"Crime"}],
  "Media":[{"Part":[{"file":"/nonexistent/heat.mkv"}]}]}]}}`))
		case "/library/sections/3/all":
			w.Write([]byte(`{"MediaContainer":{"Metadata":[
 {"ratingKey":"200","type":"episode","title":"Pilot","grandparentTitle":"Lost","parentIndex":1,"index":1,
  "Media":[{"Part":[{"file":"/nonexistent/lost-s01e01.mkv"}]}]}]}}`))
		default:
			t.Errorf("unexpected request %s", r.URL)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "hlfeed.db")
	cfg.Clips.StoragePath = filepath.Join(dir, "clips")
	cfg.Plex.TokenEnv = tokenEnv
	cfg.Queue.PollInterval = 10 * time.Millisecond
	t.Setenv(tokenEnv, "tok")
	return cfg
}

func openApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Open(context.Background(), cfg, nil, Options{FeedSeed: 1})
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func drain(t *testing.T, w *queue.Worker) int {
	t.Helper()
	n := 0
	for ; n < 50; n++ {
		handled, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		if !handled {
			return n
		}
	}
	t.Fatalf("queue did not drain")
	return n
}

func TestOpenRejectsBadPlexURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plex.BaseURL = "https://user:pw@plex.local"
	_, err := Open(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "userinfo is not allowed")
}

func TestOpenRejectsMissingQuotes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Clips.QuotesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Open(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
}

func TestDiscoverScanProcessFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Plex.BaseURL = plexServer(t).URL
	app := openApp(t, cfg)

	_, err := app.Queue.Enqueue(ctx, queue.JobDiscoverLibraries, nil, 0)
	require.NoError(t, err)

	// discover, two scans, two process runs
	assert.Equal(t, 5, drain(t, app.Worker()))

	st, err := app.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Libraries, 3)
	enabled := 0
	for _, l := range st.Libraries {
		if l.Enabled {
			enabled++
		}
	}
	assert.Equal(t, 2, enabled, "4K library starts disabled")
	assert.Equal(t, 2, st.Media[types.StatusPending], "missing files are skipped, not failed")
	assert.Equal(t, 5, st.Jobs[types.JobDone])
	assert.Zero(t, st.Jobs[types.JobQueued])
	assert.Zero(t, st.ClipsTotal)

	ep, err := app.DB.GetMediaItemByKey(ctx, "200")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "Lost", ep.ShowTitle)
}

func TestHandlersRejectBadArgs(t *testing.T) {
	ctx := context.Background()
	app := openApp(t, testConfig(t))

	require.Error(t, app.handleProcess(ctx, nil))
	require.Error(t, app.handleProcess(ctx, []string{"abc"}))
	require.Error(t, app.handleScan(ctx, []string{"1", "2"}))
	require.Error(t, app.handleScan(ctx, []string{"999"}), "unknown library")

	// Processing an unknown item is a skip, not a failure.
	require.NoError(t, app.handleProcess(ctx, []string{"12345"}))
	// Scanning with no libraries is a no-op.
	require.NoError(t, app.handleScan(ctx, nil))
}

func TestRegistryCoversJobNames(t *testing.T) {
	app := openApp(t, testConfig(t))
	r := app.Registry()
	for _, name := range []string{queue.JobProcessMediaItem, queue.JobScanLibrary, queue.JobDiscoverLibraries} {
		_, ok := r.Get(name)
		assert.True(t, ok, name)
	}
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	app := openApp(t, testConfig(t))

	for i, st := range []types.ProcessingStatus{types.StatusPending, types.StatusFailed, types.StatusCompleted, types.StatusPending} {
		m := &types.MediaItem{RatingKey: string(rune('a' + i)), Title: "T", Type: types.MediaMovie}
		_, err := app.DB.UpsertMediaItem(ctx, m)
		require.NoError(t, err)
		if st == types.StatusCompleted || st == types.StatusFailed {
			require.NoError(t, app.DB.FinishMediaItem(ctx, m.ID, st, 0, time.Now()))
		}
	}

	n, err := app.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	st, err := app.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Jobs[types.JobQueued])
}

func TestSetLibraryEnabled(t *testing.T) {
	ctx := context.Background()
	app := openApp(t, testConfig(t))

	require.Error(t, app.SetLibraryEnabled(ctx, 42, true))

	l := &types.Library{ServerID: "s", Key: "1", Title: "Movies", Type: "movie"}
	_, err := app.DB.UpsertLibrary(ctx, l)
	require.NoError(t, err)
	require.NoError(t, app.SetLibraryEnabled(ctx, l.ID, true))

	got, err := app.DB.GetLibrary(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Queue.Backend = "redis"
	cfg.Queue.RedisAddr = mr.Addr()
	app := openApp(t, cfg)

	_, ok := app.Queue.(*queue.Redis)
	require.True(t, ok)

	id, err := app.Queue.Enqueue(ctx, queue.JobProcessMediaItem, []string{"7"}, 0)
	require.NoError(t, err)
	_, err = app.Job(ctx, id)
	require.Error(t, err)

	st, err := app.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Jobs)

	assert.Equal(t, 1, drain(t, app.Worker()))
}

func TestRunWorkerStopsOnCancel(t *testing.T) {
	app := openApp(t, testConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.RunWorker(ctx, 20*time.Millisecond) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
