package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/hlfeed/internal/database"
	"github.com/forPelevin/hlfeed/internal/types"
)

type fixture struct {
	dir    string
	config string
	dbPath string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{dir: dir, config: filepath.Join(dir, "config.yaml"), dbPath: filepath.Join(dir, "hlfeed.db")}
	yaml := "database:\n  path: " + f.dbPath + "\n" +
		"clips:\n  storage_path: " + filepath.Join(dir, "clips") + "\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(f.config, []byte(yaml), 0o644))
	return f
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", f.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (f fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(f.dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.UpsertMediaItem(ctx, &types.MediaItem{RatingKey: "10", Title: "Heat", Type: types.MediaMovie, Genres: []string{"Crime"}})
	require.NoError(t, err)
	for _, c := range []types.Clip{
		{ID: "c1", MediaKey: "10", Title: "Heat"},
		{ID: "c2", MediaKey: "20", Title: "Alien"},
		{ID: "c3", MediaKey: "30", Title: "Fargo"},
	} {
		c.StartMs, c.EndMs, c.DurationMs = 0, 10000, 10000
		c.FilePath = "/clips/" + c.ID + ".mp4"
		c.Active = true
		require.NoError(t, db.InsertClip(ctx, &c))
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", "/nonexistent/config.yaml", "version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "hlfeed dev\n", out.String())
}

func TestMissingConfigFile(t *testing.T) {
	f := newFixture(t)
	f.config = filepath.Join(f.dir, "nope.yaml")
	_, err := f.run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestInitAndStatus(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "schema v")
	assert.DirExists(t, filepath.Join(f.dir, "clips"))

	out, err = f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0 active / 0 total")
	assert.Contains(t, out, "LIBRARY")
}

func TestArgumentValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"process needs id", []string{"process"}, "accepts 1 arg(s), received 0"},
		{"process bad id", []string{"process", "abc"}, `invalid media item id "abc"`},
		{"scan bad id", []string{"scan", "0"}, `invalid library id "0"`},
		{"unknown flag", []string{"status", "--wat"}, "unknown flag: --wat"},
		{"feed limit", []string{"feed", "u1", "--limit", "0"}, "--limit must be > 0"},
		{"bad action", []string{"interact", "u1", "c1", "love"}, "invalid action"},
		{"taste needs keys", []string{"taste", "u1"}, "requires at least 2 arg(s)"},
		{"unknown clip", []string{"deactivate", "nope"}, "not found"},
		{"unknown library", []string{"library", "enable", "9"}, "library 9 not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeedFlow(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "init")
	require.NoError(t, err)
	f.seed(t)

	out, err := f.run(t, "feed", "u1")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out), "unknown users get an empty feed")

	out, err = f.run(t, "taste", "u1", "10", "404")
	require.NoError(t, err)
	assert.Contains(t, out, "saved 1 of 2 selections")

	out, err = f.run(t, "feed", "u1", "--limit", "5", "--seed", "3", "--exclude", "c3")
	require.NoError(t, err)
	var clips []types.Clip
	require.NoError(t, json.Unmarshal([]byte(out), &clips))
	got := make([]string, len(clips))
	for i, c := range clips {
		got[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, got)

	_, err = f.run(t, "interact", "u1", "c1", "like")
	require.NoError(t, err)

	out, err = f.run(t, "profile", "u1")
	require.NoError(t, err)
	var p struct {
		Exists       bool               `json:"exists"`
		Interactions int                `json:"interaction_count"`
		Counts       map[string]int     `json:"action_counts"`
		Weights      map[string]float64 `json:"genre_weights"`
		TasteKeys    []string           `json:"taste_media_keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.True(t, p.Exists)
	assert.Equal(t, 1, p.Interactions)
	assert.Equal(t, 1, p.Counts["like"])
	assert.Equal(t, []string{"10"}, p.TasteKeys)
	assert.InDelta(t, 1.0, p.Weights["Crime"], 1e-9)

	out, err = f.run(t, "deactivate", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "deactivated")
}

func TestQueueCommands(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "process", "7", "--queue")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "queued process_media_item job "), out)
	id := strings.TrimSpace(strings.TrimPrefix(out, "queued process_media_item job "))

	out, err = f.run(t, "job", id)
	require.NoError(t, err)
	var j types.Job
	require.NoError(t, json.Unmarshal([]byte(out), &j))
	assert.Equal(t, "process_media_item", j.Name)
	assert.Equal(t, []string{"7"}, j.Args)
	assert.Equal(t, types.JobQueued, j.Status)

	out, err = f.run(t, "requeue")
	require.NoError(t, err)
	assert.Equal(t, "queued: 0\n", out)

	out, err = f.run(t, "reconcile")
	require.NoError(t, err)
	assert.Equal(t, "reset: 0\n", out)
}
