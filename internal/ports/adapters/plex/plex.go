package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/types"
)

const (
	requestTimeout = 30 * time.Second
	// Plex metadata type for episodes, used to flatten show libraries.
	episodeType = "4"
)

// Adapter reads libraries and items from a Plex Media Server.
type Adapter struct {
	baseURL    string
	token      string
	serverID   string
	serverName string
	client     *http.Client
}

func New(cfg config.Plex, token string) *Adapter {
	return &Adapter{
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		token:      token,
		serverID:   cfg.ServerID,
		serverName: cfg.ServerName,
		client:     &http.Client{Timeout: 2 * time.Minute},
	}
}

type tag struct {
	Tag string `json:"tag"`
}

type directory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type metadata struct {
	RatingKey        string `json:"ratingKey"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	GrandparentTitle string `json:"grandparentTitle"`
	ParentIndex      int    `json:"parentIndex"`
	Index            int    `json:"index"`
	Year             int    `json:"year"`
	Duration         int64  `json:"duration"`
	Thumb            string `json:"thumb"`
	ContentRating    string `json:"contentRating"`
	Genre            []tag  `json:"Genre"`
	Role             []tag  `json:"Role"`
	Director         []tag  `json:"Director"`
	Media            []struct {
		Part []struct {
			File string `json:"file"`
		} `json:"Part"`
	} `json:"Media"`
}

type container struct {
	MediaContainer struct {
		Directory []directory `json:"Directory"`
		Metadata  []metadata  `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Libraries lists movie and show sections. Music and photo sections are
// skipped.
func (a *Adapter) Libraries(ctx context.Context) ([]types.Library, error) {
	var c container
	if err := a.get(ctx, "/library/sections", nil, &c); err != nil {
		return nil, err
	}
	var out []types.Library
	for _, d := range c.MediaContainer.Directory {
		if d.Type != "movie" && d.Type != "show" {
			continue
		}
		out = append(out, types.Library{
			ServerID:   a.serverID,
			ServerName: a.serverName,
			Key:        d.Key,
			Title:      d.Title,
			Type:       d.Type,
		})
	}
	return out, nil
}

// Items lists every playable item of a library. Show libraries are listed
// at episode level.
func (a *Adapter) Items(ctx context.Context, lib types.Library) ([]types.MediaItem, error) {
	q := url.Values{}
	if lib.Type == "show" {
		q.Set("type", episodeType)
	}
	var c container
	if err := a.get(ctx, "/library/sections/"+url.PathEscape(lib.Key)+"/all", q, &c); err != nil {
		return nil, err
	}
	out := make([]types.MediaItem, 0, len(c.MediaContainer.Metadata))
	for _, m := range c.MediaContainer.Metadata {
		item, ok := toMediaItem(m)
		if !ok {
			continue
		}
		item.LibraryID = lib.ID
		out = append(out, item)
	}
	return out, nil
}

func toMediaItem(m metadata) (types.MediaItem, bool) {
	var file string
	for _, media := range m.Media {
		for _, p := range media.Part {
			if p.File != "" {
				file = p.File
				break
			}
		}
		if file != "" {
			break
		}
	}
	if m.RatingKey == "" || file == "" {
		return types.MediaItem{}, false
	}
	item := types.MediaItem{
		RatingKey:  m.RatingKey,
		Title:      m.Title,
		Type:       types.MediaMovie,
		Year:       m.Year,
		Genres:     tags(m.Genre),
		Actors:     tags(m.Role),
		DurationMs: m.Duration,
		PosterURL:  m.Thumb,
		Rating:     m.ContentRating,
		FilePath:   file,
	}
	if len(m.Director) > 0 {
		item.Director = m.Director[0].Tag
	}
	if m.Type == "episode" {
		item.Type = types.MediaEpisode
		item.ShowTitle = m.GrandparentTitle
		item.Season = m.ParentIndex
		item.Episode = m.Index
	}
	return item, true
}

func tags(ts []tag) []string {
	if len(ts) == 0 {
		return nil
	}
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		if s := strings.TrimSpace(t.Tag); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values, dst any) error {
	u := a.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("X-Plex-Token", a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("plex timeout after %s (%s)", requestTimeout, path)
		}
		return fmt.Errorf("plex %s: %s", path, redactSecrets(err.Error(), a.token))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("plex status %d and read body failed: %v", resp.StatusCode, readErr)
		}
		return fmt.Errorf("plex status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.token), 400))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode plex %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var tokenParamRE = regexp.MustCompile(`(?i)(x-plex-token\s*[:=]\s*)([^\s&"',;]+)`)

func redactSecrets(s, token string) string {
	if s == "" {
		return s
	}
	out := s
	if token != "" {
		out = strings.ReplaceAll(out, token, "[REDACTED]")
	}
	return tokenParamRE.ReplaceAllString(out, "${1}[REDACTED]")
}
