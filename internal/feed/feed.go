// Package feed turns the remote favourites and bookmarks collections into
// the cached, render-ready article feed, fetching only items newer than the
// previously seen cursors.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fedifaves/internal/masto"
	"fedifaves/internal/state"
)

// FreshnessWindow bounds the request rate: a refresh within this window of
// the previous fetch performs no remote calls. Rate limiting, not
// correctness.
const FreshnessWindow = 5 * time.Minute

// PageLimit is the page size for the first fetch of a collection, before
// any cursor exists.
const PageLimit = 40

// Source is the slice of the remote client the engine needs.
// *masto.Client satisfies it; tests use a stub.
type Source interface {
	Favourites(ctx context.Context, instance, accessToken, minID string, limit int) (masto.Page, error)
	Bookmarks(ctx context.Context, instance, accessToken, minID string, limit int) (masto.Page, error)
}

// Engine fetches and merges incrementally.
type Engine struct {
	source Source
	now    func() time.Time
}

// New creates an Engine reading from source.
func New(source Source) *Engine {
	return &Engine{source: source, now: time.Now}
}

// NewWithNow creates an Engine with an injected wall clock, for tests.
func NewWithNow(source Source, now func() time.Time) *Engine {
	return &Engine{source: source, now: now}
}

// Refresh fetches items newer than prev's cursors and merges them in front
// of the previously cached posts.
//
// Returns (cache, updated, err):
//   - inside the freshness window: (prev unchanged, false, nil)
//   - on any remote error: (prev unchanged, false, wrapped error) - never a
//     half-updated cache
//   - otherwise: (merged cache, true, nil)
//
// A nil prev means no cache exists yet.
func (e *Engine) Refresh(ctx context.Context, instance, accessToken string, prev *state.ArticleCache) (state.ArticleCache, bool, error) {
	if prev == nil {
		prev = &state.ArticleCache{}
	}

	if !prev.LastFetchedAt.IsZero() && e.now().Sub(prev.LastFetchedAt) < FreshnessWindow {
		slog.Debug("cache fresh, skipping fetch",
			"last_fetched_at", prev.LastFetchedAt,
			"window", FreshnessWindow,
		)
		return *prev, false, nil
	}

	faves, err := e.source.Favourites(ctx, instance, accessToken, prev.FavoriteCursor, PageLimit)
	if err != nil {
		return *prev, false, fmt.Errorf("refresh favourites: %w", err)
	}
	bookmarks, err := e.source.Bookmarks(ctx, instance, accessToken, prev.BookmarkCursor, PageLimit)
	if err != nil {
		return *prev, false, fmt.Errorf("refresh bookmarks: %w", err)
	}

	fresh := ProcessStatuses(append(faves.Statuses, bookmarks.Statuses...))

	merged := make([]state.Post, 0, len(fresh)+len(prev.Posts))
	merged = append(merged, fresh...)
	merged = append(merged, prev.Posts...)
	// Full re-sort after merge: the two source collections can interleave
	// arbitrarily, so pre-sortedness of either side is not assumed.
	state.SortPosts(merged)

	next := state.ArticleCache{
		// Cursors advance monotonically; without pagination info from the
		// remote the previous cursor stands.
		FavoriteCursor: state.MaxID(prev.FavoriteCursor, faves.NextMinID),
		BookmarkCursor: state.MaxID(prev.BookmarkCursor, bookmarks.NextMinID),
		Posts:          merged,
		LastFetchedAt:  e.now(),
	}

	slog.Info("feed refreshed",
		"new_posts", len(fresh),
		"total_posts", len(merged),
		"favorite_cursor", next.FavoriteCursor,
		"bookmark_cursor", next.BookmarkCursor,
	)
	return next, true, nil
}

// ProcessStatuses converts raw statuses into render-ready posts.
// Statuses without a link-preview card carry nothing to render and are
// dropped entirely.
func ProcessStatuses(statuses []masto.Status) []state.Post {
	posts := make([]state.Post, 0, len(statuses))
	for _, st := range statuses {
		if st.Card == nil {
			continue
		}
		post := state.Post{
			ID:               st.ID,
			Date:             st.CreatedAt,
			Account:          st.Account.Acct,
			DisplayName:      st.Account.DisplayName,
			StatusURL:        st.URL,
			Title:            st.Card.Title,
			Description:      st.Card.Description,
			URL:              st.Card.URL,
			CardImageURL:     st.Card.Image,
			InteractionCount: st.RepliesCount + st.ReblogsCount + st.FavouritesCount,
			IsFavorite:       st.Favourited,
			IsBookmark:       st.Bookmarked,
		}
		if len(st.MediaAttachments) > 0 {
			post.ImageURL = st.MediaAttachments[0].PreviewURL
		}
		posts = append(posts, post)
	}
	return posts
}
