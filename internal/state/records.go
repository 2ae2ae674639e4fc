package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Slot names the four independently persisted entries of the store.
type Slot string

const (
	// SlotRegistration holds the OAuth client registered with the instance.
	SlotRegistration Slot = "app_registration"
	// SlotAuthCode holds the authorization code captured from the callback.
	SlotAuthCode Slot = "auth_code"
	// SlotAccessToken holds the access token from the code exchange.
	SlotAccessToken Slot = "access_token"
	// SlotArticleCache holds the merged favourites/bookmarks feed.
	SlotArticleCache Slot = "article_cache"
)

// Slots lists every slot, in a fixed order.
var Slots = []Slot{SlotRegistration, SlotAuthCode, SlotAccessToken, SlotArticleCache}

// AppRegistration is the OAuth client for exactly one instance.
// Immutable once written; replaced wholesale by a new authorize flow.
// ClientID and ClientSecret are obscured via the secret codec.
type AppRegistration struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Instance     string `json:"instance"`
}

// Validate checks the record at the store boundary.
func (r AppRegistration) Validate() error {
	if r.ClientID == "" || r.ClientSecret == "" {
		return errors.New("app registration missing client credentials")
	}
	if r.Instance == "" {
		return errors.New("app registration missing instance hostname")
	}
	return nil
}

// AuthorizationCode is the write-once code captured from the auth callback.
// Code is obscured via the secret codec.
type AuthorizationCode struct {
	Code string `json:"code"`
}

func (c AuthorizationCode) Validate() error {
	if c.Code == "" {
		return errors.New("authorization code is empty")
	}
	return nil
}

// AccessToken is the write-once token from the code exchange.
// Token is obscured via the secret codec.
type AccessToken struct {
	Token string `json:"token"`
}

func (t AccessToken) Validate() error {
	if t.Token == "" {
		return errors.New("access token is empty")
	}
	return nil
}

// Post is a processed, render-ready entry of the feed.
type Post struct {
	ID               string    `json:"id"`
	Date             time.Time `json:"date"`
	Account          string    `json:"account"`
	DisplayName      string    `json:"display_name"`
	StatusURL        string    `json:"status_url"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	URL              string    `json:"url"`
	ImageURL         string    `json:"image_url,omitempty"`
	CardImageURL     string    `json:"card_image_url,omitempty"`
	InteractionCount int       `json:"interaction_count"`
	IsFavorite       bool      `json:"is_favorite"`
	IsBookmark       bool      `json:"is_bookmark"`
}

// ArticleCache is the merged feed plus the pagination cursors.
//
// INVARIANTS:
//   - Posts is sorted by Date descending after every update.
//   - Cursors only move toward more recent ids, never backward.
type ArticleCache struct {
	FavoriteCursor string    `json:"favorite_cursor,omitempty"`
	BookmarkCursor string    `json:"bookmark_cursor,omitempty"`
	Posts          []Post    `json:"posts"`
	LastFetchedAt  time.Time `json:"last_fetched_at"`
}

func (c ArticleCache) Validate() error {
	for i := 1; i < len(c.Posts); i++ {
		if c.Posts[i].Date.After(c.Posts[i-1].Date) {
			return fmt.Errorf("posts out of order at index %d", i)
		}
	}
	return nil
}

// SortPosts restores the date-descending invariant in place.
func SortPosts(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Date.After(posts[j].Date)
	})
}

// NormalizeInstance canonicalizes a user-supplied instance hostname:
// NFC normalization, lowercasing, and stripping of whitespace, scheme,
// and trailing slashes. Returns "" for input that leaves no hostname.
func NormalizeInstance(input string) string {
	s := norm.NFC.String(strings.TrimSpace(input))
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimRight(s, "/")
	return s
}

// CompareID orders Mastodon status ids. They are decimal strings, so a
// longer id is always larger; equal lengths compare lexicographically.
// Returns -1, 0, or 1.
func CompareID(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// MaxID returns the more recent of two status ids, treating "" as the
// absence of a boundary.
func MaxID(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if CompareID(a, b) >= 0 {
		return a
	}
	return b
}
